// Package memory is an in-process Transport used by tests and loopback runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
)

const (
	acceptBacklog = 16
	recvBuffer    = 1024
)

// Network routes Connect calls between endpoints registered on it.
type Network struct {
	mu           sync.Mutex
	endpoints    map[string]*Endpoint
	unresponsive map[string]bool
	offline      bool
	delay        time.Duration
}

func NewNetwork() *Network {
	return &Network{
		endpoints:    make(map[string]*Endpoint),
		unresponsive: make(map[string]bool),
	}
}

// Endpoint registers id on the network.
func (n *Network) Endpoint(id string) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.endpoints[id]; exists {
		return nil, fmt.Errorf("endpoint %s already registered", id)
	}
	ep := &Endpoint{
		id:       id,
		network:  n,
		incoming: make(chan transport.Conn, acceptBacklog),
		conns:    make(map[*conn]struct{}),
	}
	n.endpoints[id] = ep
	return ep, nil
}

// SetOffline makes every Connect fail with ErrNetwork.
func (n *Network) SetOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

// SetUnresponsive makes Connect to id hang until its context expires.
func (n *Network) SetUnresponsive(id string, unresponsive bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unresponsive[id] = unresponsive
}

// SetConnectDelay delays every successful Connect by d.
func (n *Network) SetConnectDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

// Sever closes every channel of id with ErrNetwork, as a dropped link would.
func (n *Network) Sever(id string) {
	n.mu.Lock()
	ep := n.endpoints[id]
	n.mu.Unlock()
	if ep != nil {
		ep.closeConns(transport.ErrNetwork)
	}
}

func (n *Network) lookup(from, to string) (*Endpoint, bool, time.Duration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.offline {
		return nil, false, 0, fmt.Errorf("%w: network offline", transport.ErrNetwork)
	}
	if _, ok := n.endpoints[from]; !ok {
		return nil, false, 0, fmt.Errorf("%w: %s not registered", transport.ErrNetwork, from)
	}
	remote, ok := n.endpoints[to]
	if !ok {
		return nil, false, 0, fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, to)
	}
	return remote, n.unresponsive[to], n.delay, nil
}

func (n *Network) remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, id)
}

type Endpoint struct {
	id       string
	network  *Network
	incoming chan transport.Conn

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
}

func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) Connect(ctx context.Context, peerID string) (transport.Conn, error) {
	remote, unresponsive, delay, err := e.network.lookup(e.id, peerID)
	if err != nil {
		return nil, err
	}

	if unresponsive {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %s: %v", transport.ErrTimeout, peerID, ctx.Err())
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", transport.ErrTimeout, peerID, ctx.Err())
		}
	}

	local, far := newPair(e.id, peerID)
	if err := remote.deliver(far); err != nil {
		return nil, err
	}
	if !e.track(local) {
		_ = local.Close()
		return nil, fmt.Errorf("%w: endpoint closed", transport.ErrNetwork)
	}
	return local, nil
}

func (e *Endpoint) Accept() <-chan transport.Conn {
	return e.incoming
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.incoming)
	e.mu.Unlock()

	e.network.remove(e.id)
	e.closeConns(nil)
	return nil
}

func (e *Endpoint) deliver(c *conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, e.id)
	}
	select {
	case e.incoming <- c:
	default:
		return fmt.Errorf("%w: %s accept backlog full", transport.ErrPeerUnavailable, e.id)
	}
	e.conns[c] = struct{}{}
	return nil
}

func (e *Endpoint) track(c *conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.conns[c] = struct{}{}
	return true
}

func (e *Endpoint) closeConns(err error) {
	e.mu.Lock()
	conns := make([]*conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.conns = make(map[*conn]struct{})
	e.mu.Unlock()

	for _, c := range conns {
		c.pipe.shutdown(err)
	}
}
