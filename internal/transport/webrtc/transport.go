// Package webrtc implements transport.Transport over pion data channels.
//
// Offers and answers travel through a transport.Signaler as JSON-encoded
// session descriptions. ICE is non-trickle: a description is only sent once
// candidate gathering has finished, so one round trip sets up the channel.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	acceptBacklog = 16
	answerTimeout = 15 * time.Second
)

type Transport struct {
	config      webrtc.Configuration
	signaler    transport.Signaler
	log         *logrus.Entry
	connections map[string]*connection
	incoming    chan transport.Conn
	closed      bool
	done        chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
}

// New creates a WebRTC transport and starts serving signals from signaler.
func New(signaler transport.Signaler, stunServers []string, log *logrus.Logger) *Transport {
	if log == nil {
		log = logrus.New()
	}
	t := &Transport{
		config:      ICEConfiguration(stunServers),
		signaler:    signaler,
		log:         log.WithField("component", "webrtc"),
		connections: make(map[string]*connection),
		incoming:    make(chan transport.Conn, acceptBacklog),
		done:        make(chan struct{}),
	}

	t.wg.Add(1)
	go t.serveSignals()
	return t
}

func (t *Transport) Connect(ctx context.Context, peerID string) (transport.Conn, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create peer connection: %v", transport.ErrNetwork, err)
	}

	conn := newConnection(peerID, pc, true, t.log)
	if err := t.register(conn); err != nil {
		_ = pc.Close()
		return nil, err
	}

	conn.log.Debug("Creating data channel as we are the initiator")
	if err := conn.createDataChannel(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	fail := func(err error) (transport.Conn, error) {
		_ = conn.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create offer: %w", err))
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("failed to set local description: %w", err))
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(timeoutError(peerID, ctx.Err()))
	}

	payload, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return fail(fmt.Errorf("failed to encode offer: %w", err))
	}
	if err := t.signaler.SendSignal(ctx, peerID, payload); err != nil {
		if ctx.Err() != nil {
			return fail(timeoutError(peerID, ctx.Err()))
		}
		return fail(fmt.Errorf("failed to send offer: %w", err))
	}

	select {
	case <-conn.opened:
		conn.log.Info("Data channel open")
		return conn, nil
	case err := <-conn.failed:
		return fail(err)
	case <-conn.done:
		select {
		case err := <-conn.failed:
			return fail(err)
		default:
		}
		return fail(fmt.Errorf("%w: connection closed before open", transport.ErrNetwork))
	case <-ctx.Done():
		return fail(timeoutError(peerID, ctx.Err()))
	}
}

func (t *Transport) Accept() <-chan transport.Conn {
	return t.incoming
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conns := make([]*connection, 0, len(t.connections))
	for _, conn := range t.connections {
		conns = append(conns, conn)
	}
	t.connections = make(map[string]*connection)
	close(t.incoming)
	t.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	t.wg.Wait()
	return nil
}

func (t *Transport) serveSignals() {
	defer t.wg.Done()

	signals := t.signaler.RecvSignal()
	for {
		select {
		case <-t.done:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if err := t.HandleSignal(sig); err != nil {
				t.log.WithField("peer", sig.PeerID).Warnf("Failed to handle signal: %v", err)
			}
		}
	}
}

// HandleSignal applies one relayed signal: a routing error, an offer or an
// answer.
func (t *Transport) HandleSignal(sig transport.Signal) error {
	if sig.Err != nil {
		conn := t.lookup(sig.PeerID)
		if conn == nil {
			return nil
		}
		conn.fail(sig.Err)
		return nil
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sig.Payload, &desc); err != nil {
		return fmt.Errorf("failed to decode session description: %w", err)
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := t.answer(sig.PeerID, desc); err != nil {
				t.log.WithField("peer", sig.PeerID).Warnf("Failed to answer offer: %v", err)
			}
		}()
		return nil
	case webrtc.SDPTypeAnswer:
		conn := t.lookup(sig.PeerID)
		if conn == nil || !conn.isInitiator {
			return fmt.Errorf("unexpected answer from %s", sig.PeerID)
		}
		if err := conn.pc.SetRemoteDescription(desc); err != nil {
			conn.fail(fmt.Errorf("%w: failed to set remote description: %v", transport.ErrNetwork, err))
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported session description type %s", desc.Type)
	}
}

func (t *Transport) answer(peerID string, offer webrtc.SessionDescription) error {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(peerID, pc, false, t.log)
	conn.onOpen = t.deliver
	if err := t.register(conn); err != nil {
		_ = pc.Close()
		return err
	}
	conn.log.Info("Waiting for data channel as other peer is the initiator")

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set local description: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
	defer cancel()

	select {
	case <-gathered:
	case <-ctx.Done():
		_ = conn.Close()
		return timeoutError(peerID, ctx.Err())
	case <-t.done:
		_ = conn.Close()
		return transport.ErrChannelClosed
	}

	payload, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to encode answer: %w", err)
	}
	if err := t.signaler.SendSignal(ctx, peerID, payload); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to send answer: %w", err)
	}
	return nil
}

// register makes conn the current connection for its peer, closing any
// earlier one.
func (t *Transport) register(conn *connection) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("%w: transport closed", transport.ErrNetwork)
	}
	prev := t.connections[conn.peerID]
	t.connections[conn.peerID] = conn
	conn.onClose = t.forget
	t.mu.Unlock()

	if prev != nil {
		prev.log.Debug("Replacing existing connection")
		_ = prev.Close()
	}
	return nil
}

func (t *Transport) forget(conn *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connections[conn.peerID] == conn {
		delete(t.connections, conn.peerID)
	}
}

func (t *Transport) lookup(peerID string) *connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connections[peerID]
}

func (t *Transport) deliver(conn *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		go func() { _ = conn.Close() }()
		return
	}
	select {
	case t.incoming <- conn:
		conn.log.Info("Inbound data channel open")
	default:
		conn.log.Warn("Accept backlog full, dropping inbound connection")
		go func() { _ = conn.Close() }()
	}
}

func timeoutError(peerID string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("connect %s: %w", peerID, err)
	}
	return fmt.Errorf("%w: %s: %v", transport.ErrTimeout, peerID, err)
}
