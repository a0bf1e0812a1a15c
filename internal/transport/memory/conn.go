package memory

import (
	"fmt"
	"sync"

	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
)

// pipe is the state shared by both ends of a channel.
type pipe struct {
	mu     sync.RWMutex
	closed bool
	err    error
	done   chan struct{}
	once   sync.Once
	ends   [2]*conn
}

type conn struct {
	peerID string
	pipe   *pipe
	recv   chan []byte
	remote *conn
}

func newPair(a, b string) (*conn, *conn) {
	p := &pipe{done: make(chan struct{})}
	ca := &conn{peerID: b, pipe: p, recv: make(chan []byte, recvBuffer)}
	cb := &conn{peerID: a, pipe: p, recv: make(chan []byte, recvBuffer)}
	ca.remote, cb.remote = cb, ca
	p.ends = [2]*conn{ca, cb}
	return ca, cb
}

func (p *pipe) shutdown(err error) {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed = true
		p.err = err
		for _, c := range p.ends {
			close(c.recv)
		}
	})
}

func (c *conn) PeerID() string { return c.peerID }

func (c *conn) Send(data []byte) error {
	if len(data) > transport.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", transport.ErrPayloadTooLarge, len(data))
	}

	c.pipe.mu.RLock()
	defer c.pipe.mu.RUnlock()
	if c.pipe.closed {
		return transport.ErrChannelClosed
	}

	msg := make([]byte, len(data))
	copy(msg, data)
	select {
	case c.remote.recv <- msg:
		return nil
	case <-c.pipe.done:
		return transport.ErrChannelClosed
	}
}

func (c *conn) Recv() <-chan []byte { return c.recv }

func (c *conn) Done() <-chan struct{} { return c.pipe.done }

func (c *conn) Err() error {
	c.pipe.mu.RLock()
	defer c.pipe.mu.RUnlock()
	return c.pipe.err
}

func (c *conn) Close() error {
	c.pipe.shutdown(nil)
	return nil
}
