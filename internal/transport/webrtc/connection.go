package webrtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	recvBuffer   = 256
	drainTimeout = 50 * time.Millisecond
	flushTimeout = 5 * time.Second
)

type connection struct {
	peerID      string
	pc          *webrtc.PeerConnection
	isInitiator bool
	log         *logrus.Entry

	mu sync.Mutex
	dc *webrtc.DataChannel

	recv     chan []byte
	recvMu   sync.RWMutex
	recvDone bool

	opened   chan struct{}
	openOnce sync.Once
	failed   chan error

	done      chan struct{}
	closeOnce sync.Once
	err       error

	lowWater chan struct{}

	onOpen  func(*connection)
	onClose func(*connection)
}

func newConnection(peerID string, pc *webrtc.PeerConnection, isInitiator bool, log *logrus.Entry) *connection {
	conn := &connection{
		peerID:      peerID,
		pc:          pc,
		isInitiator: isInitiator,
		log:         log.WithField("peer", peerID),
		recv:        make(chan []byte, recvBuffer),
		opened:      make(chan struct{}),
		failed:      make(chan error, 1),
		done:        make(chan struct{}),
		lowWater:    make(chan struct{}, 1),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		conn.log.Debugf("Peer connection state has changed: %s", s.String())
		switch s {
		case webrtc.PeerConnectionStateFailed:
			conn.fail(fmt.Errorf("%w: peer connection failed", transport.ErrNetwork))
		case webrtc.PeerConnectionStateClosed:
			conn.shutdown(nil)
		}
	})

	if !isInitiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn.setupDataChannel(dc)
		})
	}

	return conn
}

func (c *connection) createDataChannel() error {
	dc, err := c.pc.CreateDataChannel(channelLabel, DataChannelInit())
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *connection) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.SetBufferedAmountLowThreshold(lowWaterMark)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.lowWater <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(func() {
		c.log.Debugf("Data channel '%s'-'%d' open", dc.Label(), *dc.ID())
		c.openOnce.Do(func() {
			close(c.opened)
			if c.onOpen != nil {
				c.onOpen(c)
			}
		})
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.recvMu.RLock()
		defer c.recvMu.RUnlock()
		if c.recvDone {
			return
		}
		// blocking here holds back the SCTP reader instead of dropping data
		select {
		case c.recv <- msg.Data:
		case <-c.done:
		}
	})

	dc.OnError(func(err error) {
		c.log.Warnf("Data channel error: %v", err)
	})

	dc.OnClose(func() {
		c.log.Debugf("Data channel '%s' closed", dc.Label())
		c.shutdown(nil)
	})
}

// fail reports err to a pending Connect and closes the channel with it.
func (c *connection) fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
	c.shutdown(err)
}

func (c *connection) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)

		c.recvMu.Lock()
		c.recvDone = true
		close(c.recv)
		c.recvMu.Unlock()

		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

func (c *connection) PeerID() string {
	return c.peerID
}

func (c *connection) Send(data []byte) error {
	if len(data) > transport.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", transport.ErrPayloadTooLarge, len(data))
	}

	select {
	case <-c.done:
		return transport.ErrChannelClosed
	default:
	}

	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return transport.ErrChannelClosed
	}

	for dc.BufferedAmount() > highWaterMark {
		select {
		case <-c.lowWater:
		case <-time.After(drainTimeout):
		case <-c.done:
			return transport.ErrChannelClosed
		}
	}

	if err := dc.Send(data); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrChannelClosed, err)
	}
	return nil
}

func (c *connection) Recv() <-chan []byte {
	return c.recv
}

func (c *connection) Done() <-chan struct{} {
	return c.done
}

func (c *connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close waits briefly for queued outbound data before closing, so a file
// sent just before Close still reaches the peer.
func (c *connection) Close() error {
	c.flush(flushTimeout)
	c.shutdown(nil)

	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	return c.pc.Close()
}

func (c *connection) flush(timeout time.Duration) {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	deadline := time.Now().Add(timeout)
	for dc.BufferedAmount() > 0 && time.Now().Before(deadline) {
		select {
		case <-c.done:
			return
		case <-time.After(drainTimeout):
		}
	}
}
