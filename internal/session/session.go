// Package session owns the single logical peer session of a node: the
// debounced connect, its timeout, replacement and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/rudransh-shrivastava/peerdrop/internal/identity"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultConnectTimeout = 5 * time.Second
)

var (
	ErrNotOpen       = errors.New("no open session")
	ErrSessionActive = errors.New("a session is already active")
)

type Config struct {
	Debounce       time.Duration
	ConnectTimeout time.Duration
}

// Session is a snapshot of the current session.
type Session struct {
	Peer      string
	Conn      transport.Conn
	State     bus.PeerState
	Inbound   bool
	CreatedAt time.Time
	Reason    bus.FailureReason
	Err       error
}

type Manager struct {
	transport transport.Transport
	status    *bus.Writer[bus.PeerStatus]
	log       *logrus.Entry
	config    Config

	mu      sync.Mutex
	gen     uint64
	timer   *time.Timer
	cancel  context.CancelFunc
	current Session
}

func NewManager(tr transport.Transport, status *bus.Writer[bus.PeerStatus], cfg Config, log *logrus.Logger) *Manager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		transport: tr,
		status:    status,
		log:       log.WithField("component", "session"),
		config:    cfg,
		current:   Session{State: bus.PeerIdle},
	}
}

// RequestConnection asks for a session with peerID. Calls within the
// debounce window coalesce; only the last identity is dialled. An empty
// identity cancels everything and returns the manager to idle.
func (m *Manager) RequestConnection(peerID string) error {
	peerID = identity.Normalize(peerID)
	if peerID != "" {
		if err := identity.Validate(peerID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.stopTimerLocked()

	if peerID == "" {
		m.resetLocked()
		m.current = Session{State: bus.PeerIdle}
		m.publishLocked()
		return nil
	}

	gen := m.gen
	m.timer = time.AfterFunc(m.config.Debounce, func() {
		m.connect(gen, peerID)
	})
	return nil
}

// Teardown releases the channel and returns to idle. Calling it again is a
// no-op.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.stopTimerLocked()

	if m.current.State == bus.PeerIdle && m.cancel == nil {
		return
	}
	m.log.WithField("peer", m.current.Peer).Info("Tearing down session")
	m.resetLocked()
	m.current = Session{State: bus.PeerIdle}
	m.publishLocked()
}

// Adopt makes an inbound channel the current session.
func (m *Manager) Adopt(conn transport.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.State == bus.PeerConnecting || m.current.State == bus.PeerOpen {
		return fmt.Errorf("adopting %s: %w", conn.PeerID(), ErrSessionActive)
	}

	m.gen++
	m.stopTimerLocked()
	m.current = Session{
		Peer:      conn.PeerID(),
		Conn:      conn,
		State:     bus.PeerOpen,
		Inbound:   true,
		CreatedAt: time.Now(),
	}
	m.publishLocked()
	m.log.WithField("peer", conn.PeerID()).Info("Inbound session open")

	go m.watch(m.gen, conn)
	return nil
}

// Channel returns the open channel, or ErrNotOpen.
func (m *Manager) Channel() (transport.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.State != bus.PeerOpen || m.current.Conn == nil {
		return nil, ErrNotOpen
	}
	return m.current.Conn, nil
}

func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) connect(gen uint64, peerID string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	// a new target replaces whatever session exists
	m.resetLocked()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	m.cancel = cancel
	m.current = Session{Peer: peerID, State: bus.PeerConnecting, CreatedAt: time.Now()}
	m.publishLocked()
	m.mu.Unlock()

	log := m.log.WithField("peer", peerID)
	log.Info("Connecting")

	type result struct {
		conn transport.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := m.transport.Connect(ctx, peerID)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// the transport may still hand back a channel after the deadline
		go func() {
			if late := <-done; late.conn != nil {
				_ = late.conn.Close()
			}
		}()
		res.err = fmt.Errorf("%w: %s: %v", transport.ErrTimeout, peerID, ctx.Err())
	}
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		if res.conn != nil {
			_ = res.conn.Close()
		}
		log.Debug("Discarding superseded connection attempt")
		return
	}
	m.cancel = nil

	if res.err != nil {
		reason := transport.Classify(res.err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = bus.ReasonTimeout
		}
		m.current.State = bus.PeerFailed
		m.current.Reason = reason
		m.current.Err = res.err
		m.publishLocked()
		log.WithField("reason", reason).Warnf("Connection failed: %v", res.err)
		return
	}

	m.current.Conn = res.conn
	m.current.State = bus.PeerOpen
	m.publishLocked()
	log.Info("Session open")

	go m.watch(gen, res.conn)
}

func (m *Manager) watch(gen uint64, conn transport.Conn) {
	<-conn.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.current.Conn != conn {
		return
	}
	m.current.State = bus.PeerClosed
	m.current.Err = conn.Err()
	m.publishLocked()
	m.log.WithField("peer", conn.PeerID()).Info("Session closed by remote")
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// resetLocked cancels an in-flight attempt and closes the current channel.
func (m *Manager) resetLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.current.Conn != nil {
		_ = m.current.Conn.Close()
		m.current.Conn = nil
	}
}

func (m *Manager) publishLocked() {
	if m.status == nil {
		return
	}
	m.status.Publish(bus.PeerStatus{
		State:   m.current.State,
		Peer:    m.current.Peer,
		Inbound: m.current.Inbound,
		Reason:  m.current.Reason,
		Err:     m.current.Err,
		At:      time.Now(),
	})
}
