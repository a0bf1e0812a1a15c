package signaling

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	handshakeTimeout = 10 * time.Second
	signalBuffer     = 32
)

// Client is a transport.Signaler backed by the broker. It owns the server
// connectivity topic.
type Client struct {
	id      string
	conn    *websocket.Conn
	status  *bus.Writer[bus.ServerStatus]
	log     *logrus.Entry
	signals chan transport.Signal

	writeMu   sync.Mutex
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Dial registers id with the broker at serverURL and waits for it to accept.
func Dial(ctx context.Context, serverURL, id string, status *bus.Writer[bus.ServerStatus], log *logrus.Logger) (*Client, error) {
	if log == nil {
		log = logrus.New()
	}
	c := &Client{
		id:      id,
		status:  status,
		log:     log.WithFields(logrus.Fields{"component": "signaling", "id": id}),
		signals: make(chan transport.Signal, signalBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.publish(bus.ServerConnecting, nil)

	u, err := url.Parse(serverURL)
	if err != nil {
		c.publish(bus.ServerError, err)
		return nil, fmt.Errorf("parsing signal url: %w", err)
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		err = fmt.Errorf("%w: dialing %s: %v", transport.ErrNetwork, u.Host, err)
		c.publish(bus.ServerError, err)
		return nil, err
	}
	c.conn = conn

	if err := c.handshake(ctx); err != nil {
		_ = conn.Close()
		c.publish(bus.ServerError, err)
		return nil, err
	}

	c.publish(bus.ServerConnected, nil)
	c.log.Info("Registered with signaling server")
	go c.readLoop()
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	var env Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("%w: waiting for broker: %v", transport.ErrNetwork, err)
	}
	switch {
	case env.Type == TypeOpen:
		return nil
	case env.Type == TypeError && env.Error == CodeIDTaken:
		return fmt.Errorf("%s: %w", c.id, ErrIDTaken)
	case env.Type == TypeError && env.Error == CodeInvalidID:
		return fmt.Errorf("%s: %w", c.id, ErrInvalidID)
	default:
		return fmt.Errorf("%w: unexpected %s message from broker", transport.ErrNetwork, env.Type)
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) SendSignal(ctx context.Context, peerID string, signal []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: signaling connection closed", transport.ErrNetwork)
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(Envelope{Type: TypeSignal, Dst: peerID, Payload: signal}); err != nil {
		return fmt.Errorf("%w: sending signal: %v", transport.ErrNetwork, err)
	}
	return nil
}

func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.signals
}

// Done is closed once the broker connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.signals)

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.closing:
				c.publish(bus.ServerDisconnected, nil)
				c.log.Info("Disconnected from signaling server")
			default:
				c.publish(bus.ServerDisconnected, fmt.Errorf("%w: %v", transport.ErrNetwork, err))
				c.log.Warnf("Lost signaling server: %v", err)
			}
			return
		}

		switch env.Type {
		case TypeSignal:
			c.deliver(transport.Signal{PeerID: env.Src, Payload: env.Payload})
		case TypeError:
			c.deliver(transport.Signal{PeerID: env.Src, Err: brokerError(env)})
		default:
			c.log.Debugf("Ignoring %s message from broker", env.Type)
		}
	}
}

func (c *Client) deliver(sig transport.Signal) {
	select {
	case c.signals <- sig:
	case <-c.closing:
	}
}

func (c *Client) publish(state bus.ServerState, err error) {
	if c.status == nil {
		return
	}
	c.status.Publish(bus.ServerStatus{State: state, Err: err, At: time.Now()})
}

func brokerError(env Envelope) error {
	if env.Error == CodePeerUnavailable {
		return fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, env.Src)
	}
	return fmt.Errorf("%w: broker: %s", transport.ErrNetwork, env.Error)
}
