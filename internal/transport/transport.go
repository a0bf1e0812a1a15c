//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=mocks/mock_transport.go -package=mocks

// Package transport defines the message channel the transfer engine runs on.
package transport

import (
	"context"
	"errors"
	"io"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
)

// MaxMessageSize is the largest payload a Conn accepts in one Send.
const MaxMessageSize = 65535

var (
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrNetwork         = errors.New("network error")
	ErrTimeout         = errors.New("connect timed out")
	ErrChannelClosed   = errors.New("channel closed")
	ErrPayloadTooLarge = errors.New("payload too large")
)

type Transport interface {
	// Connect returns once the channel to peerID is open.
	Connect(ctx context.Context, peerID string) (Conn, error)
	// Accept delivers channels opened by remote peers.
	Accept() <-chan Conn
	Close() error
}

// Conn is an ordered, reliable message channel to one peer.
type Conn interface {
	PeerID() string
	Send(data []byte) error
	// Recv is closed after the channel closes and buffered messages drain.
	Recv() <-chan []byte
	Done() <-chan struct{}
	// Err is the error that closed the channel, nil for an orderly close.
	Err() error
	Close() error
}

type Signaler interface {
	SendSignal(ctx context.Context, peerID string, signal []byte) error
	RecvSignal() <-chan Signal
	io.Closer
}

// Signal is a message relayed by the broker. Err is set when the broker
// could not route an earlier signal to PeerID.
type Signal struct {
	PeerID  string
	Payload []byte
	Err     error
}

// Classify maps a Connect error onto the reason a session reports.
func Classify(err error) bus.FailureReason {
	switch {
	case err == nil:
		return bus.ReasonNone
	case errors.Is(err, ErrPeerUnavailable):
		return bus.ReasonPeerUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return bus.ReasonTimeout
	default:
		return bus.ReasonNetwork
	}
}
