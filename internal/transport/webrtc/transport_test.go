package webrtc

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairSignaler relays signals between two in-process transports.
type pairSignaler struct {
	id     string
	remote *pairSignaler
	in     chan transport.Signal
	once   sync.Once
	// unreachable makes every signal bounce back as peer-unavailable.
	unreachable bool
}

func newSignalerPair(a, b string) (*pairSignaler, *pairSignaler) {
	sa := &pairSignaler{id: a, in: make(chan transport.Signal, 16)}
	sb := &pairSignaler{id: b, in: make(chan transport.Signal, 16)}
	sa.remote, sb.remote = sb, sa
	return sa, sb
}

func (s *pairSignaler) SendSignal(_ context.Context, peerID string, signal []byte) error {
	if s.unreachable || peerID != s.remote.id {
		s.in <- transport.Signal{PeerID: peerID, Err: transport.ErrPeerUnavailable}
		return nil
	}
	s.remote.in <- transport.Signal{PeerID: s.id, Payload: signal}
	return nil
}

func (s *pairSignaler) RecvSignal() <-chan transport.Signal { return s.in }

func (s *pairSignaler) Close() error {
	s.once.Do(func() { close(s.in) })
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestConnect_PeerUnavailable(t *testing.T) {
	sa, _ := newSignalerPair("AAAAAA", "BBBBBB")
	sa.unreachable = true

	tr := New(sa, nil, quietLogger())
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := tr.Connect(ctx, "ZZZZZZ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrPeerUnavailable), "got %v", err)
}

func TestConnect_Timeout(t *testing.T) {
	sa, _ := newSignalerPair("AAAAAA", "BBBBBB")

	// nobody serves the remote side, so the answer never comes
	tr := New(sa, nil, quietLogger())
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := tr.Connect(ctx, "BBBBBB")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrTimeout), "got %v", err)
	assert.Nil(t, tr.lookup("BBBBBB"), "failed connect must release its peer connection")
}

func TestConnect_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ICE loopback in short mode")
	}

	sa, sb := newSignalerPair("AAAAAA", "BBBBBB")
	a := New(sa, nil, quietLogger())
	b := New(sb, nil, quietLogger())
	defer func() {
		_ = a.Close()
		_ = b.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	local, err := a.Connect(ctx, "BBBBBB")
	require.NoError(t, err)

	var remote transport.Conn
	select {
	case remote = <-b.Accept():
	case <-ctx.Done():
		t.Fatal("timeout waiting for inbound channel")
	}
	assert.Equal(t, "AAAAAA", remote.PeerID())

	payload := bytes.Repeat([]byte{0x42}, 60*1024)
	for i := 0; i < 20; i++ {
		payload[0] = byte(i)
		require.NoError(t, local.Send(payload))
	}
	for i := 0; i < 20; i++ {
		select {
		case msg := <-remote.Recv():
			require.Len(t, msg, len(payload))
			require.Equal(t, byte(i), msg[0], "messages must arrive in order")
		case <-ctx.Done():
			t.Fatalf("timeout waiting for message %d", i)
		}
	}

	require.NoError(t, local.Close())
	select {
	case <-remote.Done():
	case <-ctx.Done():
		t.Fatal("remote end did not observe close")
	}
}

func TestSend_PayloadTooLarge(t *testing.T) {
	c := &connection{done: make(chan struct{})}
	err := c.Send(make([]byte, transport.MaxMessageSize+1))
	assert.True(t, errors.Is(err, transport.ErrPayloadTooLarge))
}

func TestSend_NotOpen(t *testing.T) {
	c := &connection{done: make(chan struct{})}
	err := c.Send([]byte("x"))
	assert.True(t, errors.Is(err, transport.ErrChannelClosed))
}
