package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/rudransh-shrivastava/peerdrop/internal/identity"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport/memory"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testConfig = Config{
	Debounce:       20 * time.Millisecond,
	ConnectTimeout: 200 * time.Millisecond,
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func newManager(t *testing.T, tr transport.Transport) (*Manager, *bus.Topic[bus.PeerStatus]) {
	t.Helper()
	topic := bus.NewTopic[bus.PeerStatus]("peer")
	w, err := topic.Writer()
	require.NoError(t, err)
	m := NewManager(tr, w, testConfig, quietLogger())
	t.Cleanup(m.Teardown)
	return m, topic
}

type testNetwork struct {
	network *memory.Network
	local   *memory.Endpoint
	peers   map[string]*memory.Endpoint
}

func setupNetwork(t *testing.T, peers ...string) *testNetwork {
	t.Helper()
	n := &testNetwork{network: memory.NewNetwork(), peers: make(map[string]*memory.Endpoint)}
	local, err := n.network.Endpoint("AAAAAA")
	require.NoError(t, err)
	n.local = local
	t.Cleanup(func() { _ = local.Close() })
	for _, id := range peers {
		ep, err := n.network.Endpoint(id)
		require.NoError(t, err)
		n.peers[id] = ep
		t.Cleanup(func() { _ = ep.Close() })
	}
	return n
}

func (n *testNetwork) accept(t *testing.T, id string) transport.Conn {
	t.Helper()
	select {
	case c := <-n.peers[id].Accept():
		return c
	case <-time.After(time.Second):
		t.Fatalf("%s never saw an inbound channel", id)
		return nil
	}
}

func waitState(t *testing.T, topic *bus.Topic[bus.PeerStatus], state bus.PeerState) bus.PeerStatus {
	t.Helper()
	ch, cancel := topic.Subscribe()
	defer cancel()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.State == state {
				return s
			}
		case <-timeout:
			latest, _ := topic.Latest()
			t.Fatalf("expected state %s, last was %s", state, latest.State)
			return bus.PeerStatus{}
		}
	}
}

func TestRequestConnection_Open(t *testing.T) {
	n := setupNetwork(t, "BBBBBB")
	m, topic := newManager(t, n.local)

	require.NoError(t, m.RequestConnection("bbbbbb"))
	status := waitState(t, topic, bus.PeerOpen)
	assert.Equal(t, "BBBBBB", status.Peer)
	assert.False(t, status.Inbound)

	conn, err := m.Channel()
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", conn.PeerID())

	remote := n.accept(t, "BBBBBB")
	require.NoError(t, conn.Send([]byte("hi")))
	assert.Equal(t, []byte("hi"), <-remote.Recv())
}

func TestRequestConnection_Debounced(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)

	tr.EXPECT().
		Connect(gomock.Any(), "DDDDDD").
		Return(nil, transport.ErrPeerUnavailable).
		Times(1)

	m, topic := newManager(t, tr)
	for _, id := range []string{"BBBBBB", "CCCCCC", "CCCCCD", "DDDDDD"} {
		require.NoError(t, m.RequestConnection(id))
		time.Sleep(2 * time.Millisecond)
	}

	status := waitState(t, topic, bus.PeerFailed)
	assert.Equal(t, "DDDDDD", status.Peer)
	assert.Equal(t, bus.ReasonPeerUnavailable, status.Reason)
}

func TestRequestConnection_PeerUnavailable(t *testing.T) {
	n := setupNetwork(t)
	m, topic := newManager(t, n.local)

	start := time.Now()
	require.NoError(t, m.RequestConnection("ZZZZZZ"))
	status := waitState(t, topic, bus.PeerFailed)

	assert.Equal(t, bus.ReasonPeerUnavailable, status.Reason)
	assert.True(t, errors.Is(status.Err, transport.ErrPeerUnavailable))
	assert.Less(t, time.Since(start), testConfig.Debounce+testConfig.ConnectTimeout+time.Second)

	_, err := m.Channel()
	assert.True(t, errors.Is(err, ErrNotOpen))
}

func TestRequestConnection_NetworkError(t *testing.T) {
	n := setupNetwork(t, "BBBBBB")
	n.network.SetOffline(true)
	m, topic := newManager(t, n.local)

	require.NoError(t, m.RequestConnection("BBBBBB"))
	status := waitState(t, topic, bus.PeerFailed)
	assert.Equal(t, bus.ReasonNetwork, status.Reason)
}

func TestRequestConnection_Timeout(t *testing.T) {
	n := setupNetwork(t, "BBBBBB")
	n.network.SetUnresponsive("BBBBBB", true)
	m, topic := newManager(t, n.local)

	require.NoError(t, m.RequestConnection("BBBBBB"))
	waitState(t, topic, bus.PeerConnecting)
	status := waitState(t, topic, bus.PeerFailed)
	assert.Equal(t, bus.ReasonTimeout, status.Reason)
}

func TestRequestConnection_TimeoutWhenTransportIgnoresContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	late := mocks.NewMockConn(ctrl)

	released := make(chan struct{})
	late.EXPECT().Close().DoAndReturn(func() error {
		close(released)
		return nil
	})
	tr.EXPECT().
		Connect(gomock.Any(), "BBBBBB").
		DoAndReturn(func(context.Context, string) (transport.Conn, error) {
			time.Sleep(2 * testConfig.ConnectTimeout)
			return late, nil
		})

	m, topic := newManager(t, tr)
	require.NoError(t, m.RequestConnection("BBBBBB"))

	status := waitState(t, topic, bus.PeerFailed)
	assert.Equal(t, bus.ReasonTimeout, status.Reason)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("late channel was never released")
	}
}

func TestRequestConnection_InvalidIdentity(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Connect(gomock.Any(), gomock.Any()).Times(0)

	m, topic := newManager(t, tr)
	err := m.RequestConnection("ab")
	assert.True(t, errors.Is(err, identity.ErrInvalid))

	time.Sleep(3 * testConfig.Debounce)
	_, ok := topic.Latest()
	assert.False(t, ok)
}

func TestRequestConnection_EmptyCancelsPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Connect(gomock.Any(), gomock.Any()).Times(0)

	m, topic := newManager(t, tr)
	require.NoError(t, m.RequestConnection("BBBBBB"))
	require.NoError(t, m.RequestConnection(""))

	time.Sleep(3 * testConfig.Debounce)
	status, ok := topic.Latest()
	require.True(t, ok)
	assert.Equal(t, bus.PeerIdle, status.State)
}

func TestRequestConnection_ReplacesOpenSession(t *testing.T) {
	n := setupNetwork(t, "BBBBBB", "CCCCCC")
	m, topic := newManager(t, n.local)

	require.NoError(t, m.RequestConnection("BBBBBB"))
	waitState(t, topic, bus.PeerOpen)
	first := n.accept(t, "BBBBBB")

	require.NoError(t, m.RequestConnection("CCCCCC"))
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("previous channel was not released")
	}

	status := waitState(t, topic, bus.PeerOpen)
	assert.Equal(t, "CCCCCC", status.Peer)
	n.accept(t, "CCCCCC")
}

func TestRequestConnection_SupersedesInFlightAttempt(t *testing.T) {
	n := setupNetwork(t, "BBBBBB", "CCCCCC")
	n.network.SetConnectDelay(80 * time.Millisecond)
	m, topic := newManager(t, n.local)

	require.NoError(t, m.RequestConnection("BBBBBB"))
	waitState(t, topic, bus.PeerConnecting)
	require.NoError(t, m.RequestConnection("CCCCCC"))

	status := waitState(t, topic, bus.PeerOpen)
	assert.Equal(t, "CCCCCC", status.Peer)

	conn, err := m.Channel()
	require.NoError(t, err)
	assert.Equal(t, "CCCCCC", conn.PeerID())
}

func TestTeardown_Idempotent(t *testing.T) {
	n := setupNetwork(t, "BBBBBB")
	m, topic := newManager(t, n.local)

	require.NoError(t, m.RequestConnection("BBBBBB"))
	waitState(t, topic, bus.PeerOpen)
	remote := n.accept(t, "BBBBBB")

	m.Teardown()
	status, _ := topic.Latest()
	assert.Equal(t, bus.PeerIdle, status.State)

	select {
	case <-remote.Done():
	case <-time.After(time.Second):
		t.Fatal("channel not released on teardown")
	}

	ch, cancel := topic.Subscribe()
	defer cancel()
	<-ch // current value

	m.Teardown()
	select {
	case s := <-ch:
		t.Fatalf("second teardown published %s", s.State)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, bus.PeerIdle, m.Current().State)
}

func TestTeardown_DuringConnecting(t *testing.T) {
	n := setupNetwork(t, "BBBBBB")
	n.network.SetUnresponsive("BBBBBB", true)
	m, topic := newManager(t, n.local)

	require.NoError(t, m.RequestConnection("BBBBBB"))
	waitState(t, topic, bus.PeerConnecting)

	m.Teardown()
	time.Sleep(testConfig.ConnectTimeout + 50*time.Millisecond)

	status, _ := topic.Latest()
	assert.Equal(t, bus.PeerIdle, status.State, "a torn-down attempt must not report failure")
}

func TestRemoteClose(t *testing.T) {
	n := setupNetwork(t, "BBBBBB")
	m, topic := newManager(t, n.local)

	require.NoError(t, m.RequestConnection("BBBBBB"))
	waitState(t, topic, bus.PeerOpen)
	remote := n.accept(t, "BBBBBB")

	require.NoError(t, remote.Close())
	status := waitState(t, topic, bus.PeerClosed)
	assert.Equal(t, "BBBBBB", status.Peer)

	_, err := m.Channel()
	assert.True(t, errors.Is(err, ErrNotOpen))
}

func TestAdopt(t *testing.T) {
	n := setupNetwork(t, "BBBBBB")
	m, topic := newManager(t, n.local)

	conn, err := n.peers["BBBBBB"].Connect(context.Background(), "AAAAAA")
	require.NoError(t, err)
	inbound := <-n.local.Accept()

	require.NoError(t, m.Adopt(inbound))
	status := waitState(t, topic, bus.PeerOpen)
	assert.True(t, status.Inbound)
	assert.Equal(t, "BBBBBB", status.Peer)

	other, err := n.peers["BBBBBB"].Connect(context.Background(), "AAAAAA")
	require.NoError(t, err)
	defer func() { _ = other.Close() }()
	assert.True(t, errors.Is(m.Adopt(<-n.local.Accept()), ErrSessionActive))

	_ = conn.Close()
	waitState(t, topic, bus.PeerClosed)
}
