package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/node"
	"github.com/rudransh-shrivastava/peerdrop/internal/session"
	"github.com/rudransh-shrivastava/peerdrop/internal/signaling"
)

type Network struct {
	broker *signaling.Server
	nodes  []*node.Node
	cancel context.CancelFunc
	ctx    context.Context
	t      *testing.T
}

func NewNetwork(t *testing.T) *Network {
	t.Helper()

	srv := signaling.NewServer(signaling.Config{
		Addr:   "127.0.0.1:0",
		Logger: logger.NewLogger("error"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	go func() {
		_ = srv.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)

	return &Network{
		broker: srv,
		cancel: cancel,
		ctx:    ctx,
		t:      t,
	}
}

func (n *Network) SignalURL() string {
	return "ws://" + n.broker.Addr() + "/ws"
}

// NewNode registers a node under id, saving received files into dir.
func (n *Network) NewNode(id, dir string) *node.Node {
	n.t.Helper()

	nd, err := node.New(n.ctx, node.Options{
		Identity:    id,
		SignalURL:   n.SignalURL(),
		Session:     session.Config{Debounce: 20 * time.Millisecond, ConnectTimeout: 10 * time.Second},
		DownloadDir: dir,
		Logger:      logger.NewLogger("error"),
	})
	if err != nil {
		n.t.Fatalf("Failed to create node: %v", err)
	}

	n.nodes = append(n.nodes, nd)
	return nd
}

func (n *Network) Context() context.Context {
	return n.ctx
}

func (n *Network) Close() {
	n.cancel()
	for _, nd := range n.nodes {
		_ = nd.Close()
	}
	_ = n.broker.Shutdown()
}
