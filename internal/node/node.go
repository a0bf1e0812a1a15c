// Package node wires identity, signaling, transport, session and transfer
// into one running peer.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/rudransh-shrivastava/peerdrop/internal/identity"
	"github.com/rudransh-shrivastava/peerdrop/internal/session"
	"github.com/rudransh-shrivastava/peerdrop/internal/signaling"
	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("node closed")

type Options struct {
	// Identity is generated when empty.
	Identity    string
	SignalURL   string
	STUNServers []string
	Session     session.Config
	ChunkSize   int

	DownloadDir string
	Deliverer   transfer.Deliverer
	History     transfer.Recorder

	// Transport replaces the signaling broker and WebRTC stack when set.
	Transport transport.Transport
	Logger    *logrus.Logger
}

type Node struct {
	id        string
	bus       *bus.Bus
	signal    *signaling.Client
	transport transport.Transport
	sessions  *session.Manager
	engine    *transfer.Engine
	logger    *logrus.Entry

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New registers with the signaling broker (unless opts.Transport is set) and
// starts accepting inbound channels.
func New(ctx context.Context, opts Options) (*Node, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}

	id := identity.Normalize(opts.Identity)
	if id == "" {
		var err error
		if id, err = identity.New(); err != nil {
			return nil, err
		}
	} else if err := identity.Validate(id); err != nil {
		return nil, err
	}

	b := bus.New()
	serverStatus, err := b.Server.Writer()
	if err != nil {
		return nil, err
	}
	peerStatus, err := b.Peer.Writer()
	if err != nil {
		return nil, err
	}
	transferStatus, err := b.Transfer.Writer()
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:     id,
		bus:    b,
		logger: log.WithFields(logrus.Fields{"component": "node", "id": id}),
	}

	if opts.Transport != nil {
		n.transport = opts.Transport
		serverStatus.Publish(bus.ServerStatus{State: bus.ServerConnected})
	} else {
		client, err := signaling.Dial(ctx, opts.SignalURL, id, serverStatus, log)
		if err != nil {
			return nil, err
		}
		n.signal = client
		n.transport = webrtc.New(client, opts.STUNServers, log)
	}

	deliverer := opts.Deliverer
	if deliverer == nil {
		deliverer = transfer.NewDirDeliverer(opts.DownloadDir)
	}

	n.sessions = session.NewManager(n.transport, peerStatus, opts.Session, log)
	n.engine = transfer.NewEngine(transfer.Options{
		ChunkSize: opts.ChunkSize,
		Status:    transferStatus,
		Deliverer: deliverer,
		Recorder:  opts.History,
		Logger:    log,
	})

	n.ctx, n.cancel = context.WithCancel(context.Background())

	n.wg.Add(1)
	go n.acceptLoop()
	if n.signal != nil {
		n.wg.Add(1)
		go n.watchBroker()
	}

	n.logger.Info("Node is now running...")
	return n, nil
}

func (n *Node) ID() string { return n.id }

func (n *Node) Bus() *bus.Bus { return n.bus }

// RequestConnection targets peerID. Repeated calls inside the debounce
// window collapse into the last one; an empty id drops the session.
func (n *Node) RequestConnection(peerID string) error {
	if n.ctx.Err() != nil {
		return ErrClosed
	}
	return n.sessions.RequestConnection(peerID)
}

func (n *Node) Teardown() {
	n.sessions.Teardown()
}

func (n *Node) Session() session.Session {
	return n.sessions.Current()
}

// BeginTransfer sends src over the current session and blocks until the job
// completes or fails.
func (n *Node) BeginTransfer(ctx context.Context, src transfer.Source) (*transfer.Job, error) {
	if n.ctx.Err() != nil {
		return nil, ErrClosed
	}
	return n.engine.BeginTransfer(ctx, n.sessions, src)
}

// SendFile sends the file at path under its base name.
func (n *Node) SendFile(ctx context.Context, path string) (*transfer.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return n.BeginTransfer(ctx, transfer.Source{
		Name:   filepath.Base(path),
		Size:   info.Size(),
		Reader: f,
	})
}

// AwaitSession blocks until the session opens or the attempt fails.
func (n *Node) AwaitSession(ctx context.Context) error {
	updates, cancel := n.bus.Peer.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.ctx.Done():
			return ErrClosed
		case st, ok := <-updates:
			if !ok {
				return ErrClosed
			}
			switch st.State {
			case bus.PeerOpen:
				return nil
			case bus.PeerFailed:
				if st.Err != nil {
					return st.Err
				}
				return fmt.Errorf("connecting to %s: %s", st.Peer, st.Reason)
			}
		}
	}
}

// Close tears down the session and stops the node. Safe to call more than
// once.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.logger.Info("Shutting down node...")
		n.sessions.Teardown()
		n.cancel()
		err = n.transport.Close()
		if n.signal != nil {
			if cerr := n.signal.Close(); err == nil {
				err = cerr
			}
		}
		n.wg.Wait()
		n.logger.Info("Node stopped")
	})
	return err
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case conn, ok := <-n.transport.Accept():
			if !ok {
				return
			}
			log := n.logger.WithField("peer", conn.PeerID())
			if err := n.sessions.Adopt(conn); err != nil {
				log.Debugf("Serving inbound channel outside the session: %v", err)
			}
			n.wg.Add(1)
			go n.serve(conn)
		}
	}
}

func (n *Node) serve(conn transport.Conn) {
	defer n.wg.Done()
	defer conn.Close()

	if err := n.engine.Serve(n.ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
		n.logger.WithField("peer", conn.PeerID()).Warnf("Receiver stopped: %v", err)
	}
}

// watchBroker drops the session when the broker connection is lost.
func (n *Node) watchBroker() {
	defer n.wg.Done()

	select {
	case <-n.ctx.Done():
	case <-n.signal.Done():
		if n.ctx.Err() == nil {
			n.logger.Warn("Lost signaling server, resetting peer status")
			n.sessions.Teardown()
		}
	}
}
