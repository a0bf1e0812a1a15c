package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerdrop/internal/identity"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 * 1024
)

type Config struct {
	Addr   string
	Logger *logrus.Logger
}

// Server is the rendezvous broker. It keeps one websocket per registered
// identity and forwards signal envelopes between them.
type Server struct {
	config   Config
	log      *logrus.Entry
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[string]*client

	listener net.Listener
	http     *http.Server
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(env)
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		config: cfg,
		log:    log.WithField("component", "signaling"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		peers: make(map[string]*client),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleConnect)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: writeWait}
	srv := s.http
	s.mu.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("Signaling server started")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		_ = s.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown() error {
	s.log.Info("Shutting down signaling server")

	s.mu.Lock()
	srv := s.http
	peers := lo.Values(s.peers)
	s.peers = make(map[string]*client)
	s.mu.Unlock()

	for _, c := range peers {
		_ = c.conn.Close()
	}
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Peers lists the registered identities.
func (s *Server) Peers() []string {
	s.mu.Lock()
	ids := lo.Keys(s.peers)
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"peers": len(s.Peers())})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(maxMessage)

	c := &client{id: identity.Normalize(r.URL.Query().Get("id")), conn: conn}
	log := s.log.WithFields(logrus.Fields{"peer": c.id, "remote": r.RemoteAddr})

	if err := identity.Validate(c.id); err != nil {
		_ = c.write(Envelope{Type: TypeError, Error: CodeInvalidID})
		_ = conn.Close()
		log.Debug("Rejected invalid identity")
		return
	}
	if !s.register(c) {
		_ = c.write(Envelope{Type: TypeError, Error: CodeIDTaken})
		_ = conn.Close()
		log.Debug("Rejected duplicate identity")
		return
	}
	defer func() {
		s.unregister(c)
		_ = conn.Close()
		log.Info("Peer disconnected")
	}()

	if err := c.write(Envelope{Type: TypeOpen, Dst: c.id}); err != nil {
		return
	}
	log.Info("Peer connected")

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.keepalive(c, stop)

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("Failed to read message: %v", err)
			}
			return
		}
		s.handleMessage(c, env, log)
	}
}

func (s *Server) handleMessage(c *client, env Envelope, log *logrus.Entry) {
	switch env.Type {
	case TypeSignal:
		dst := identity.Normalize(env.Dst)
		s.mu.Lock()
		target := s.peers[dst]
		s.mu.Unlock()

		if target == nil {
			log.WithField("dst", dst).Debug("Signal for unknown peer")
			_ = c.write(Envelope{Type: TypeError, Src: dst, Error: CodePeerUnavailable})
			return
		}
		if err := target.write(Envelope{Type: TypeSignal, Src: c.id, Dst: dst, Payload: env.Payload}); err != nil {
			log.WithField("dst", dst).Warnf("Failed to forward signal: %v", err)
			_ = c.write(Envelope{Type: TypeError, Src: dst, Error: CodePeerUnavailable})
		}
	default:
		log.Warnf("Unhandled message type %q", env.Type)
		_ = c.write(Envelope{Type: TypeError, Error: CodeBadRequest})
	}
}

func (s *Server) keepalive(c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.peers[c.id]; taken {
		return false
	}
	s.peers[c.id] = c
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[c.id] == c {
		delete(s.peers, c.id)
	}
}
