package net

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"SyncBoard/internal/metrics"
	"SyncBoard/internal/presence"
	"SyncBoard/internal/state"
	"SyncBoard/internal/store"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendBuffer   = 64
	maxFrameSize = 1 << 20
)

// ServerConfig configures a hub Server.
type ServerConfig struct {
	Backends *store.Backends
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// RateLimit and Burst bound inbound frames per connection. A zero
	// RateLimit means unlimited.
	RateLimit rate.Limit
	Burst     int

	// WriteTimeout bounds each backend call.
	WriteTimeout time.Duration
}

// Server is the hub: the host of the durable shape store and of the
// presence map for every board.
type Server struct {
	cfg      ServerConfig
	log      *slog.Logger
	peers    *PeerManager
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	name     string
	shapes   store.Backend
	presence *presence.MemoryHub
}

// NewServer creates a hub over the given backends.
func NewServer(cfg ServerConfig) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = state.DefaultWriteTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hub")
	return &Server{
		cfg:   cfg,
		log:   logger,
		peers: NewPeerManager(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

// Handler returns the hub's routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws/{board}", s.handleWS)
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Peers returns the connection tracker.
func (s *Server) Peers() *PeerManager { return s.peers }

// Close stops presence fan-out for every board. Backends are closed by
// their owner.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, rm := range s.rooms {
		rm.presence.Close()
		delete(s.rooms, name)
	}
}

func (s *Server) room(name string) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm, ok := s.rooms[name]; ok {
		return rm, nil
	}
	shapes, err := s.cfg.Backends.Board(name)
	if err != nil {
		return nil, err
	}
	hub := presence.NewMemoryHub(s.log.With("board", name))
	hub.OnCleanup = func(uids []string) {
		for range uids {
			s.cfg.Metrics.Cleanup()
		}
	}
	rm := &room{name: name, shapes: shapes, presence: hub}
	s.rooms[name] = rm
	return rm, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"time":        time.Now().Format(time.RFC3339),
		"backend":     s.cfg.Backends.Kind(),
		"connections": s.peers.Count(),
		"boards":      s.peers.Boards(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("health response", "error", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	board := mux.Vars(r)["board"]
	rm, err := s.room(board)
	if err != nil {
		s.log.Error("open board", "board", board, "error", err)
		http.Error(w, "board unavailable", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade", "error", err)
		return
	}

	info := s.peers.Add(board, r.RemoteAddr)
	s.cfg.Metrics.ConnOpened()
	p := &peer{
		srv:      s,
		info:     info,
		room:     rm,
		ws:       ws,
		send:     make(chan Frame, sendBuffer),
		done:     make(chan struct{}),
		presence: rm.presence.Connect(),
		log:      s.log.With("peer", info.ID, "board", board),
	}
	if s.cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(s.cfg.RateLimit, s.cfg.Burst)
	}

	go p.writeLoop()
	p.readLoop(r.Context())
	p.shutdown()
}

// peer is the hub side of one connection.
type peer struct {
	srv      *Server
	info     Peer
	room     *room
	ws       *websocket.Conn
	send     chan Frame
	done     chan struct{}
	limiter  *rate.Limiter
	presence *presence.Conn
	log      *slog.Logger

	mu           sync.Mutex
	shapeCancels []func()
}

func (p *peer) readLoop(ctx context.Context) {
	p.ws.SetReadLimit(maxFrameSize)
	_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := p.ws.ReadJSON(&f); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				p.log.Debug("closed by client")
			} else {
				p.log.Info("connection lost", "error", err)
			}
			return
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}
		p.srv.cfg.Metrics.Message(string(f.Type))
		p.handle(ctx, f)
	}
}

func (p *peer) handle(ctx context.Context, f Frame) {
	ctx, cancel := context.WithTimeout(ctx, p.srv.cfg.WriteTimeout)
	defer cancel()

	var err error
	switch f.Type {
	case TypeCreate:
		err = p.create(ctx, f)
	case TypeUpdate:
		if f.ShapeID == "" || f.Patch == nil {
			err = fmt.Errorf("%w: update needs shapeId and patch", ErrInvalid)
			break
		}
		err = p.room.shapes.Update(ctx, f.ShapeID, *f.Patch)
	case TypeDelete:
		if f.ShapeID == "" {
			err = fmt.Errorf("%w: delete needs shapeId", ErrInvalid)
			break
		}
		err = p.room.shapes.Delete(ctx, f.ShapeID)
	case TypeSubscribeShapes:
		err = p.subscribeShapes(ctx)
	case TypePresenceSet:
		err = p.withUser(f, func(uid string) error { return p.presence.Set(ctx, uid, f.Doc) })
	case TypePresenceUpdate:
		err = p.withUser(f, func(uid string) error { return p.presence.Update(ctx, uid, f.Doc) })
	case TypePresenceRemove:
		err = p.withUser(f, func(uid string) error { return p.presence.Remove(ctx, uid) })
	case TypeOnDisconnect:
		err = p.withUser(f, func(uid string) error { return p.presence.RemoveOnDisconnect(ctx, uid) })
	case TypeSubscribePresence:
		_, err = p.presence.Subscribe(ctx, func(all map[string]presence.Doc) {
			p.enqueue(Frame{Type: TypePresence, Presence: all})
		})
	default:
		p.enqueue(Frame{Type: TypeAck, ID: f.ID, Code: CodeUnknown, Error: fmt.Sprintf("unknown frame type %q", f.Type)})
		return
	}
	if err != nil {
		p.log.Debug("request failed", "type", f.Type, "shape_id", f.ShapeID, "error", err)
	}
	p.enqueue(ack(f, err))
}

func (p *peer) create(ctx context.Context, f Frame) error {
	if f.Shape == nil {
		return fmt.Errorf("%w: create needs shape", ErrInvalid)
	}
	if err := f.Shape.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return p.room.shapes.Create(ctx, *f.Shape)
}

func (p *peer) subscribeShapes(ctx context.Context) error {
	cancel, err := p.room.shapes.Subscribe(ctx, func(shapes []state.Shape) {
		p.enqueue(Frame{Type: TypeShapes, Shapes: shapes})
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.shapeCancels = append(p.shapeCancels, cancel)
	p.mu.Unlock()
	return nil
}

func (p *peer) withUser(f Frame, fn func(uid string) error) error {
	if f.UserID == "" {
		return fmt.Errorf("%w: %s needs userId", ErrInvalid, f.Type)
	}
	return fn(f.UserID)
}

// enqueue hands f to the writer. It blocks while the buffer is full and
// gives up once the connection is shutting down.
func (p *peer) enqueue(f Frame) {
	select {
	case p.send <- f:
	case <-p.done:
	}
}

func (p *peer) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case f := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteJSON(f); err != nil {
				p.log.Debug("write failed", "error", err)
				// Unblock the read loop so the peer shuts down.
				p.ws.Close()
				return
			}
		case <-ping.C:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.ws.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// shutdown runs once the read loop has ended, whatever the reason. The
// presence removals registered by this connection run here.
func (p *peer) shutdown() {
	close(p.done)

	p.mu.Lock()
	cancels := p.shapeCancels
	p.shapeCancels = nil
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}

	p.presence.Drop()
	p.ws.Close()
	p.srv.peers.Remove(p.info.ID)
	p.srv.cfg.Metrics.ConnClosed()
}
