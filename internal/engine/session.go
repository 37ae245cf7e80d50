// Package engine ties one user's board view, presence and rate limiting
// into a single session object. Rendering and input layers drive a Session
// and read its views; they never touch the stores directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"SyncBoard/internal/clock"
	"SyncBoard/internal/metrics"
	"SyncBoard/internal/presence"
	"SyncBoard/internal/state"
	"SyncBoard/internal/throttle"
)

// Config configures a Session.
type Config struct {
	Identity presence.Identity
	Store    state.Store
	Channel  presence.Channel

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// ThrottleInterval spaces cursor, drag, preview and transform traffic.
	ThrottleInterval time.Duration
	PendingTTL       time.Duration
	WriteTimeout     time.Duration

	OnError func(*state.WriteError)
}

// Session is one user's editing session on one board.
type Session struct {
	log      *slog.Logger
	board    *state.Board
	presence *presence.Manager
	identity presence.Identity

	cursor    *throttle.Throttle[presence.Cursor]
	preview   *throttle.Throttle[state.Shape]
	drag      *throttle.Throttle[presence.Transform]
	transform *throttle.Throttle[presence.Transform]

	mu     sync.Mutex
	active *presence.Transform
}

// New builds a session. Nothing is sent until Start.
func New(cfg Config) *Session {
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = throttle.DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user_id", cfg.Identity.UserID)

	s := &Session{
		log:      logger.With("component", "session"),
		identity: cfg.Identity,
		board: state.NewBoard(state.Config{
			Actor:        cfg.Identity.UserID,
			Store:        cfg.Store,
			Clock:        cfg.Clock,
			Logger:       logger,
			Metrics:      cfg.Metrics,
			WriteTimeout: cfg.WriteTimeout,
			OnError:      cfg.OnError,
		}),
		presence: presence.NewManager(presence.Config{
			Channel:      cfg.Channel,
			Clock:        cfg.Clock,
			Logger:       logger,
			Metrics:      cfg.Metrics,
			PendingTTL:   cfg.PendingTTL,
			WriteTimeout: cfg.WriteTimeout,
		}),
	}

	opts := func(name string) []throttle.Option {
		return []throttle.Option{throttle.WithClock(cfg.Clock), throttle.WithObserver(name, cfg.Metrics)}
	}
	s.cursor = throttle.New(cfg.ThrottleInterval, s.sendCursor, opts("cursor")...)
	s.preview = throttle.New(cfg.ThrottleInterval, s.sendPreview, opts("preview")...)
	s.drag = throttle.New(cfg.ThrottleInterval, s.sendDrag, opts("drag")...)
	s.transform = throttle.New(cfg.ThrottleInterval, s.sendTransform, opts("transform")...)

	s.board.OnConfirm(func(ids []string) { s.presence.ConfirmPending(ids...) })
	return s
}

// Start begins snapshot ingestion and publishes the presence record.
func (s *Session) Start(ctx context.Context) error {
	if err := s.board.Start(ctx); err != nil {
		return fmt.Errorf("start board: %w", err)
	}
	if err := s.presence.Start(ctx, s.identity); err != nil {
		s.board.Close()
		return err
	}
	s.log.Info("session started")
	return nil
}

// Close drops unsent throttled traffic, removes the presence record and
// waits for durable writes.
func (s *Session) Close(ctx context.Context) error {
	for _, t := range []interface{ Clear() }{s.cursor, s.preview, s.drag, s.transform} {
		t.Clear()
	}
	err := s.presence.Stop(ctx)
	s.board.Close()
	s.log.Info("session closed")
	return err
}

// Flush waits for every queued durable and presence write.
func (s *Session) Flush(ctx context.Context) error {
	return errors.Join(s.board.Wait(ctx), s.presence.Flush(ctx))
}

// Board returns the local shape view.
func (s *Session) Board() *state.Board { return s.board }

// Presence returns the presence manager and its peer views.
func (s *Session) Presence() *presence.Manager { return s.presence }

// UserID returns the acting user.
func (s *Session) UserID() string { return s.identity.UserID }

// Shapes returns the shapes in paint order.
func (s *Session) Shapes() []state.Shape { return s.board.Shapes() }

// MoveCursor publishes the pointer position, rate limited.
func (s *Session) MoveCursor(x, y float64) {
	s.cursor.Submit(presence.Cursor{X: x, Y: y})
}

// LeaveBoard hides the cursor, dropping any unsent position.
func (s *Session) LeaveBoard() {
	s.cursor.Clear()
	s.report("clear cursor", s.presence.ClearCursor())
}

// UpdatePreview publishes the shape being drawn, rate limited.
func (s *Session) UpdatePreview(shape state.Shape) {
	s.preview.Submit(shape)
}

// EndPreview removes the drawing preview.
func (s *Session) EndPreview() {
	s.preview.Clear()
	s.report("clear preview", s.presence.ClearPreview())
}

// AddShape creates the shape and broadcasts it as pending so peers see it
// before the durable create reaches them.
func (s *Session) AddShape(shape state.Shape) *state.Write {
	w := s.board.AddShape(shape)
	added, ok := s.board.Shape(w.ShapeID)
	if !ok || !s.board.Pending(w.ShapeID) {
		return w
	}
	s.report("broadcast pending", s.presence.BroadcastPending(added))
	// Confirmed while the broadcast was being set up.
	if !s.board.Pending(w.ShapeID) {
		s.presence.ConfirmPending(w.ShapeID)
	}
	return w
}

// UpdateShape merges p into the shape and persists it.
func (s *Session) UpdateShape(id string, p state.Patch) *state.Write {
	return s.board.UpdateShape(id, p)
}

// Drag moves the shape's anchor to x, y during a gesture.
func (s *Session) Drag(id string, x, y float64) bool {
	shape, ok := s.board.Shape(id)
	if !ok {
		return false
	}
	return s.Transform(presence.Transform{ShapeID: id, Mode: presence.ModeDrag, Patch: s.gesturePatch(id, shape.Translate(x-shape.X, y-shape.Y))})
}

// Resize gives the shape a w×h box during a gesture.
func (s *Session) Resize(id string, w, h float64) bool {
	shape, ok := s.board.Shape(id)
	if !ok {
		return false
	}
	return s.Transform(presence.Transform{ShapeID: id, Mode: presence.ModeResize, Patch: s.gesturePatch(id, shape.Resize(w, h))})
}

// Rotate sets the rotation in degrees during a gesture.
func (s *Session) Rotate(id string, degrees float64) bool {
	return s.Transform(presence.Transform{ShapeID: id, Mode: presence.ModeRotate, Patch: s.gesturePatch(id, state.Patch{Rotation: state.Ptr(degrees)})})
}

// gesturePatch folds p into the fields already changed by the active
// gesture on id, so the last patch of a gesture carries all of them.
func (s *Session) gesturePatch(id string, p state.Patch) state.Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.ShapeID == id {
		return s.active.Patch.Merge(p)
	}
	return p
}

// Transform applies an in-progress change locally at once, and sends the
// durable update and the presence broadcast through their throttles. It
// reports false if the shape is gone. Starting a gesture on another shape
// ends the previous one.
func (s *Session) Transform(t presence.Transform) bool {
	s.mu.Lock()
	prev := s.active
	s.mu.Unlock()
	if prev != nil && prev.ShapeID != t.ShapeID {
		s.EndTransform()
	}

	if !s.board.UpdateLocal(t.ShapeID, t.Patch) {
		return false
	}
	s.mu.Lock()
	s.active = &t
	s.mu.Unlock()

	s.drag.Submit(t)
	s.transform.Submit(t)
	return true
}

// EndTransform finishes the active gesture: unsent throttled traffic is
// dropped, the final state is written once and the broadcast is cleared.
func (s *Session) EndTransform() *state.Write {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()

	s.drag.Clear()
	s.transform.Clear()
	s.report("clear transform", s.presence.ClearTransform())
	if active == nil {
		return nil
	}
	return s.board.UpdateShape(active.ShapeID, active.Patch)
}

// Select replaces the selection and publishes it.
func (s *Session) Select(ids ...string) []string {
	sel := s.board.Select(ids...)
	s.report("publish selection", s.presence.SetSelection(sel))
	return sel
}

// ClearSelection empties the selection.
func (s *Session) ClearSelection() {
	s.board.ClearSelection()
	s.report("clear selection", s.presence.ClearSelection())
}

// Selection returns the selected ids still on the board.
func (s *Session) Selection() []string { return s.board.Selection() }

// DeleteShapes removes the shapes and republishes the purged selection.
func (s *Session) DeleteShapes(ids ...string) []*state.Write {
	s.mu.Lock()
	cancelGesture := s.active != nil && slices.Contains(ids, s.active.ShapeID)
	if cancelGesture {
		s.active = nil
	}
	s.mu.Unlock()
	if cancelGesture {
		s.drag.Clear()
		s.transform.Clear()
		s.report("clear transform", s.presence.ClearTransform())
	}

	writes := s.board.DeleteShapes(ids...)
	s.report("publish selection", s.presence.SetSelection(s.board.Selection()))
	return writes
}

// BringToFront moves the shape above every other shape.
func (s *Session) BringToFront(id string) *state.Write { return s.board.BringToFront(id) }

// SendToBack moves the shape below every other shape.
func (s *Session) SendToBack(id string) *state.Write { return s.board.SendToBack(id) }

// PeerSelections returns every other user's selection, limited to shapes
// still on the board. Selections that refer only to deleted shapes are
// left out.
func (s *Session) PeerSelections() map[string][]string {
	out := make(map[string][]string)
	for uid, ids := range s.presence.Selections() {
		if uid == s.identity.UserID {
			continue
		}
		var live []string
		for _, id := range ids {
			if _, ok := s.board.Shape(id); ok {
				live = append(live, id)
			}
		}
		if len(live) > 0 {
			out[uid] = live
		}
	}
	return out
}

func (s *Session) sendCursor(c presence.Cursor) {
	s.report("publish cursor", s.presence.SetCursor(c))
}

func (s *Session) sendPreview(shape state.Shape) {
	s.report("publish preview", s.presence.SetPreview(shape))
}

func (s *Session) sendDrag(t presence.Transform) {
	s.board.UpdateShape(t.ShapeID, t.Patch)
}

func (s *Session) sendTransform(t presence.Transform) {
	s.report("publish transform", s.presence.SetTransform(t))
}

// report logs presence calls refused locally, e.g. before Start.
func (s *Session) report(what string, err error) {
	if err != nil {
		s.log.Debug(what, "error", err)
	}
}
