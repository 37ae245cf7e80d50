package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"SyncBoard/internal/async"
	"SyncBoard/internal/clock"
	"SyncBoard/internal/metrics"
	"SyncBoard/internal/state"
)

// DefaultPendingTTL is how long a pending-shape broadcast lives when no
// durable confirmation arrives.
const DefaultPendingTTL = 5 * time.Second

const defaultWriteTimeout = 5 * time.Second

// Config configures a Manager.
type Config struct {
	Channel      Channel
	Clock        clock.Clock
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	PendingTTL   time.Duration
	WriteTimeout time.Duration
}

// Manager owns this session's presence record and the derived views of
// every peer's record.
type Manager struct {
	cfg    Config
	log    *slog.Logger
	clock  clock.Clock
	writes *async.Queue

	mu           sync.Mutex
	self         Identity
	started      bool
	unsubscribe  func()
	pendingID    string
	pendingTimer clock.Timer
	views        Views

	lmu       sync.Mutex
	listeners []func(Changed)
}

// NewManager creates a stopped manager.
func NewManager(cfg Config) *Manager {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		log:    logger.With("component", "presence"),
		clock:  clock.OrReal(cfg.Clock),
		writes: async.NewQueue(),
		views:  emptyViews(),
	}
}

// Start registers the disconnect removal, writes the initial record and
// subscribes to the presence map. The removal is registered first so a
// connection lost right after the initial write still cleans up.
func (m *Manager) Start(ctx context.Context, id Identity) error {
	if id.UserID == "" {
		return ErrNoIdentity
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("presence already started for %s", m.self.UserID)
	}
	m.self = id
	m.started = true
	m.mu.Unlock()

	fail := func(step string, err error) error {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return fmt.Errorf("presence %s: %w", step, err)
	}

	ch := m.cfg.Channel
	if err := ch.RemoveOnDisconnect(ctx, id.UserID); err != nil {
		return fail("register disconnect removal", err)
	}
	initial, err := m.initialDoc(id)
	if err != nil {
		return fail("encode record", err)
	}
	if err := ch.Set(ctx, id.UserID, initial); err != nil {
		return fail("write record", err)
	}
	cancel, err := ch.Subscribe(ctx, m.ingest)
	if err != nil {
		return fail("subscribe", err)
	}

	m.mu.Lock()
	m.unsubscribe = cancel
	m.mu.Unlock()
	m.log.Info("presence started", "user_id", id.UserID)
	return nil
}

func (m *Manager) initialDoc(id Identity) (Doc, error) {
	doc := Doc{}
	for k, v := range map[string]any{
		FieldDisplayName:  id.DisplayName,
		FieldColorHex:     id.ColorHex,
		FieldLastActive:   m.clock.Now().UnixMilli(),
		FieldOnlineStatus: StatusOnline,
	} {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc[k] = raw
	}
	return doc, nil
}

// Stop cancels the pending-shape expiry, flushes queued writes and removes
// the record explicitly. The channel's disconnect removal stays registered.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	uid := m.self.UserID
	cancel := m.unsubscribe
	m.unsubscribe = nil
	if m.pendingTimer != nil {
		m.pendingTimer.Stop()
		m.pendingTimer = nil
	}
	m.pendingID = ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.writes.Wait()

	if err := m.cfg.Channel.Remove(ctx, uid); err != nil {
		m.log.Warn("explicit presence removal failed", "user_id", uid, "error", err)
		return err
	}
	m.log.Info("presence stopped", "user_id", uid)
	return nil
}

// Flush waits for every queued presence write.
func (m *Manager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Self returns the local user id.
func (m *Manager) Self() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self.UserID
}

// SetCursor publishes the pointer position and refreshes liveness.
func (m *Manager) SetCursor(c Cursor) error {
	return m.write(map[string]any{
		FieldCursorX:    c.X,
		FieldCursorY:    c.Y,
		FieldLastActive: m.clock.Now().UnixMilli(),
	})
}

// ClearCursor hides the pointer, e.g. when it leaves the board.
func (m *Manager) ClearCursor() error {
	return m.write(map[string]any{FieldCursorX: nil, FieldCursorY: nil})
}

// SetPreview publishes the shape being drawn.
func (m *Manager) SetPreview(s state.Shape) error {
	return m.write(map[string]any{FieldShapePreview: s})
}

// ClearPreview removes the drawing preview.
func (m *Manager) ClearPreview() error {
	return m.write(map[string]any{FieldShapePreview: nil})
}

// SetTransform publishes an in-progress drag, resize or rotation.
func (m *Manager) SetTransform(t Transform) error {
	return m.write(map[string]any{FieldActiveTransform: t})
}

// ClearTransform removes the active transform.
func (m *Manager) ClearTransform() error {
	return m.write(map[string]any{FieldActiveTransform: nil})
}

// SetSelection publishes the selected shape ids. An empty list clears it.
func (m *Manager) SetSelection(ids []string) error {
	if len(ids) == 0 {
		return m.ClearSelection()
	}
	return m.write(map[string]any{FieldSelectedShapes: ids})
}

// ClearSelection removes the selection.
func (m *Manager) ClearSelection() error {
	return m.write(map[string]any{FieldSelectedShapes: nil})
}

// SetStatus publishes the online status and refreshes liveness.
func (m *Manager) SetStatus(status string) error {
	return m.write(map[string]any{
		FieldOnlineStatus: status,
		FieldLastActive:   m.clock.Now().UnixMilli(),
	})
}

// Touch refreshes the liveness timestamp.
func (m *Manager) Touch() error {
	return m.write(map[string]any{FieldLastActive: m.clock.Now().UnixMilli()})
}

// BroadcastPending publishes a just-created shape so peers can draw it
// before the durable create is visible to them. The broadcast is cleared
// after the pending TTL unless ConfirmPending clears it first. A newer
// broadcast replaces an older one.
func (m *Manager) BroadcastPending(s state.Shape) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.pendingTimer != nil {
		m.pendingTimer.Stop()
	}
	id := s.ID
	m.pendingID = id
	m.pendingTimer = m.clock.AfterFunc(m.cfg.PendingTTL, func() { m.expirePending(id) })
	m.mu.Unlock()

	return m.write(map[string]any{FieldPendingShape: s})
}

// ConfirmPending clears the pending-shape broadcast early if it is for one
// of ids. It reports whether anything was cleared.
func (m *Manager) ConfirmPending(ids ...string) bool {
	m.mu.Lock()
	if m.pendingID == "" || !slices.Contains(ids, m.pendingID) {
		m.mu.Unlock()
		return false
	}
	if m.pendingTimer != nil {
		m.pendingTimer.Stop()
		m.pendingTimer = nil
	}
	m.pendingID = ""
	m.mu.Unlock()

	_ = m.write(map[string]any{FieldPendingShape: nil})
	return true
}

// PendingID returns the id of the shape currently broadcast as pending.
func (m *Manager) PendingID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingID
}

func (m *Manager) expirePending(id string) {
	m.mu.Lock()
	if m.pendingID != id {
		m.mu.Unlock()
		return
	}
	m.pendingID = ""
	m.pendingTimer = nil
	m.mu.Unlock()

	m.cfg.Metrics.PendingExpiry()
	m.log.Debug("pending shape expired", "shape_id", id)
	_ = m.write(map[string]any{FieldPendingShape: nil})
}

// write queues one partial update. Fields set to nil are cleared.
func (m *Manager) write(fields map[string]any) error {
	doc := make(Doc, len(fields))
	for k, v := range fields {
		raw, err := encode(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		doc[k] = raw
	}

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	uid := m.self.UserID
	// Enqueued under the lock so Stop's Wait sees every accepted write.
	m.writes.Go(uid, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
		defer cancel()
		if err := m.cfg.Channel.Update(ctx, uid, doc); err != nil {
			m.log.Warn("presence write failed", "fields", slices.Sorted(maps.Keys(doc)), "error", err)
		}
	})
	m.mu.Unlock()
	return nil
}

// OnChange registers fn to be called with the changed views after every
// presence map that differs from the previous one.
func (m *Manager) OnChange(fn func(Changed)) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) ingest(all map[string]Doc) {
	records := make(map[string]Record, len(all))
	for uid, doc := range all {
		r, err := Decode(uid, doc)
		if err != nil {
			m.log.Debug("malformed presence fields", "user_id", uid, "error", err)
		}
		records[uid] = r
	}
	next := buildViews(records)

	m.mu.Lock()
	changed := m.views.diff(next)
	m.views = next
	m.mu.Unlock()

	m.cfg.Metrics.Peers(len(records))
	if changed == 0 {
		return
	}
	m.lmu.Lock()
	fns := slices.Clone(m.listeners)
	m.lmu.Unlock()
	for _, fn := range fns {
		fn(changed)
	}
}

// Views returns the current projections. The maps are copies; the values
// are shared and must not be modified.
func (m *Manager) Views() Views {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Views{
		Users:      maps.Clone(m.views.Users),
		Cursors:    maps.Clone(m.views.Cursors),
		Previews:   maps.Clone(m.views.Previews),
		Pending:    maps.Clone(m.views.Pending),
		Transforms: maps.Clone(m.views.Transforms),
		Selections: maps.Clone(m.views.Selections),
	}
}

// Users returns every connected user's record, the local user included.
func (m *Manager) Users() map[string]Record { return m.Views().Users }

// Cursors returns the cursor of every user that has one.
func (m *Manager) Cursors() map[string]Cursor { return m.Views().Cursors }

// Previews returns every in-progress drawing.
func (m *Manager) Previews() map[string]state.Shape { return m.Views().Previews }

// PendingShapes returns every unconfirmed just-created shape.
func (m *Manager) PendingShapes() map[string]state.Shape { return m.Views().Pending }

// Transforms returns every in-progress manipulation.
func (m *Manager) Transforms() map[string]Transform { return m.Views().Transforms }

// Selections returns every user's selected ids. Ids may refer to shapes
// that no longer exist.
func (m *Manager) Selections() map[string][]string { return m.Views().Selections }
