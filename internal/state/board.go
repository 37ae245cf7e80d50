// Package state is the in-process view of the shared shape collection.
//
// A Board applies local edits optimistically and reconciles them against
// the complete snapshots delivered by the durable store. Edits to the same
// field by different users are resolved by the store's own write order;
// there is no field-level merge.
package state

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"SyncBoard/internal/async"
	"SyncBoard/internal/clock"
	"SyncBoard/internal/metrics"
)

var tracer = otel.Tracer("SyncBoard/internal/state")

var (
	// ErrNoActor is reported for mutations attempted without an acting user.
	ErrNoActor = errors.New("no acting user")

	// ErrDuplicateID is reported when a create reuses a live id.
	ErrDuplicateID = errors.New("shape id already exists")

	// ErrNotFound is returned by a Store for an update to an id it does
	// not hold. The Board treats it as success: the shape was deleted by
	// someone else and the next snapshot removes it.
	ErrNotFound = errors.New("shape not found")
)

// DefaultWriteTimeout bounds each durable write.
const DefaultWriteTimeout = 10 * time.Second

// Store is the durable shape collection. Subscribe delivers the complete
// current set on every change, starting with the current set.
type Store interface {
	Create(ctx context.Context, s Shape) error
	Update(ctx context.Context, id string, p Patch) error
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context, fn func([]Shape)) (cancel func(), err error)
}

// Config configures a Board.
type Config struct {
	// Actor is the user id stamped on every change. Mutations are ignored
	// while it is empty.
	Actor string
	Store Store

	Clock        clock.Clock
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	WriteTimeout time.Duration

	// OnError, if set, is called for every failed durable write after the
	// failure has been logged and any rollback applied.
	OnError func(*WriteError)
}

type pendingCreate struct {
	acked bool
	// snapshots ingested when the create was acknowledged
	ackedAt int
}

// Board is the authoritative local shape collection for one session.
type Board struct {
	cfg    Config
	log    *slog.Logger
	clock  clock.Clock
	writes *async.Queue

	mu             sync.RWMutex
	shapes         map[string]Shape
	ordered        []Shape
	pendingCreates map[string]*pendingCreate
	pendingDeletes map[string]int
	selection      []string
	snapshots      int
	synced         chan struct{}

	lmu       sync.Mutex
	onChange  []func()
	onConfirm []func(ids []string)

	unsubscribe func()
}

// NewBoard creates an empty board. Call Start to begin ingesting snapshots.
func NewBoard(cfg Config) *Board {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		cfg:            cfg,
		log:            logger.With("component", "board", "actor", cfg.Actor),
		clock:          clock.OrReal(cfg.Clock),
		writes:         async.NewQueue(),
		shapes:         make(map[string]Shape),
		pendingCreates: make(map[string]*pendingCreate),
		pendingDeletes: make(map[string]int),
		synced:         make(chan struct{}),
	}
}

// Start subscribes to the store's snapshots.
func (b *Board) Start(ctx context.Context) error {
	cancel, err := b.cfg.Store.Subscribe(ctx, b.ApplySnapshot)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.unsubscribe = cancel
	b.mu.Unlock()
	return nil
}

// Close stops snapshot ingestion and waits for in-flight writes.
func (b *Board) Close() {
	b.mu.Lock()
	cancel := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.writes.Wait()
}

// Wait blocks until every write issued so far has finished or ctx ends.
func (b *Board) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Actor returns the acting user id.
func (b *Board) Actor() string { return b.cfg.Actor }

// OnChange registers fn to be called after every change to the view.
func (b *Board) OnChange(fn func()) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// OnConfirm registers fn to be called with the ids of local creates that a
// snapshot has just confirmed.
func (b *Board) OnConfirm(fn func(ids []string)) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	b.onConfirm = append(b.onConfirm, fn)
}

// AddShape inserts s into the view and persists it. Missing id, owner and
// timestamps are filled in. A zero Z means "unassigned" and gets
// DefaultZ; use AddShapeAt to keep an explicit key, zero included. A failed
// durable create removes the shape from the view again.
func (b *Board) AddShape(s Shape) *Write {
	return b.add(s, false)
}

// AddShapeAt is AddShape with s.Z kept as given, as for imported documents.
func (b *Board) AddShapeAt(s Shape) *Write {
	return b.add(s, true)
}

func (b *Board) add(s Shape, keepZ bool) *Write {
	if b.cfg.Actor == "" {
		b.log.Warn("add ignored: no acting user", "shape_id", s.ID)
		return completed(OpCreate, s.ID, ErrNoActor)
	}
	if s.ID == "" {
		s.ID = NewID()
	}
	now := b.clock.Now()
	if s.OwnerID == "" {
		s.OwnerID = b.cfg.Actor
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.LastModifiedBy = b.cfg.Actor
	if !keepZ && s.Z == 0 {
		s.Z = DefaultZ(now)
	}
	if err := s.Validate(); err != nil {
		b.log.Warn("add ignored: invalid shape", "shape_id", s.ID, "error", err)
		return completed(OpCreate, s.ID, err)
	}

	b.mu.Lock()
	if _, exists := b.shapes[s.ID]; exists {
		b.mu.Unlock()
		return completed(OpCreate, s.ID, ErrDuplicateID)
	}
	b.shapes[s.ID] = s
	b.pendingCreates[s.ID] = &pendingCreate{}
	b.resort()
	b.mu.Unlock()
	b.changed()

	return b.dispatch(OpCreate, s.ID,
		func(ctx context.Context) error { return b.cfg.Store.Create(ctx, s) },
		func(err error) {
			if err != nil {
				b.rollbackCreate(s.ID)
				return
			}
			b.mu.Lock()
			if pc := b.pendingCreates[s.ID]; pc != nil {
				pc.acked = true
				pc.ackedAt = b.snapshots
			}
			b.mu.Unlock()
		})
}

// UpdateShape merges p into the shape and persists the partial update. A
// failed write is not rolled back; the next snapshot restores the stored
// state. Unknown ids are ignored, including ids the store no longer holds.
func (b *Board) UpdateShape(id string, p Patch) *Write {
	return b.update(OpUpdate, id, func(Shape, []Shape) Patch { return p })
}

// UpdateLocal applies p to the view only. It is used for live drags whose
// durable writes are throttled separately. It reports whether id exists.
func (b *Board) UpdateLocal(id string, p Patch) bool {
	b.mu.Lock()
	s, ok := b.shapes[id]
	if ok {
		b.shapes[id] = p.Apply(s)
		b.resort()
	}
	b.mu.Unlock()
	if ok {
		b.changed()
	}
	return ok
}

// BringToFront gives the shape a key above every other shape.
func (b *Board) BringToFront(id string) *Write {
	return b.update(OpUpdate, id, func(_ Shape, all []Shape) Patch {
		return Patch{Z: Ptr(FrontZ(all, b.clock.Now()))}
	})
}

// SendToBack gives the shape a key below every other shape.
func (b *Board) SendToBack(id string) *Write {
	return b.update(OpUpdate, id, func(_ Shape, all []Shape) Patch {
		return Patch{Z: Ptr(BackZ(all, b.clock.Now()))}
	})
}

func (b *Board) update(op Op, id string, build func(s Shape, all []Shape) Patch) *Write {
	if b.cfg.Actor == "" {
		b.log.Warn("update ignored: no acting user", "shape_id", id)
		return completed(op, id, ErrNoActor)
	}

	b.mu.Lock()
	s, ok := b.shapes[id]
	if !ok {
		b.mu.Unlock()
		b.log.Debug("update ignored: shape not present", "shape_id", id)
		return completed(op, id, nil)
	}
	p := build(s, b.ordered)
	now := b.clock.Now()
	p.UpdatedAt = &now
	p.LastModifiedBy = Ptr(b.cfg.Actor)
	b.shapes[id] = p.Apply(s)
	b.resort()
	b.mu.Unlock()
	b.changed()

	return b.dispatch(op, id,
		func(ctx context.Context) error { return b.cfg.Store.Update(ctx, id, p) },
		nil)
}

// DeleteShape removes one shape. Deleting an absent id is a no-op.
func (b *Board) DeleteShape(id string) *Write {
	return b.DeleteShapes(id)[0]
}

// DeleteShapes removes the shapes from the view in one step, drops them from
// the local selection and persists each delete. The returned writes are in
// the order of ids.
func (b *Board) DeleteShapes(ids ...string) []*Write {
	writes := make([]*Write, len(ids))
	if b.cfg.Actor == "" {
		b.log.Warn("delete ignored: no acting user", "count", len(ids))
		for i, id := range ids {
			writes[i] = completed(OpDelete, id, ErrNoActor)
		}
		return writes
	}

	b.mu.Lock()
	var removed []string
	for i, id := range ids {
		if _, ok := b.shapes[id]; !ok {
			writes[i] = completed(OpDelete, id, nil)
			continue
		}
		delete(b.shapes, id)
		delete(b.pendingCreates, id)
		b.pendingDeletes[id]++
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		b.selection = slices.DeleteFunc(b.selection, func(sel string) bool {
			return slices.Contains(removed, sel)
		})
		b.resort()
	}
	b.mu.Unlock()
	if len(removed) > 0 {
		b.changed()
	}

	for i, id := range ids {
		if writes[i] != nil {
			continue
		}
		writes[i] = b.dispatch(OpDelete, id,
			func(ctx context.Context) error { return b.cfg.Store.Delete(ctx, id) },
			func(error) {
				b.mu.Lock()
				if b.pendingDeletes[id]--; b.pendingDeletes[id] <= 0 {
					delete(b.pendingDeletes, id)
				}
				b.mu.Unlock()
			})
	}
	return writes
}

// ApplySnapshot replaces the confirmed state with a complete snapshot.
// Local creates the store has not shown yet stay visible, and local deletes
// still in flight stay hidden.
func (b *Board) ApplySnapshot(docs []Shape) {
	b.mu.Lock()
	b.snapshots++
	if b.snapshots == 1 {
		close(b.synced)
	}
	next := make(map[string]Shape, len(docs)+len(b.pendingCreates))
	for _, s := range docs {
		if b.pendingDeletes[s.ID] > 0 {
			continue
		}
		next[s.ID] = s
	}

	var confirmed []string
	for id, pc := range b.pendingCreates {
		if _, ok := next[id]; ok {
			delete(b.pendingCreates, id)
			confirmed = append(confirmed, id)
			continue
		}
		// Acknowledged and still missing from a later snapshot: another
		// user deleted it before we ever saw it confirmed.
		if pc.acked && b.snapshots > pc.ackedAt+1 {
			delete(b.pendingCreates, id)
			continue
		}
		if s, ok := b.shapes[id]; ok {
			next[id] = s
		}
	}
	b.shapes = next
	b.resort()
	b.mu.Unlock()

	b.cfg.Metrics.Snapshot(len(docs))
	b.changed()
	if len(confirmed) > 0 {
		slices.Sort(confirmed)
		b.confirmed(confirmed)
	}
}

// Synced is closed once the first snapshot has been applied.
func (b *Board) Synced() <-chan struct{} { return b.synced }

// Shapes returns the shapes in paint order, bottom first.
func (b *Board) Shapes() []Shape {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.ordered)
}

// Shape returns one shape by id.
func (b *Board) Shape(id string) (Shape, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.shapes[id]
	return s, ok
}

// Len returns the number of visible shapes.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.shapes)
}

// Pending reports whether id is a local create not yet seen in a snapshot.
func (b *Board) Pending(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.pendingCreates[id]
	return ok
}

// Select replaces the local selection. Ids not on the board are skipped.
func (b *Board) Select(ids ...string) []string {
	b.mu.Lock()
	sel := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := b.shapes[id]; ok && !slices.Contains(sel, id) {
			sel = append(sel, id)
		}
	}
	b.selection = sel
	b.mu.Unlock()
	b.changed()
	return slices.Clone(sel)
}

// ClearSelection empties the local selection.
func (b *Board) ClearSelection() {
	b.mu.Lock()
	b.selection = nil
	b.mu.Unlock()
	b.changed()
}

// Selection returns the selected ids that are still on the board. Ids
// removed by another user are skipped rather than reported.
func (b *Board) Selection() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.selection))
	for _, id := range b.selection {
		if _, ok := b.shapes[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (b *Board) rollbackCreate(id string) {
	b.mu.Lock()
	_, pending := b.pendingCreates[id]
	if pending {
		delete(b.pendingCreates, id)
		delete(b.shapes, id)
		b.selection = slices.DeleteFunc(b.selection, func(sel string) bool { return sel == id })
		b.resort()
	}
	b.mu.Unlock()
	if !pending {
		return
	}
	b.cfg.Metrics.Rollback()
	b.log.Warn("create rolled back", "shape_id", id)
	b.changed()
}

// dispatch runs do on the write queue, after earlier writes for the same
// shape. after runs before the Write is marked finished, so a caller that
// waits on the Write observes any rollback.
func (b *Board) dispatch(op Op, id string, do func(context.Context) error, after func(error)) *Write {
	w := newWrite(op, id)
	b.writes.Go(id, func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.WriteTimeout)
		defer cancel()
		ctx, span := tracer.Start(ctx, "board."+string(op), trace.WithAttributes(
			attribute.String("shape.id", id),
			attribute.String("actor", b.cfg.Actor),
		))
		err := do(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if op == OpUpdate && errors.Is(err, ErrNotFound) {
			b.log.Debug("update dropped: shape deleted at the store", "shape_id", id)
			err = nil
		}
		b.cfg.Metrics.Write(string(op), err)
		if after != nil {
			after(err)
		}
		if err == nil {
			w.finish(nil)
			return
		}
		werr := &WriteError{Op: op, ShapeID: id, Err: err}
		b.log.Warn("durable write failed", "op", op, "shape_id", id, "error", err)
		if b.cfg.OnError != nil {
			b.cfg.OnError(werr)
		}
		w.finish(werr)
	})
	return w
}

// resort rebuilds the ordered slice. Callers hold mu.
func (b *Board) resort() {
	b.ordered = b.ordered[:0]
	for _, s := range b.shapes {
		b.ordered = append(b.ordered, s)
	}
	SortShapes(b.ordered)
}

func (b *Board) changed() {
	b.lmu.Lock()
	fns := slices.Clone(b.onChange)
	b.lmu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *Board) confirmed(ids []string) {
	b.lmu.Lock()
	fns := slices.Clone(b.onConfirm)
	b.lmu.Unlock()
	for _, fn := range fns {
		fn(ids)
	}
}
