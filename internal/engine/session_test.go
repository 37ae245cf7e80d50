package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SyncBoard/internal/clock"
	"SyncBoard/internal/metrics"
	"SyncBoard/internal/presence"
	"SyncBoard/internal/state"
	"SyncBoard/internal/store"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// gatedStore holds creates or updates until their gate is closed.
type gatedStore struct {
	*store.Memory
	createGate chan struct{}
	updateGate chan struct{}
	updates    atomic.Int32
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedStore) Create(ctx context.Context, s state.Shape) error {
	if err := wait(ctx, g.createGate); err != nil {
		return err
	}
	return g.Memory.Create(ctx, s)
}

func (g *gatedStore) Update(ctx context.Context, id string, p state.Patch) error {
	if err := wait(ctx, g.updateGate); err != nil {
		return err
	}
	g.updates.Add(1)
	return g.Memory.Update(ctx, id, p)
}

type rig struct {
	clk *clock.Fake
	hub *presence.MemoryHub
	db  *store.Memory
}

func newRig() *rig {
	return &rig{clk: clock.NewFake(epoch), hub: presence.NewMemoryHub(nil), db: store.NewMemory()}
}

func (r *rig) session(t *testing.T, uid string, st state.Store, m *metrics.Metrics) *Session {
	t.Helper()
	if st == nil {
		st = r.db
	}
	s := New(Config{
		Identity:     presence.Identity{UserID: uid, DisplayName: uid, ColorHex: "#336699"},
		Store:        st,
		Channel:      r.hub.Connect(),
		Clock:        r.clk,
		Metrics:      m,
		WriteTimeout: 2 * time.Second,
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func TestSession_CursorIsThrottled(t *testing.T) {
	r := newRig()
	m := metrics.New(prometheus.NewRegistry())
	alice := r.session(t, "alice", nil, m)
	bob := r.session(t, "bob", nil, nil)

	alice.MoveCursor(1, 1)
	alice.MoveCursor(2, 2)
	alice.MoveCursor(3, 3)
	flush(t, alice)

	eventually(t, func() bool { return bob.Presence().Cursors()["alice"] == presence.Cursor{X: 1, Y: 1} })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThrottleSends.WithLabelValues("cursor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThrottleCoalesced.WithLabelValues("cursor")))

	r.clk.Advance(50 * time.Millisecond)
	flush(t, alice)
	eventually(t, func() bool { return bob.Presence().Cursors()["alice"] == presence.Cursor{X: 3, Y: 3} })
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ThrottleSends.WithLabelValues("cursor")))

	alice.LeaveBoard()
	eventually(t, func() bool {
		_, ok := bob.Presence().Cursors()["alice"]
		return !ok
	})
}

func TestSession_PendingShapeUntilConfirmed(t *testing.T) {
	r := newRig()
	gated := &gatedStore{Memory: r.db, createGate: make(chan struct{})}
	alice := r.session(t, "alice", gated, nil)
	bob := r.session(t, "bob", nil, nil)

	w := alice.AddShape(state.NewRectangle(10, 10, 30, 20))
	require.NoError(t, w.Err())
	assert.True(t, alice.Board().Pending(w.ShapeID))
	assert.Equal(t, w.ShapeID, alice.Presence().PendingID())

	eventually(t, func() bool { return bob.Presence().PendingShapes()["alice"].ID == w.ShapeID })
	_, durable := bob.Board().Shape(w.ShapeID)
	assert.False(t, durable)

	close(gated.createGate)
	require.NoError(t, w.Wait(context.Background()))

	eventually(t, func() bool { return alice.Presence().PendingID() == "" })
	eventually(t, func() bool {
		_, ok := bob.Board().Shape(w.ShapeID)
		return ok && len(bob.Presence().PendingShapes()) == 0
	})
	assert.Zero(t, r.clk.Pending(), "confirmation cancels the expiry timer")
}

func TestSession_FastConfirmationClearsPending(t *testing.T) {
	r := newRig()
	alice := r.session(t, "alice", nil, nil)
	bob := r.session(t, "bob", nil, nil)

	var writes []*state.Write
	for i := range 20 {
		writes = append(writes, alice.AddShape(state.NewRectangle(float64(i)*40, 0, 30, 20)))
	}
	require.Empty(t, state.WaitAll(context.Background(), writes...))

	eventually(t, func() bool { return alice.Board().Len() == 20 && alice.Presence().PendingID() == "" })
	eventually(t, func() bool { return bob.Board().Len() == 20 && len(bob.Presence().PendingShapes()) == 0 })
	assert.Zero(t, r.clk.Pending(), "no expiry timer outlives its confirmation")
}

func TestSession_PendingShapeExpiresWhenCreateStalls(t *testing.T) {
	r := newRig()
	gated := &gatedStore{Memory: r.db, createGate: make(chan struct{})}
	alice := r.session(t, "alice", gated, nil)
	bob := r.session(t, "bob", nil, nil)
	t.Cleanup(func() { close(gated.createGate) })

	w := alice.AddShape(state.NewCircle(50, 50, 10, 10))
	eventually(t, func() bool { return len(bob.Presence().PendingShapes()) == 1 })

	r.clk.Advance(presence.DefaultPendingTTL)
	eventually(t, func() bool { return len(bob.Presence().PendingShapes()) == 0 })
	assert.True(t, alice.Board().Pending(w.ShapeID), "the local optimistic shape stays")
}

func TestSession_DragAppliesLocallyAndWritesFinalState(t *testing.T) {
	r := newRig()
	gated := &gatedStore{Memory: r.db, updateGate: make(chan struct{})}
	alice := r.session(t, "alice", gated, nil)
	bob := r.session(t, "bob", nil, nil)

	w := alice.AddShape(state.NewRectangle(0, 0, 10, 10))
	require.NoError(t, w.Wait(context.Background()))
	id := w.ShapeID
	eventually(t, func() bool { return !alice.Board().Pending(id) })

	require.True(t, alice.Drag(id, 10, 10))
	require.True(t, alice.Drag(id, 20, 20))
	require.True(t, alice.Drag(id, 30, 30))

	got, _ := alice.Board().Shape(id)
	assert.Equal(t, 30.0, got.X, "drags show locally before any write lands")
	eventually(t, func() bool {
		tr, ok := bob.Presence().Transforms()["alice"]
		return ok && tr.ShapeID == id && tr.Mode == presence.ModeDrag && tr.Patch.X != nil && *tr.Patch.X == 10
	})

	final := alice.EndTransform()
	require.NotNil(t, final)
	close(gated.updateGate)
	require.NoError(t, final.Wait(context.Background()))

	assert.Equal(t, int32(2), gated.updates.Load(), "one throttled write and the final one")
	eventually(t, func() bool {
		s, ok := bob.Board().Shape(id)
		return ok && s.X == 30 && s.Y == 30
	})
	eventually(t, func() bool { return len(bob.Presence().Transforms()) == 0 })

	r.clk.Advance(time.Second)
	flush(t, alice)
	assert.Equal(t, int32(2), gated.updates.Load(), "cleared throttles send nothing later")
	assert.Nil(t, alice.EndTransform())
}

func TestSession_SwitchingShapesEndsGesture(t *testing.T) {
	r := newRig()
	alice := r.session(t, "alice", nil, nil)
	ctx := context.Background()

	a := alice.AddShape(state.NewRectangle(0, 0, 10, 10))
	b := alice.AddShape(state.NewRectangle(100, 0, 10, 10))
	require.NoError(t, a.Wait(ctx))
	require.NoError(t, b.Wait(ctx))

	alice.Drag(a.ShapeID, 10, 10)
	alice.Drag(a.ShapeID, 20, 20)
	alice.Rotate(b.ShapeID, 45)
	r.clk.Advance(50 * time.Millisecond)
	require.NoError(t, alice.EndTransform().Wait(ctx))
	flush(t, alice)

	eventually(t, func() bool {
		byID := map[string]state.Shape{}
		for _, s := range r.db.Snapshot() {
			byID[s.ID] = s
		}
		return byID[a.ShapeID].X == 20 && byID[b.ShapeID].Style.Rotation == 45
	})
}

func TestSession_ResizeKeepsEarlierGestureFields(t *testing.T) {
	r := newRig()
	alice := r.session(t, "alice", nil, nil)
	ctx := context.Background()

	w := alice.AddShape(state.NewRectangle(0, 0, 10, 10))
	require.NoError(t, w.Wait(ctx))

	alice.Drag(w.ShapeID, 5, 5)
	alice.Resize(w.ShapeID, 40, 30)
	require.NoError(t, alice.EndTransform().Wait(ctx))

	eventually(t, func() bool {
		for _, s := range r.db.Snapshot() {
			if s.ID == w.ShapeID {
				box := s.Geometry.(state.Box)
				return s.X == 5 && box.Width == 40 && box.Height == 30
			}
		}
		return false
	})
}

func TestSession_SelectionsAcrossDeletes(t *testing.T) {
	r := newRig()
	alice := r.session(t, "alice", nil, nil)
	bob := r.session(t, "bob", nil, nil)
	ctx := context.Background()

	a := alice.AddShape(state.NewRectangle(0, 0, 10, 10))
	b := alice.AddShape(state.NewText(50, 50, "hi"))
	require.NoError(t, a.Wait(ctx))
	require.NoError(t, b.Wait(ctx))
	eventually(t, func() bool { return bob.Board().Len() == 2 })

	assert.ElementsMatch(t, []string{a.ShapeID, b.ShapeID}, alice.Select(a.ShapeID, b.ShapeID, "ghost"))
	eventually(t, func() bool { return len(bob.PeerSelections()["alice"]) == 2 })
	assert.NotContains(t, alice.PeerSelections(), "alice")

	// Bob deletes a shape Alice has selected; Alice's published selection
	// still names it, but Bob's view drops it.
	require.Empty(t, state.WaitAll(ctx, bob.DeleteShapes(a.ShapeID)...))
	assert.Equal(t, map[string][]string{"alice": {b.ShapeID}}, bob.PeerSelections())
	eventually(t, func() bool { return alice.Board().Len() == 1 })
	assert.Equal(t, []string{b.ShapeID}, alice.Selection())

	require.Empty(t, state.WaitAll(ctx, alice.DeleteShapes(b.ShapeID)...))
	flush(t, alice)
	eventually(t, func() bool {
		_, ok := bob.Presence().Selections()["alice"]
		return !ok
	})
	assert.Empty(t, alice.Selection())
}

func TestSession_DeleteCancelsGesture(t *testing.T) {
	r := newRig()
	alice := r.session(t, "alice", nil, nil)
	ctx := context.Background()

	w := alice.AddShape(state.NewRectangle(0, 0, 10, 10))
	require.NoError(t, w.Wait(ctx))
	alice.Drag(w.ShapeID, 10, 10)
	alice.Drag(w.ShapeID, 20, 20)

	require.Empty(t, state.WaitAll(ctx, alice.DeleteShapes(w.ShapeID)...))
	assert.Nil(t, alice.EndTransform())
	eventually(t, func() bool { return alice.Board().Len() == 0 })
	assert.False(t, alice.Drag(w.ShapeID, 30, 30))
}

func TestSession_CloseRemovesPresence(t *testing.T) {
	r := newRig()
	alice := New(Config{
		Identity: presence.Identity{UserID: "alice"},
		Store:    r.db,
		Channel:  r.hub.Connect(),
		Clock:    r.clk,
	})
	require.NoError(t, alice.Start(context.Background()))
	bob := r.session(t, "bob", nil, nil)
	eventually(t, func() bool { return len(bob.Presence().Users()) == 2 })

	alice.MoveCursor(5, 5)
	alice.MoveCursor(6, 6)
	require.NoError(t, alice.Close(context.Background()))

	eventually(t, func() bool {
		_, ok := bob.Presence().Users()["alice"]
		return !ok
	})
	assert.Equal(t, 1, r.hub.Len())
}
