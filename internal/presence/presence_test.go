package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SyncBoard/internal/clock"
	"SyncBoard/internal/metrics"
	"SyncBoard/internal/state"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type session struct {
	m    *Manager
	conn *Conn
	clk  *clock.Fake
	met  *metrics.Metrics
}

func startSession(t *testing.T, hub *MemoryHub, uid string) *session {
	t.Helper()
	s := &session{
		conn: hub.Connect(),
		clk:  clock.NewFake(epoch),
		met:  metrics.New(prometheus.NewRegistry()),
	}
	s.m = NewManager(Config{Channel: s.conn, Clock: s.clk, Metrics: s.met})
	require.NoError(t, s.m.Start(context.Background(), Identity{UserID: uid, DisplayName: uid, ColorHex: "#336699"}))
	return s
}

func (s *session) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.m.Flush(ctx))
}

func field[T any](t *testing.T, d Doc, name string) T {
	t.Helper()
	raw, ok := d[name]
	require.True(t, ok, "field %s missing", name)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestDoc_MergeNullDeletes(t *testing.T) {
	d := Doc{"a": json.RawMessage(`1`), "b": json.RawMessage(`"x"`)}
	got := d.Merge(Doc{"a": json.RawMessage(`null`), "c": json.RawMessage(`true`)})
	assert.Equal(t, Doc{"b": json.RawMessage(`"x"`), "c": json.RawMessage(`true`)}, got)
	assert.Len(t, d, 2, "receiver is not modified")

	assert.Equal(t, Doc{"c": json.RawMessage(`1`)}, Doc(nil).Merge(Doc{"c": json.RawMessage(`1`)}))
}

func TestDecode_SkipsMalformedField(t *testing.T) {
	r, err := Decode("u1", Doc{
		FieldDisplayName:    json.RawMessage(`"Ann"`),
		FieldCursorX:        json.RawMessage(`"left"`),
		FieldCursorY:        json.RawMessage(`4`),
		FieldSelectedShapes: json.RawMessage(`["s1","s2"]`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), FieldCursorX)
	assert.Equal(t, "Ann", r.DisplayName)
	assert.Nil(t, r.Cursor)
	assert.Equal(t, []string{"s1", "s2"}, r.SelectedShapes)
}

func TestManager_StartWritesRecord(t *testing.T) {
	hub := NewMemoryHub(nil)
	s := startSession(t, hub, "alice")

	doc := hub.Snapshot()["alice"]
	assert.Equal(t, "alice", field[string](t, doc, FieldDisplayName))
	assert.Equal(t, "#336699", field[string](t, doc, FieldColorHex))
	assert.Equal(t, StatusOnline, field[string](t, doc, FieldOnlineStatus))
	assert.Equal(t, epoch.UnixMilli(), field[int64](t, doc, FieldLastActive))
	assert.Equal(t, "alice", s.m.Self())

	assert.Error(t, s.m.Start(context.Background(), Identity{UserID: "alice"}))
}

func TestManager_RequiresStart(t *testing.T) {
	m := NewManager(Config{Channel: NewMemoryHub(nil).Connect()})
	assert.ErrorIs(t, m.SetCursor(Cursor{X: 1}), ErrNotStarted)
	assert.ErrorIs(t, m.BroadcastPending(state.NewRectangle(0, 0, 1, 1)), ErrNotStarted)
	assert.ErrorIs(t, m.Start(context.Background(), Identity{}), ErrNoIdentity)
}

func TestManager_StartFailsOnClosedConnection(t *testing.T) {
	conn := NewMemoryHub(nil).Connect()
	require.NoError(t, conn.Close())
	m := NewManager(Config{Channel: conn})
	err := m.Start(context.Background(), Identity{UserID: "alice"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Touch(), ErrNotStarted)
}

func TestManager_PartialWritesKeepSiblings(t *testing.T) {
	hub := NewMemoryHub(nil)
	s := startSession(t, hub, "alice")
	preview := state.NewRectangle(1, 1, 5, 5)

	var wg sync.WaitGroup
	for _, write := range []func() error{
		func() error { return s.m.SetCursor(Cursor{X: 10, Y: 20}) },
		func() error { return s.m.SetSelection([]string{"s1", "s2"}) },
		func() error { return s.m.SetPreview(preview) },
		func() error {
			return s.m.SetTransform(Transform{ShapeID: "s1", Mode: ModeDrag, Patch: state.Patch{X: state.Ptr(3.0)}})
		},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, write())
		}()
	}
	wg.Wait()
	s.flush(t)

	r, err := Decode("alice", hub.Snapshot()["alice"])
	require.NoError(t, err)
	assert.Equal(t, "alice", r.DisplayName)
	assert.Equal(t, &Cursor{X: 10, Y: 20}, r.Cursor)
	assert.Equal(t, []string{"s1", "s2"}, r.SelectedShapes)
	require.NotNil(t, r.ShapePreview)
	assert.Equal(t, preview.ID, r.ShapePreview.ID)
	require.NotNil(t, r.ActiveTransform)
	assert.Equal(t, 3.0, *r.ActiveTransform.Patch.X)

	require.NoError(t, s.m.ClearPreview())
	require.NoError(t, s.m.ClearSelection())
	s.flush(t)
	doc := hub.Snapshot()["alice"]
	assert.NotContains(t, doc, FieldShapePreview)
	assert.NotContains(t, doc, FieldSelectedShapes)
	assert.Contains(t, doc, FieldCursorX)
}

func TestManager_AbruptDisconnectRemovesRecord(t *testing.T) {
	hub := NewMemoryHub(nil)
	var cleaned []string
	hub.OnCleanup = func(uids []string) { cleaned = append(cleaned, uids...) }

	alice := startSession(t, hub, "alice")
	bob := startSession(t, hub, "bob")
	require.NoError(t, alice.m.SetCursor(Cursor{X: 1, Y: 1}))
	alice.flush(t)

	require.Eventually(t, func() bool {
		_, ok := bob.m.Users()["alice"]
		return ok
	}, time.Second, 5*time.Millisecond)

	// No Stop call: the connection just goes away.
	alice.conn.Drop()

	assert.NotContains(t, hub.Snapshot(), "alice")
	assert.Equal(t, []string{"alice"}, cleaned)
	require.Eventually(t, func() bool {
		_, ok := bob.m.Users()["alice"]
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.NotContains(t, bob.m.Cursors(), "alice")

	assert.ErrorIs(t, alice.conn.Update(context.Background(), "alice", Doc{}), ErrClosed)
}

func TestManager_StopRemovesRecord(t *testing.T) {
	hub := NewMemoryHub(nil)
	s := startSession(t, hub, "alice")
	require.NoError(t, s.m.SetCursor(Cursor{X: 1, Y: 1}))

	require.NoError(t, s.m.Stop(context.Background()))
	assert.Zero(t, hub.Len())
	assert.ErrorIs(t, s.m.Touch(), ErrNotStarted)
	require.NoError(t, s.m.Stop(context.Background()))
}

func TestManager_PendingShapeExpires(t *testing.T) {
	hub := NewMemoryHub(nil)
	s := startSession(t, hub, "alice")
	shape := state.NewCircle(5, 5, 2, 2)

	require.NoError(t, s.m.BroadcastPending(shape))
	s.flush(t)
	assert.Equal(t, shape.ID, field[state.Shape](t, hub.Snapshot()["alice"], FieldPendingShape).ID)
	assert.Equal(t, shape.ID, s.m.PendingID())

	s.clk.Advance(DefaultPendingTTL - time.Millisecond)
	s.flush(t)
	assert.Contains(t, hub.Snapshot()["alice"], FieldPendingShape)

	s.clk.Advance(time.Millisecond)
	s.flush(t)
	assert.NotContains(t, hub.Snapshot()["alice"], FieldPendingShape)
	assert.Empty(t, s.m.PendingID())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.met.PendingExpired))
}

func TestManager_ConfirmCancelsExpiry(t *testing.T) {
	hub := NewMemoryHub(nil)
	s := startSession(t, hub, "alice")
	shape := state.NewRectangle(0, 0, 3, 3)

	require.NoError(t, s.m.BroadcastPending(shape))
	assert.False(t, s.m.ConfirmPending("other"))
	assert.True(t, s.m.ConfirmPending("x", shape.ID))
	assert.Zero(t, s.clk.Pending())
	s.flush(t)
	assert.NotContains(t, hub.Snapshot()["alice"], FieldPendingShape)

	s.clk.Advance(DefaultPendingTTL)
	assert.Zero(t, testutil.ToFloat64(s.met.PendingExpired))
}

func TestManager_NewerPendingReplacesOlder(t *testing.T) {
	hub := NewMemoryHub(nil)
	s := startSession(t, hub, "alice")
	first, second := state.NewRectangle(0, 0, 1, 1), state.NewRectangle(5, 5, 1, 1)

	require.NoError(t, s.m.BroadcastPending(first))
	s.clk.Advance(3 * time.Second)
	require.NoError(t, s.m.BroadcastPending(second))
	s.clk.Advance(3 * time.Second)
	s.flush(t)

	assert.Equal(t, second.ID, field[state.Shape](t, hub.Snapshot()["alice"], FieldPendingShape).ID)
	assert.False(t, s.m.ConfirmPending(first.ID))

	s.clk.Advance(2 * time.Second)
	s.flush(t)
	assert.NotContains(t, hub.Snapshot()["alice"], FieldPendingShape)
}

func TestManager_ViewsReportChanges(t *testing.T) {
	hub := NewMemoryHub(nil)
	alice := startSession(t, hub, "alice")
	bob := startSession(t, hub, "bob")

	var (
		mu      sync.Mutex
		changes Changed
	)
	bob.m.OnChange(func(c Changed) {
		mu.Lock()
		changes |= c
		mu.Unlock()
	})

	require.NoError(t, alice.m.SetSelection([]string{"gone"}))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"gone"}, bob.m.Selections()["alice"])
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.True(t, changes.Has(ChangedSelections))
	assert.False(t, changes.Has(ChangedCursors))
	mu.Unlock()

	v := bob.m.Views()
	assert.Len(t, v.Users, 2, "views include the local user")
	assert.Empty(t, v.Pending)
}
