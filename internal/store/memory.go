// Package store holds the durable shape backends. Every backend delivers
// the complete, sorted shape set to subscribers after each committed write.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"SyncBoard/internal/async"
	"SyncBoard/internal/state"
)

var (
	ErrExists   = errors.New("shape already exists")
	ErrNotFound = state.ErrNotFound
)

// Memory is a process-local store. Writes are serialized by a mutex, which
// is the write order every subscriber converges to.
type Memory struct {
	mu   sync.Mutex
	docs map[string]state.Shape
	feed *async.Fanout[[]state.Shape]

	// Fault, if set, is consulted before every write; a non-nil result
	// fails the write without changing anything.
	Fault func(op state.Op, id string) error
}

var _ state.Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]state.Shape),
		feed: async.NewFanout[[]state.Shape](),
	}
}

func (m *Memory) Create(ctx context.Context, s state.Shape) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(state.OpCreate, s.ID); err != nil {
		return err
	}
	if _, ok := m.docs[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, s.ID)
	}
	m.docs[s.ID] = s
	m.publishLocked()
	return nil
}

func (m *Memory) Update(ctx context.Context, id string, p state.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(state.OpUpdate, id); err != nil {
		return err
	}
	s, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.docs[id] = p.Apply(s)
	m.publishLocked()
	return nil
}

// Delete removes the shape. Deleting an absent id succeeds.
func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(state.OpDelete, id); err != nil {
		return err
	}
	if _, ok := m.docs[id]; !ok {
		return nil
	}
	delete(m.docs, id)
	m.publishLocked()
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, fn func([]state.Shape)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feed.Subscribe(fn, m.snapshotLocked()), nil
}

// Snapshot returns the current shapes in paint order.
func (m *Memory) Snapshot() []state.Shape {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close stops every subscriber.
func (m *Memory) Close() error {
	m.feed.Close()
	return nil
}

func (m *Memory) fault(op state.Op, id string) error {
	if m.Fault == nil {
		return nil
	}
	return m.Fault(op, id)
}

func (m *Memory) snapshotLocked() []state.Shape {
	out := slices.Collect(maps.Values(m.docs))
	state.SortShapes(out)
	return out
}

func (m *Memory) publishLocked() {
	m.feed.Publish(m.snapshotLocked())
}
