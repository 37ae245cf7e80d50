package presence

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"SyncBoard/internal/async"
)

// Channel is the ephemeral presence store as seen by one connection.
type Channel interface {
	// Set replaces the user's whole record.
	Set(ctx context.Context, userID string, doc Doc) error
	// Update merges fields into the user's record; null clears a field.
	Update(ctx context.Context, userID string, fields Doc) error
	// Remove deletes the user's record.
	Remove(ctx context.Context, userID string) error
	// RemoveOnDisconnect asks the channel host to remove the user's record
	// when this connection ends, however it ends.
	RemoveOnDisconnect(ctx context.Context, userID string) error
	// Subscribe delivers the whole presence map on every change, starting
	// with the current map.
	Subscribe(ctx context.Context, fn func(map[string]Doc)) (cancel func(), err error)
}

// MemoryHub hosts one presence map shared by any number of connections. It
// is the server side of the hub and the test double for sessions.
type MemoryHub struct {
	log *slog.Logger

	mu   sync.Mutex
	docs map[string]Doc
	feed *async.Fanout[map[string]Doc]

	// OnCleanup, if set, is called with the user ids removed because a
	// connection ended.
	OnCleanup func(userIDs []string)
}

// NewMemoryHub creates an empty presence map.
func NewMemoryHub(logger *slog.Logger) *MemoryHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryHub{
		log:  logger.With("component", "presence-hub"),
		docs: make(map[string]Doc),
		feed: async.NewFanout[map[string]Doc](),
	}
}

// Connect opens a connection. Removals registered on it run when it is
// closed or dropped.
func (h *MemoryHub) Connect() *Conn {
	return &Conn{hub: h, onDisconnect: make(map[string]struct{})}
}

// Snapshot returns a copy of the current map.
func (h *MemoryHub) Snapshot() map[string]Doc {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Len returns the number of records.
func (h *MemoryHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.docs)
}

// Close stops every subscriber.
func (h *MemoryHub) Close() {
	h.feed.Close()
}

func (h *MemoryHub) snapshotLocked() map[string]Doc {
	out := make(map[string]Doc, len(h.docs))
	for uid, d := range h.docs {
		out[uid] = maps.Clone(d)
	}
	return out
}

func (h *MemoryHub) set(uid string, d Doc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.docs[uid] = d.Clean()
	h.feed.Publish(h.snapshotLocked())
}

func (h *MemoryHub) update(uid string, fields Doc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.docs[uid] = h.docs[uid].Merge(fields)
	h.feed.Publish(h.snapshotLocked())
}

func (h *MemoryHub) remove(uids ...string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, uid := range uids {
		if _, ok := h.docs[uid]; ok {
			delete(h.docs, uid)
			n++
		}
	}
	if n > 0 {
		h.feed.Publish(h.snapshotLocked())
	}
	return n
}

func (h *MemoryHub) subscribe(fn func(map[string]Doc)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.feed.Subscribe(fn, h.snapshotLocked())
}

// Conn is one connection to a MemoryHub. It implements Channel.
type Conn struct {
	hub *MemoryHub

	mu           sync.Mutex
	closed       bool
	onDisconnect map[string]struct{}
	cancels      []func()
}

var _ Channel = (*Conn)(nil)

func (c *Conn) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Conn) Set(ctx context.Context, userID string, doc Doc) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.hub.set(userID, doc)
	return nil
}

func (c *Conn) Update(ctx context.Context, userID string, fields Doc) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.hub.update(userID, fields)
	return nil
}

func (c *Conn) Remove(ctx context.Context, userID string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.hub.remove(userID)
	return nil
}

func (c *Conn) RemoveOnDisconnect(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.onDisconnect[userID] = struct{}{}
	return nil
}

func (c *Conn) Subscribe(ctx context.Context, fn func(map[string]Doc)) (func(), error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	cancel := c.hub.subscribe(fn)
	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()
	return cancel, nil
}

// Close ends the connection gracefully. Registered removals still run.
func (c *Conn) Close() error {
	c.disconnect("closed")
	return nil
}

// Drop ends the connection as a crash or network loss would: the client
// gets no chance to clean up, and only the registered removals run.
func (c *Conn) Drop() {
	c.disconnect("dropped")
}

func (c *Conn) disconnect(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	uids := slices.Sorted(maps.Keys(c.onDisconnect))
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(uids) == 0 {
		return
	}
	if n := c.hub.remove(uids...); n > 0 {
		c.hub.log.Info("presence removed on disconnect", "users", uids, "reason", reason)
		if c.hub.OnCleanup != nil {
			c.hub.OnCleanup(uids)
		}
	}
}
