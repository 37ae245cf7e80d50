package net

import (
	"context"
	"fmt"
	"log/slog"
	stdnet "net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"SyncBoard/internal/async"
	"SyncBoard/internal/presence"
	"SyncBoard/internal/state"
)

// Client is one session's connection to a hub. It serves as both the
// durable shape store and the presence channel for that session.
type Client struct {
	ws  *websocket.Conn
	log *slog.Logger

	nextID atomic.Uint64
	wmu    sync.Mutex

	mu      sync.Mutex
	waiters map[uint64]chan Frame
	closed  bool

	shapes   feed[[]state.Shape]
	presence feed[map[string]presence.Doc]

	done chan struct{}
}

// feed mirrors one hub subscription: it is requested once, and the latest
// value is replayed to every local subscriber.
type feed[T any] struct {
	fanout    *async.Fanout[T]
	requested bool
	ready     chan struct{}
	latest    T
	have      bool
}

func newFeed[T any]() feed[T] {
	return feed[T]{fanout: async.NewFanout[T](), ready: make(chan struct{})}
}

// Dial connects to a hub board endpoint such as ws://host:port/ws/main.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		ws:       ws,
		log:      logger.With("component", "hub-client", "url", url),
		waiters:  make(map[uint64]chan Frame),
		shapes:   newFeed[[]state.Shape](),
		presence: newFeed[map[string]presence.Doc](),
		done:     make(chan struct{}),
	}
	ws.SetReadLimit(maxFrameSize)
	go c.readLoop()
	return c, nil
}

// Shapes returns the durable store view of the connection.
func (c *Client) Shapes() *ShapeStore { return &ShapeStore{c: c} }

// Presence returns the presence channel view of the connection.
func (c *Client) Presence() *PresenceChannel { return &PresenceChannel{c: c} }

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// UnderlyingConn exposes the network connection, e.g. to simulate a drop.
func (c *Client) UnderlyingConn() stdnet.Conn { return c.ws.UnderlyingConn() }

// Close sends a close frame and shuts the connection down.
func (c *Client) Close() error {
	c.wmu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.wmu.Unlock()
	if err != nil {
		c.ws.Close()
	}
	select {
	case <-c.done:
	case <-time.After(writeWait):
		c.ws.Close()
		<-c.done
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.terminate()
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Debug("read loop ended", "error", err)
			}
			return
		}
		switch f.Type {
		case TypeAck:
			c.mu.Lock()
			w, ok := c.waiters[f.ID]
			delete(c.waiters, f.ID)
			c.mu.Unlock()
			if ok {
				w <- f
			}
		case TypeShapes:
			c.mu.Lock()
			deliver(&c.shapes, f.Shapes)
			c.mu.Unlock()
		case TypePresence:
			c.mu.Lock()
			deliver(&c.presence, f.Presence)
			c.mu.Unlock()
		default:
			c.log.Debug("ignoring frame", "type", f.Type)
		}
	}
}

// deliver records v and publishes it. Callers hold c.mu.
func deliver[T any](fd *feed[T], v T) {
	fd.latest = v
	fd.fanout.Publish(v)
	if !fd.have {
		fd.have = true
		close(fd.ready)
	}
}

func (c *Client) terminate() {
	c.mu.Lock()
	c.closed = true
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	c.shapes.fanout.Close()
	c.presence.fanout.Close()
	c.ws.Close()
	close(c.done)
}

// request sends f with a fresh id and waits for its ack.
func (c *Client) request(ctx context.Context, f Frame) error {
	f.ID = c.nextID.Add(1)
	reply := make(chan Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.waiters[f.ID] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		if c.waiters != nil {
			delete(c.waiters, f.ID)
		}
		c.mu.Unlock()
	}

	c.wmu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	}
	err := c.ws.WriteJSON(f)
	c.wmu.Unlock()
	if err != nil {
		forget()
		return fmt.Errorf("send %s: %w", f.Type, err)
	}

	select {
	case a, ok := <-reply:
		if !ok {
			return ErrClosed
		}
		return ackError(a)
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

// subscribe requests the hub feed on first use, waits for its first value
// and registers fn with that value as the initial delivery.
func subscribe[T any](ctx context.Context, c *Client, fd *feed[T], typ FrameType, fn func(T)) (func(), error) {
	c.mu.Lock()
	first := !fd.requested
	fd.requested = true
	c.mu.Unlock()

	if first {
		if err := c.request(ctx, Frame{Type: typ}); err != nil {
			c.mu.Lock()
			fd.requested = false
			c.mu.Unlock()
			return nil, err
		}
	}
	select {
	case <-fd.ready:
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return fd.fanout.Subscribe(fn, fd.latest), nil
}

// ShapeStore is the hub's durable shape store seen through a Client.
type ShapeStore struct {
	c *Client
}

var _ state.Store = (*ShapeStore)(nil)

func (s *ShapeStore) Create(ctx context.Context, sh state.Shape) error {
	return s.c.request(ctx, Frame{Type: TypeCreate, ShapeID: sh.ID, Shape: &sh})
}

func (s *ShapeStore) Update(ctx context.Context, id string, p state.Patch) error {
	return s.c.request(ctx, Frame{Type: TypeUpdate, ShapeID: id, Patch: &p})
}

func (s *ShapeStore) Delete(ctx context.Context, id string) error {
	return s.c.request(ctx, Frame{Type: TypeDelete, ShapeID: id})
}

func (s *ShapeStore) Subscribe(ctx context.Context, fn func([]state.Shape)) (func(), error) {
	return subscribe(ctx, s.c, &s.c.shapes, TypeSubscribeShapes, fn)
}

// PresenceChannel is the hub's presence map seen through a Client.
// Removals registered with RemoveOnDisconnect are bound to the Client's
// connection and run on the hub when it ends.
type PresenceChannel struct {
	c *Client
}

var _ presence.Channel = (*PresenceChannel)(nil)

func (p *PresenceChannel) Set(ctx context.Context, userID string, doc presence.Doc) error {
	return p.c.request(ctx, Frame{Type: TypePresenceSet, UserID: userID, Doc: doc})
}

func (p *PresenceChannel) Update(ctx context.Context, userID string, fields presence.Doc) error {
	return p.c.request(ctx, Frame{Type: TypePresenceUpdate, UserID: userID, Doc: fields})
}

func (p *PresenceChannel) Remove(ctx context.Context, userID string) error {
	return p.c.request(ctx, Frame{Type: TypePresenceRemove, UserID: userID})
}

func (p *PresenceChannel) RemoveOnDisconnect(ctx context.Context, userID string) error {
	return p.c.request(ctx, Frame{Type: TypeOnDisconnect, UserID: userID})
}

func (p *PresenceChannel) Subscribe(ctx context.Context, fn func(map[string]presence.Doc)) (func(), error) {
	return subscribe(ctx, p.c, &p.c.presence, TypeSubscribePresence, fn)
}
