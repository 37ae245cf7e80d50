// Package async holds the small concurrency helpers shared by the stores,
// the presence channel and the hub: a latest-value fan-out for snapshot
// subscribers and a per-key ordered dispatcher for asynchronous writes.
package async

import "sync"

// Fanout delivers published values to every subscriber on the subscriber's
// own goroutine. A slow subscriber only ever sees the most recent value;
// intermediate values may be skipped but the last one published is always
// delivered. Publish never blocks, so it is safe to call while holding the
// lock that serializes the writes being published.
type Fanout[T any] struct {
	mu     sync.Mutex
	subs   map[int]*mailbox[T]
	next   int
	closed bool
}

type mailbox[T any] struct {
	mu     sync.Mutex
	latest T
	has    bool
	wake   chan struct{}
	done   chan struct{}
	fn     func(T)
}

// NewFanout creates an empty fan-out.
func NewFanout[T any]() *Fanout[T] {
	return &Fanout[T]{subs: make(map[int]*mailbox[T])}
}

// Subscribe registers fn and immediately queues initial for it. The returned
// func unsubscribes; it is safe to call more than once.
func (f *Fanout[T]) Subscribe(fn func(T), initial T) (cancel func()) {
	mb := &mailbox[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		fn:   fn,
	}
	mb.put(initial)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(mb.done)
		return func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = mb
	f.mu.Unlock()

	go mb.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(mb.done)
		})
	}
}

// Publish queues v for every current subscriber.
func (f *Fanout[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, mb := range f.subs {
		mb.put(v)
	}
}

// Len reports the number of live subscribers.
func (f *Fanout[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close stops every subscriber. Later subscriptions are inert.
func (f *Fanout[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, mb := range f.subs {
		close(mb.done)
		delete(f.subs, id)
	}
}

func (mb *mailbox[T]) put(v T) {
	mb.mu.Lock()
	mb.latest = v
	mb.has = true
	mb.mu.Unlock()
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

func (mb *mailbox[T]) take() (T, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	v, ok := mb.latest, mb.has
	var zero T
	mb.latest = zero
	mb.has = false
	return v, ok
}

func (mb *mailbox[T]) run() {
	for {
		select {
		case <-mb.done:
			return
		case <-mb.wake:
			if v, ok := mb.take(); ok {
				mb.fn(v)
			}
		}
	}
}
