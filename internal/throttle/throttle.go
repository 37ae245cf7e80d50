// Package throttle rate-limits high-frequency outbound events (pointer
// motion, live drag and resize, drawing previews, transform broadcasts)
// while guaranteeing that the most recent value is eventually sent.
package throttle

import (
	"sync"
	"time"

	"SyncBoard/internal/clock"
)

// DefaultInterval is the minimum spacing between sends used for cursor,
// drag, preview and transform traffic.
const DefaultInterval = 50 * time.Millisecond

// Observer is notified of sends and coalesces. *metrics.Metrics satisfies it.
type Observer interface {
	ThrottleSent(name string)
	ThrottleCoalesce(name string)
}

// Option configures a Throttle.
type Option func(*options)

type options struct {
	clock    clock.Clock
	name     string
	observer Observer
}

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithObserver reports sends and coalesces under name.
func WithObserver(name string, obs Observer) Option {
	return func(o *options) {
		o.name = name
		o.observer = obs
	}
}

// Throttle sends at most one payload per interval. A payload submitted too
// soon becomes the pending payload, replacing any earlier pending one, and
// is sent when the interval has elapsed. Each Throttle is independent.
type Throttle[T any] struct {
	interval time.Duration
	send     func(T)
	opts     options

	mu         sync.Mutex
	lastSent   time.Time
	everSent   bool
	pending    T
	hasPending bool
	timer      clock.Timer
	gen        uint64
}

// New creates a throttle that calls send at most once per interval.
func New[T any](interval time.Duration, send func(T), opts ...Option) *Throttle[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.clock = clock.OrReal(o.clock)
	return &Throttle[T]{interval: interval, send: send, opts: o}
}

// Submit sends v now if the interval has elapsed since the last send;
// otherwise v becomes the pending payload and a send is scheduled for the
// remaining wait if none is scheduled yet.
func (t *Throttle[T]) Submit(v T) {
	t.mu.Lock()
	now := t.opts.clock.Now()
	elapsed := now.Sub(t.lastSent)

	if t.timer == nil && (!t.everSent || elapsed >= t.interval) {
		t.lastSent = now
		t.everSent = true
		t.mu.Unlock()
		t.deliver(v)
		return
	}

	if t.hasPending {
		t.coalesced()
	}
	t.pending = v
	t.hasPending = true

	if t.timer == nil {
		wait := t.interval - elapsed
		if wait < 0 {
			wait = 0
		}
		gen := t.gen
		t.timer = t.opts.clock.AfterFunc(wait, func() { t.fire(gen) })
	}
	t.mu.Unlock()
}

// Clear cancels any scheduled send and drops the pending payload. It does
// not reset the interval: the next Submit is still rate limited against the
// last actual send.
func (t *Throttle[T]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	var zero T
	t.pending = zero
	t.hasPending = false
}

// Pending reports whether a payload is waiting to be sent.
func (t *Throttle[T]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasPending
}

// fire sends whatever is pending at fire time. Callbacks from a timer that
// was cleared are ignored through the generation counter.
func (t *Throttle[T]) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	if !t.hasPending {
		t.mu.Unlock()
		return
	}
	v := t.pending
	var zero T
	t.pending = zero
	t.hasPending = false
	t.lastSent = t.opts.clock.Now()
	t.everSent = true
	t.mu.Unlock()
	t.deliver(v)
}

func (t *Throttle[T]) deliver(v T) {
	if t.opts.observer != nil {
		t.opts.observer.ThrottleSent(t.opts.name)
	}
	t.send(v)
}

func (t *Throttle[T]) coalesced() {
	if t.opts.observer != nil {
		t.opts.observer.ThrottleCoalesce(t.opts.name)
	}
}
