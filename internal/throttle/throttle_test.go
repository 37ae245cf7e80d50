package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"SyncBoard/internal/clock"
)

type sent struct {
	at      time.Duration
	payload string
}

func newRecorder(c *clock.Fake, start time.Time) (*[]sent, func(string)) {
	var out []sent
	return &out, func(p string) {
		out = append(out, sent{at: c.Now().Sub(start), payload: p})
	}
}

type countingObserver struct {
	sends, coalesces int
}

func (o *countingObserver) ThrottleSent(string)     { o.sends++ }
func (o *countingObserver) ThrottleCoalesce(string) { o.coalesces++ }

func TestThrottle_CoalescingTimeline(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)
	out, send := newRecorder(c, start)
	obs := &countingObserver{}
	th := New(50*time.Millisecond, send, WithClock(c), WithObserver("cursor", obs))

	th.Submit("t0")
	c.Advance(10 * time.Millisecond)
	th.Submit("t10-a")
	th.Submit("t10-b")
	th.Submit("t10-c")
	c.Advance(50 * time.Millisecond) // now t=60, the t=50 send has fired
	th.Submit("t60")
	c.Advance(100 * time.Millisecond)

	assert.Equal(t, []sent{
		{at: 0, payload: "t0"},
		{at: 50 * time.Millisecond, payload: "t10-c"},
		{at: 100 * time.Millisecond, payload: "t60"},
	}, *out)
	assert.Equal(t, 3, obs.sends)
	assert.Equal(t, 2, obs.coalesces)
}

func TestThrottle_SendsImmediatelyAfterQuietPeriod(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)
	out, send := newRecorder(c, start)
	th := New(50*time.Millisecond, send, WithClock(c))

	th.Submit("first")
	c.Advance(80 * time.Millisecond)
	th.Submit("second")

	assert.Equal(t, []sent{
		{at: 0, payload: "first"},
		{at: 80 * time.Millisecond, payload: "second"},
	}, *out)
	assert.Equal(t, 0, c.Pending())
}

func TestThrottle_ScheduledSendUsesLatestPayload(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)
	out, send := newRecorder(c, start)
	th := New(50*time.Millisecond, send, WithClock(c))

	th.Submit("a")
	c.Advance(5 * time.Millisecond)
	th.Submit("b")
	c.Advance(40 * time.Millisecond)
	th.Submit("c")
	assert.True(t, th.Pending())
	c.Advance(5 * time.Millisecond)

	assert.Equal(t, []sent{
		{at: 0, payload: "a"},
		{at: 50 * time.Millisecond, payload: "c"},
	}, *out)
	assert.False(t, th.Pending())
}

func TestThrottle_ClearDropsPending(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)
	out, send := newRecorder(c, start)
	th := New(50*time.Millisecond, send, WithClock(c))

	th.Submit("a")
	c.Advance(10 * time.Millisecond)
	th.Submit("dropped")
	th.Clear()
	c.Advance(time.Second)

	assert.Equal(t, []sent{{at: 0, payload: "a"}}, *out)
	assert.False(t, th.Pending())

	th.Submit("after-clear")
	assert.Len(t, *out, 2)
}

func TestThrottle_ClearWithoutPendingIsHarmless(t *testing.T) {
	c := clock.NewFake(time.Now())
	calls := 0
	th := New(50*time.Millisecond, func(int) { calls++ }, WithClock(c))

	th.Clear()
	th.Submit(1)
	th.Clear()
	c.Advance(time.Second)
	assert.Equal(t, 1, calls)
}

func TestThrottle_InstancesAreIndependent(t *testing.T) {
	c := clock.NewFake(time.Now())
	var a, b []int
	ta := New(50*time.Millisecond, func(v int) { a = append(a, v) }, WithClock(c))
	tb := New(50*time.Millisecond, func(v int) { b = append(b, v) }, WithClock(c))

	ta.Submit(1)
	tb.Submit(10)
	ta.Submit(2)
	tb.Clear()
	c.Advance(50 * time.Millisecond)

	assert.Equal(t, []int{1, 2}, a)
	assert.Equal(t, []int{10}, b)
}
