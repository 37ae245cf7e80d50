package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var fired []string

	c.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "b") })
	c.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	c.AfterFunc(90*time.Millisecond, func() { fired = append(fired, "c") })

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, epoch.Add(50*time.Millisecond), c.Now())
	assert.Equal(t, 1, c.Pending())

	c.Advance(40 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
}

func TestFake_NowIsDeadlineInsideCallback(t *testing.T) {
	c := NewFake(epoch)
	var at time.Time
	c.AfterFunc(25*time.Millisecond, func() { at = c.Now() })
	c.Advance(time.Second)
	assert.Equal(t, epoch.Add(25*time.Millisecond), at)
}

func TestFake_StopPreventsFiring(t *testing.T) {
	c := NewFake(epoch)
	tm := c.AfterFunc(time.Millisecond, func() { t.Fatal("stopped timer fired") })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	c.Advance(time.Second)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)
	c.Advance(100 * time.Millisecond)
	assert.Equal(t, 3, count)
}

func TestOrReal(t *testing.T) {
	assert.NotNil(t, OrReal(nil))
	c := NewFake(epoch)
	assert.Same(t, c, OrReal(c))
}
