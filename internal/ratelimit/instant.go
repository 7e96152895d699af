package ratelimit

import "time"

// Instant is a point on a monotonic timeline, in nanoseconds since the
// epoch of the clock that produced it. The zero Instant is that epoch.
type Instant int64

func (i Instant) Add(d time.Duration) Instant { return i + Instant(d) }

// Sub returns the duration i-j.
func (i Instant) Sub(j Instant) time.Duration { return time.Duration(i - j) }

func (i Instant) Before(j Instant) bool { return i < j }
func (i Instant) After(j Instant) bool  { return i > j }

func (i Instant) String() string {
	if i < 0 {
		return "-" + time.Duration(-i).String()
	}
	return "+" + time.Duration(i).String()
}

func latest(a, b Instant) Instant {
	if a > b {
		return a
	}
	return b
}

// Clock supplies the current instant. The engine never reads a clock on
// its own; callers pass instants explicitly.
type Clock interface {
	Now() Instant
}

// MonotonicClock maps wall-clock readings onto Instants relative to the
// moment it was created. Readings taken with time.Now carry a monotonic
// component, so the mapping is immune to wall-clock steps.
type MonotonicClock struct {
	epoch time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{epoch: time.Now()}
}

func (c *MonotonicClock) Now() Instant { return c.At(time.Now()) }

// At converts t to an Instant. Times before the clock epoch map to
// negative instants.
func (c *MonotonicClock) At(t time.Time) Instant {
	return Instant(t.Sub(c.epoch))
}

// Time converts i back to a time.Time.
func (c *MonotonicClock) Time(i Instant) time.Time {
	return c.epoch.Add(time.Duration(i))
}
