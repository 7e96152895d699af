package ratelimit

import "time"

// Builder assembles a DirectLimiter. Weight defaults to 1 and Period to
// one second; Capacity has no default.
type Builder struct {
	capacity uint32
	weight   uint32
	period   time.Duration
	clock    *MonotonicClock
}

func NewBuilder() *Builder {
	return &Builder{weight: 1, period: time.Second}
}

func (b *Builder) Capacity(c uint32) *Builder {
	b.capacity = c
	return b
}

func (b *Builder) Weight(w uint32) *Builder {
	b.weight = w
	return b
}

func (b *Builder) Period(p time.Duration) *Builder {
	b.period = p
	return b
}

// Clock shares a clock between limiters so their instants are comparable.
func (b *Builder) Clock(c *MonotonicClock) *Builder {
	b.clock = c
	return b
}

// Build validates the configuration. It never falls back to defaults for
// an invalid capacity, weight or period.
func (b *Builder) Build() (*DirectLimiter, error) {
	algo, err := NewGCRA(b.capacity, b.weight, b.period)
	if err != nil {
		return nil, err
	}
	clock := b.clock
	if clock == nil {
		clock = NewMonotonicClock()
	}
	return &DirectLimiter{algo: algo, state: algo.NewState(), clock: clock}, nil
}

// DirectLimiter is a single bucket bundled with its engine and clock.
// It is safe for concurrent use.
type DirectLimiter struct {
	algo  Algorithm
	state *BucketState
	clock *MonotonicClock
}

func (d *DirectLimiter) Check() error { return d.CheckAt(d.clock.Now()) }

func (d *DirectLimiter) CheckAt(now Instant) error { return d.algo.Check(d.state, now) }

func (d *DirectLimiter) CheckN(n uint32) error { return d.CheckNAt(n, d.clock.Now()) }

func (d *DirectLimiter) CheckNAt(n uint32, now Instant) error {
	return d.algo.CheckN(d.state, n, now)
}

func (d *DirectLimiter) Parameters() Parameters { return d.algo.Parameters() }

func (d *DirectLimiter) Clock() *MonotonicClock { return d.clock }
