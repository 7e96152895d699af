package ratelimit

import "time"

// Parameters is the immutable GCRA configuration derived from a
// capacity, a cell weight and a period. Build it with DeriveParameters.
type Parameters struct {
	capacity uint32
	weight   uint32
	period   time.Duration
	interval time.Duration // emission interval, period / capacity
	tau      time.Duration // burst tolerance, interval * capacity
}

// DeriveParameters validates the policy and computes the emission
// interval and burst tolerance. Every failure is a *ConstructionError.
func DeriveParameters(capacity, weight uint32, period time.Duration) (Parameters, error) {
	fail := func(err error) (Parameters, error) {
		return Parameters{}, &ConstructionError{Capacity: capacity, Weight: weight, Period: period, Err: err}
	}
	switch {
	case capacity == 0:
		return fail(ErrZeroCapacity)
	case weight == 0:
		return fail(ErrZeroWeight)
	case period <= 0:
		return fail(ErrNonPositivePeriod)
	case weight > capacity:
		return fail(ErrWeightExceedsCapacity)
	}

	interval := period / time.Duration(capacity)
	if interval == 0 {
		return fail(ErrIntervalTooSmall)
	}

	return Parameters{
		capacity: capacity,
		weight:   weight,
		period:   period,
		interval: interval,
		tau:      interval * time.Duration(capacity),
	}, nil
}

func (p Parameters) Capacity() uint32      { return p.capacity }
func (p Parameters) Weight() uint32        { return p.weight }
func (p Parameters) Period() time.Duration { return p.period }

// EmissionInterval is the nominal spacing between two unit-weight cells.
func (p Parameters) EmissionInterval() time.Duration { return p.interval }

// Tau is the burst tolerance.
func (p Parameters) Tau() time.Duration { return p.tau }

// increment returns the TAT advance for a batch of n cells. ok is false
// when the batch cannot fit an empty bucket. weight*n is computed in
// 64 bits and bounded by capacity before the multiplication by the
// interval, so the result never overflows.
func (p Parameters) increment(n uint32) (d time.Duration, ok bool) {
	cells := uint64(p.weight) * uint64(n)
	if cells > uint64(p.capacity) {
		return 0, false
	}
	return p.interval * time.Duration(cells), true
}

// Remaining reports how many more cells the bucket would admit at now if
// its TAT were tat.
func (p Parameters) Remaining(tat, now Instant) uint32 {
	if p.interval == 0 || p.weight == 0 {
		return 0
	}
	free := p.tau - latest(tat, now).Sub(now)
	if free <= 0 {
		return 0
	}
	return uint32(free / (p.interval * time.Duration(p.weight)))
}

// ResetAfter reports how long until a bucket with the given TAT drains
// completely.
func (p Parameters) ResetAfter(tat, now Instant) time.Duration {
	if tat.After(now) {
		return tat.Sub(now)
	}
	return 0
}
