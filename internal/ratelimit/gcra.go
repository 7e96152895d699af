// Package ratelimit implements the Generic Cell Rate Algorithm over a
// lock-free per-subject bucket state.
package ratelimit

import "time"

// Algorithm is a rate-limiting decision engine over a BucketState.
// A nil error admits; otherwise the error is a NonConformance.
type Algorithm interface {
	Parameters() Parameters
	NewState() *BucketState
	Check(state *BucketState, now Instant) error
	CheckN(state *BucketState, n uint32, now Instant) error
}

// GCRA implements Algorithm with the Generic Cell Rate Algorithm.
type GCRA struct {
	params Parameters
}

// NewGCRA derives the parameters for the policy and returns the engine.
func NewGCRA(capacity, weight uint32, period time.Duration) (*GCRA, error) {
	p, err := DeriveParameters(capacity, weight, period)
	if err != nil {
		return nil, err
	}
	return &GCRA{params: p}, nil
}

func (g *GCRA) Parameters() Parameters { return g.params }

func (g *GCRA) NewState() *BucketState { return NewBucketState() }

func (g *GCRA) Check(state *BucketState, now Instant) error {
	return TestAndUpdate(state, g.params, now)
}

func (g *GCRA) CheckN(state *BucketState, n uint32, now Instant) error {
	return TestNAndUpdate(state, g.params, n, now)
}

// TestAndUpdate checks a single cell at now and, if it conforms, advances
// the bucket's TAT. A rejection leaves the state untouched and returns an
// *OverloadedError.
func TestAndUpdate(state *BucketState, p Parameters, now Instant) error {
	return update(state, p, p.interval*time.Duration(p.weight), now)
}

// TestNAndUpdate checks a batch of n cells as one unit: all n are admitted
// or none are. A batch that could never fit the bucket is rejected with
// *InsufficientCapacityError without touching the state. n == 0 always
// admits and never writes.
func TestNAndUpdate(state *BucketState, p Parameters, n uint32, now Instant) error {
	if n == 0 {
		return nil
	}
	increment, ok := p.increment(n)
	if !ok {
		return &InsufficientCapacityError{N: n}
	}
	return update(state, p, increment, now)
}

// update is the lock-free admission loop. A failed compare-and-swap means
// another caller admitted first; the decision is recomputed from the TAT
// it left behind.
func update(state *BucketState, p Parameters, increment time.Duration, now Instant) error {
	tat := state.TAT()
	for {
		next := latest(tat, now).Add(increment)
		allowAt := next.Add(-p.tau)
		if now.Before(allowAt) {
			return &OverloadedError{WaitTime: allowAt.Sub(now), At: now}
		}
		if state.compareAndSwap(tat, next) {
			return nil
		}
		tat = state.TAT()
	}
}

var _ Algorithm = (*GCRA)(nil)
