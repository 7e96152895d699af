package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Policy is the user-facing description of a limit.
type Policy struct {
	Capacity uint32        // burst size in cells
	Weight   uint32        // cost per cell, 0 means 1
	Period   time.Duration // time to replenish Capacity cells
}

// Parameters derives the GCRA parameters for the policy.
func (p Policy) Parameters() (Parameters, error) {
	w := p.Weight
	if w == 0 {
		w = 1
	}
	return DeriveParameters(p.Capacity, w, p.Period)
}

// Result describes one keyed decision.
type Result struct {
	Allowed    bool
	Limit      uint32        // bucket capacity in cells
	Remaining  uint32        // cells still admissible right after this decision
	RetryAfter time.Duration // zero unless overloaded
	ResetAfter time.Duration // until the bucket is fully drained
	Cause      NonConformance
}

// Insufficient reports a structural rejection.
func (r Result) Insufficient() bool {
	return r.Cause != nil && errors.Is(r.Cause, ErrInsufficientCapacity)
}

// Limiter rate-limits many independent subjects identified by key.
// n is the number of cells requested; Allow returns an error only for an
// invalid policy or a cancelled context, never for a rejection.
type Limiter interface {
	Allow(ctx context.Context, key string, p Policy, n uint32, now time.Time) (Result, error)
	Close() error
}

// ResultOf folds an engine outcome into a Result using the post-decision
// TAT for the snapshot fields.
func ResultOf(p Parameters, err error, tat, now Instant) Result {
	res := Result{
		Allowed:    err == nil,
		Limit:      p.Capacity(),
		Remaining:  p.Remaining(tat, now),
		ResetAfter: p.ResetAfter(tat, now),
	}
	var nc NonConformance
	if errors.As(err, &nc) {
		res.Cause = nc
		var over *OverloadedError
		if errors.As(err, &over) {
			res.RetryAfter = over.WaitTime
		}
	}
	return res
}
