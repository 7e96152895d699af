package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrZeroCapacity          = errors.New("capacity must be positive")
	ErrZeroWeight            = errors.New("cell weight must be positive")
	ErrNonPositivePeriod     = errors.New("period must be positive")
	ErrIntervalTooSmall      = errors.New("period too short for capacity: emission interval rounds to zero")
	ErrWeightExceedsCapacity = errors.New("cell weight exceeds capacity")
)

// ConstructionError reports a rate-limit policy that cannot be turned into
// Parameters. It wraps one of the Err* construction sentinels.
type ConstructionError struct {
	Capacity uint32
	Weight   uint32
	Period   time.Duration
	Err      error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("ratelimit: invalid parameters (capacity=%d weight=%d period=%s): %v",
		e.Capacity, e.Weight, e.Period, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

var (
	// ErrOverloaded matches any *OverloadedError via errors.Is.
	ErrOverloaded = errors.New("rate limit exceeded")

	// ErrInsufficientCapacity matches any *InsufficientCapacityError via errors.Is.
	ErrInsufficientCapacity = errors.New("request exceeds bucket capacity")
)

// NonConformance is the error returned by a check that did not admit.
// It is either *OverloadedError or *InsufficientCapacityError.
type NonConformance interface {
	error
	nonConformance()
}

// OverloadedError is a temporary rejection. The same request succeeds
// once WaitTime has elapsed, unless other admissions advance the bucket
// in the meantime.
type OverloadedError struct {
	// WaitTime is the distance from At to the earliest conforming instant.
	WaitTime time.Duration
	// At is the instant of the rejected check.
	At Instant
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("ratelimit: overloaded, retry after %s", e.WaitTime)
}

func (e *OverloadedError) Is(target error) bool { return target == ErrOverloaded }

func (*OverloadedError) nonConformance() {}

// EarliestPossible is the first instant at which the rejected request
// would conform against the unmodified bucket.
func (e *OverloadedError) EarliestPossible() Instant {
	return e.At.Add(e.WaitTime)
}

// WaitFrom returns how long a caller at now still has to wait, never
// less than zero.
func (e *OverloadedError) WaitFrom(now Instant) time.Duration {
	if w := e.EarliestPossible().Sub(now); w > 0 {
		return w
	}
	return 0
}

// InsufficientCapacityError is a structural rejection: a batch of N cells
// does not fit the bucket even when it is empty. Retrying the same
// request never succeeds.
type InsufficientCapacityError struct {
	N uint32
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("ratelimit: batch of %d cells exceeds bucket capacity", e.N)
}

func (e *InsufficientCapacityError) Is(target error) bool { return target == ErrInsufficientCapacity }

func (*InsufficientCapacityError) nonConformance() {}

// Decision is the coarse outcome of a check.
type Decision uint8

const (
	Admit Decision = iota
	Reject
)

func (d Decision) String() string {
	if d == Admit {
		return "admit"
	}
	return "reject"
}

// DecisionOf classifies the error returned by a check.
func DecisionOf(err error) Decision {
	if err == nil {
		return Admit
	}
	return Reject
}
