package ratelimit

import "sync/atomic"

// BucketState holds the theoretical arrival time of one rate-limited
// subject. The zero value starts at the clock epoch, which is an empty
// bucket for any instant at or after it.
//
// A BucketState is shared by pointer between goroutines and must not be
// copied after first use. All updates go through compare-and-swap.
type BucketState struct {
	tat atomic.Int64
}

func NewBucketState() *BucketState { return new(BucketState) }

// TAT returns a snapshot of the theoretical arrival time.
func (s *BucketState) TAT() Instant { return Instant(s.tat.Load()) }

func (s *BucketState) compareAndSwap(old, next Instant) bool {
	return s.tat.CompareAndSwap(int64(old), int64(next))
}
