package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/ratemeter/internal/ratelimit"
)

const shardCount = 64

// shard guards membership of its bucket map. Decisions run under the read
// lock, so they only exclude eviction, never each other; the bucket state
// itself is updated lock-free.
type shard struct {
	mu      sync.RWMutex
	buckets map[string]*ratelimit.BucketState
}

// Limiter is an in-process ratelimit.Limiter keeping one GCRA bucket per key.
type Limiter struct {
	clock   *ratelimit.MonotonicClock
	shards  [shardCount]shard
	log     zerolog.Logger
	onEvict func(n int)

	interval time.Duration
	maxIdle  time.Duration

	stop chan struct{}
	once sync.Once
}

type Option func(*Limiter)

// WithClock sets the clock used to map request times onto bucket instants.
func WithClock(c *ratelimit.MonotonicClock) Option {
	return func(l *Limiter) { l.clock = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// WithEviction configures the sweep run by Run: every interval, buckets
// that have been drained for longer than maxIdle are dropped.
func WithEviction(interval, maxIdle time.Duration) Option {
	return func(l *Limiter) {
		l.interval = interval
		l.maxIdle = maxIdle
	}
}

// OnEvict registers a callback receiving the number of buckets removed by
// each sweep that removed any.
func OnEvict(fn func(n int)) Option {
	return func(l *Limiter) { l.onEvict = fn }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		clock:    ratelimit.NewMonotonicClock(),
		log:      zerolog.Nop(),
		interval: time.Minute,
		maxIdle:  10 * time.Minute,
		stop:     make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i].buckets = make(map[string]*ratelimit.BucketState)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	return &l.shards[xxhash.Sum64String(key)%shardCount]
}

// acquire returns the bucket for key with the shard read lock held. The
// caller must release it.
func (s *shard) acquire(key string) *ratelimit.BucketState {
	for {
		s.mu.RLock()
		if st, ok := s.buckets[key]; ok {
			return st
		}
		s.mu.RUnlock()

		s.mu.Lock()
		if _, ok := s.buckets[key]; !ok {
			s.buckets[key] = ratelimit.NewBucketState()
		}
		s.mu.Unlock()
	}
}

func (l *Limiter) Allow(ctx context.Context, key string, p ratelimit.Policy, n uint32, now time.Time) (ratelimit.Result, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.Result{}, err
	}
	params, err := p.Parameters()
	if err != nil {
		return ratelimit.Result{}, err
	}

	at := l.clock.At(now)
	sh := l.shardFor(key)
	st := sh.acquire(key)
	err = ratelimit.TestNAndUpdate(st, params, n, at)
	tat := st.TAT()
	sh.mu.RUnlock()

	return ratelimit.ResultOf(params, err, tat, at), nil
}

// Sweep removes buckets whose TAT lies more than maxIdle before now. Such
// a bucket is empty, so dropping it is indistinguishable from keeping it.
func (l *Limiter) Sweep(now time.Time) int {
	cutoff := l.clock.At(now).Add(-l.maxIdle)
	removed := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		for key, st := range sh.buckets {
			if st.TAT().Before(cutoff) {
				delete(sh.buckets, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		l.log.Debug().Int("evicted", removed).Int("remaining", l.Len()).Msg("limiter sweep")
		if l.onEvict != nil {
			l.onEvict(removed)
		}
	}
	return removed
}

// Run sweeps idle buckets until ctx is done or Close is called.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.stop:
			return nil
		case t := <-ticker.C:
			l.Sweep(t)
		}
	}
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	total := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.RLock()
		total += len(sh.buckets)
		sh.mu.RUnlock()
	}
	return total
}

// Close makes Run return. Safe to call more than once.
func (l *Limiter) Close() error {
	l.once.Do(func() { close(l.stop) })
	return nil
}

var _ ratelimit.Limiter = (*Limiter)(nil)
