package limiter

import (
	"context"
	"sync"
)

// MemoryLimiter is an in-process token-bucket rate limiter.
//
// It is safe for concurrent use by multiple goroutines, but its state is local
// to the process and is not shared across replicas. Use RedisLimiter when you
// need a single global limit across multiple instances.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]state
	opts    options
}

// NewMemoryLimiter constructs a MemoryLimiter with empty state. Only
// WithPrefix, WithRecorder and WithClock have an effect.
func NewMemoryLimiter(opts ...Option) *MemoryLimiter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryLimiter{
		buckets: make(map[string]state),
		opts:    o,
	}
}

// TryConsume takes one token from the identity's bucket if one is available.
func (m *MemoryLimiter) TryConsume(ctx context.Context, id Identity, limit Limit) (Decision, error) {
	if err := limit.Validate(); err != nil {
		return Decision{}, err
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	m.opts.recorder.Add(MetricCall, 1, nil)

	now := m.opts.clock()
	key := m.opts.key(id)

	m.mu.Lock()
	st, found := m.buckets[key]
	next, admitted := step(st, found, limit, unixSeconds(now))
	m.buckets[key] = next
	m.mu.Unlock()

	d := decide(next, admitted, limit, now)
	recordDecision(m.opts.recorder, id, d)
	return d, nil
}

// Sweep drops buckets that have been idle for longer than their window.
// Expired buckets are already ignored by TryConsume; Sweep only bounds memory.
func (m *MemoryLimiter) Sweep(limit Limit) int {
	now := unixSeconds(m.opts.clock())
	ttl := limit.WindowTTL.Seconds()

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, st := range m.buckets {
		if now-st.lastRefill >= ttl {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports how many buckets are held, expired or not.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
