// Package limiter provides local and distributed admission control based on
// the Token Bucket algorithm.
//
// The primary entry point is the RateLimiter interface:
//
//	dec, err := limiter.TryConsume(ctx, id, limit)
//
// The returned Decision reports whether the request was admitted or
// throttled, how many whole tokens remain, and timing hints for callers that
// want to set rate-limit headers (for example, Retry-After).
//
// # Overview
//
//   - Each identity has a "bucket" holding tokens.
//   - The bucket refills at RefillRate tokens per second up to Capacity.
//   - Each TryConsume call takes 1 token when at least one is available.
//   - A bucket that has not been written for WindowTTL is forgotten; the next
//     request starts a fresh, full bucket.
//
// # Core Types
//
// Limit defines the policy:
//
//   - Capacity: maximum number of tokens, which is also the largest burst
//   - RefillRate: tokens restored per second
//   - WindowTTL: idle time after which a bucket expires
//
// Identity defines "who" is being rate-limited:
//
//   - Namespace: how the key was derived ("ip", "ip+principal", "anon")
//   - Key: the identifier within that namespace (for example, "203.0.113.7")
//
// # Backends
//
//   - MemoryLimiter: an in-process limiter backed by a Go map. Useful for unit
//     tests, local development and single-instance deployments. Its state is
//     local to the process, so it does not enforce a global limit across
//     replicas.
//
//   - RedisLimiter: a distributed limiter backed by Redis. A Lua script performs
//     the read/compute/write cycle atomically, so concurrent requests for the
//     same identity can never both spend the same token, on one instance or on
//     many. Requests for different identities touch different keys and never
//     wait on each other.
//
// # Context and Error Policy
//
// RedisLimiter bounds every script call with the timeout set by WithTimeout
// (default 100ms) on top of the caller's context. Any failure, including the
// timeout, is returned wrapped in ErrStoreUnavailable together with its cause,
// so both errors.Is(err, ErrStoreUnavailable) and
// errors.Is(err, context.DeadlineExceeded) hold.
//
// This package does not impose a "fail open" vs "fail closed" policy; the
// admission gate in package gate does.
//
// A stored bucket that cannot be parsed is discarded and replaced by a fresh
// one. The decision is still returned, with Decision.Recovered set and the
// "ratelimit.corrupt_state" metric incremented.
//
// # Storage Details
//
// Buckets are stored under "{prefix}{namespace}:{key}" (default prefix
// "token_bucket:") as a Redis hash with two fields:
//
//   - "tokens": current token balance (float)
//   - "last_refill": last write as seconds since epoch (float)
//
// Every write renews the key's expiry to WindowTTL.
//
// # Configuration
//
//	limiter, _ := NewRedisLimiter(client,
//		WithPrefix("myapp:rate:"),
//		WithTimeout(50*time.Millisecond),
//		WithRecorder(myMetrics),
//	)
//
// Supported options:
//
//   - WithPrefix(string): Sets the key prefix (default "token_bucket:").
//   - WithTimeout(time.Duration): Bounds each store call (default 100ms).
//   - WithRecorder(MetricsRecorder): Injects a custom metrics backend.
//   - WithClock(Clock): Replaces time.Now, mostly for tests.
package limiter
