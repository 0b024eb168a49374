package limiter

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed token_bucket.lua
var tokenBucketSource string

var tokenBucketScript = redis.NewScript(tokenBucketSource)

// RedisLimiter is a distributed token-bucket limiter. Every decision is one
// script execution, so concurrent callers on any number of instances never
// interleave inside a bucket's read/compute/write cycle.
type RedisLimiter struct {
	client redis.UniversalClient
	opts   options
}

// NewRedisLimiter checks connectivity and preloads the bucket script.
//
// WithTimeout only bounds a stalled server when the client was built with
// ContextTimeoutEnabled; otherwise go-redis waits for its own ReadTimeout.
func NewRedisLimiter(client redis.UniversalClient, opts ...Option) (*RedisLimiter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := tokenBucketScript.Load(ctx, client).Err(); err != nil {
		return nil, fmt.Errorf("%w: load script: %w", ErrStoreUnavailable, err)
	}

	return &RedisLimiter{
		client: client,
		opts:   o,
	}, nil
}

// TryConsume takes one token from the identity's bucket if one is available.
// Store failures, including the configured timeout, are returned wrapped in
// ErrStoreUnavailable; what to do about them is the caller's policy.
func (r *RedisLimiter) TryConsume(ctx context.Context, id Identity, limit Limit) (Decision, error) {
	if err := limit.Validate(); err != nil {
		return Decision{}, err
	}

	start := time.Now()
	r.opts.recorder.Add(MetricCall, 1, nil)
	defer func() {
		r.opts.recorder.Observe(MetricLatency, time.Since(start).Seconds(), nil)
	}()

	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	now := r.opts.clock()
	// Script.Run falls back to EVAL when the script cache was flushed.
	values, err := tokenBucketScript.Run(ctx, r.client, []string{r.opts.key(id)},
		limit.Capacity,
		limit.RefillRate,
		strconv.FormatFloat(unixSeconds(now), 'f', 6, 64),
		limit.WindowTTL.Milliseconds(),
	).Slice()
	if err != nil {
		r.opts.recorder.Add(MetricStoreError, 1, nil)
		return Decision{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	st, admitted, recovered, err := parseReply(values)
	if err != nil {
		r.opts.recorder.Add(MetricStoreError, 1, nil)
		return Decision{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	d := decide(st, admitted, limit, now)
	d.Recovered = recovered
	recordDecision(r.opts.recorder, id, d)
	return d, nil
}

// Ping reports whether the store is reachable.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func parseReply(values []interface{}) (state, bool, bool, error) {
	if len(values) != 4 {
		return state{}, false, false, fmt.Errorf("%w: %d elements", ErrMalformedReply, len(values))
	}

	admitted, ok1 := values[0].(int64)
	recovered, ok2 := values[3].(int64)
	if !ok1 || !ok2 {
		return state{}, false, false, fmt.Errorf("%w: %v", ErrMalformedReply, values)
	}

	tokens, err := convertToFloat(values[1])
	if err != nil {
		return state{}, false, false, err
	}
	lastRefill, err := convertToFloat(values[2])
	if err != nil {
		return state{}, false, false, err
	}

	return state{tokens: tokens, lastRefill: lastRefill}, admitted == 1, recovered == 1, nil
}

func convertToFloat(val interface{}) (float64, error) {
	switch v := val.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedReply, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: unexpected %T", ErrMalformedReply, val)
	}
}
