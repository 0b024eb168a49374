package limiter

import (
	"math"
	"time"
)

// state is one bucket as persisted by a backend. lastRefill is in seconds
// since the Unix epoch and doubles as the time of the last write.
type state struct {
	tokens     float64
	lastRefill float64
}

// step refills the bucket for the time elapsed since the last write and then
// tries to take one token from it. A bucket that is absent, or whose last
// write is at least one window old, starts full. So does one stamped more
// than a window in the future, which only a badly skewed clock can produce.
//
// token_bucket.lua implements the same arithmetic on the Redis side; the two
// must stay in sync.
func step(st state, found bool, limit Limit, now float64) (state, bool) {
	capacity := float64(limit.Capacity)
	ttl := limit.WindowTTL.Seconds()
	if !found || now-st.lastRefill >= ttl || st.lastRefill-now >= ttl {
		st = state{tokens: capacity, lastRefill: now}
	}

	tokens := math.Max(0, math.Min(st.tokens, capacity))
	elapsed := math.Max(0, now-st.lastRefill)
	tokens = math.Min(capacity, tokens+elapsed*limit.RefillRate)

	// lastRefill never moves backwards, even if this caller's clock is behind
	// the instance that wrote the bucket.
	next := state{tokens: tokens, lastRefill: math.Max(now, st.lastRefill)}
	if tokens >= 1 {
		next.tokens = tokens - 1
		return next, true
	}
	return next, false
}

func decide(st state, admitted bool, limit Limit, now time.Time) Decision {
	d := Decision{
		Outcome:   Throttled,
		Remaining: int64(math.Floor(st.tokens)),
		Limit:     limit.Capacity,
		ResetTime: now,
	}
	if admitted {
		d.Outcome = Admitted
		return d
	}

	d.RetryAfter = limit.WindowTTL
	if limit.RefillRate > 0 && limit.Capacity > 0 {
		wait := (1 - st.tokens) / limit.RefillRate
		d.RetryAfter = time.Duration(math.Ceil(wait*1e6)) * time.Microsecond
	}
	d.ResetTime = now.Add(d.RetryAfter)
	return d
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
