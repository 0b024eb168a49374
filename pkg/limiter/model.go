package limiter

import (
	"context"
	"fmt"
	"time"
)

type Namespace string

const (
	NamespaceIP        Namespace = "ip"
	NamespacePrincipal Namespace = "ip+principal"
	NamespaceAnonymous Namespace = "anon"
)

// Limit is the bucket policy applied to one identity.
type Limit struct {
	// Capacity is the maximum burst: the most tokens a bucket can hold.
	Capacity int64
	// RefillRate is the number of tokens restored per second.
	RefillRate float64
	// WindowTTL is how long an idle bucket is kept before it is forgotten.
	WindowTTL time.Duration
}

// Validate reports whether the limit can be enforced.
func (l Limit) Validate() error {
	if l.Capacity < 0 {
		return fmt.Errorf("%w: capacity %d is negative", ErrInvalidLimit, l.Capacity)
	}
	if l.RefillRate < 0 {
		return fmt.Errorf("%w: refill rate %v is negative", ErrInvalidLimit, l.RefillRate)
	}
	if l.WindowTTL < time.Millisecond {
		return fmt.Errorf("%w: window ttl %v is too short", ErrInvalidLimit, l.WindowTTL)
	}
	return nil
}

type Outcome int

const (
	Throttled Outcome = iota
	Admitted
)

func (o Outcome) String() string {
	if o == Admitted {
		return "admitted"
	}
	return "throttled"
}

type Decision struct {
	Outcome Outcome
	// Remaining is the number of whole tokens left after the decision.
	Remaining int64
	Limit     int64
	// RetryAfter is zero when admitted. When throttled it is the time until one
	// token is available, or the remaining window when the bucket never refills.
	RetryAfter time.Duration
	ResetTime  time.Time
	// Recovered is set when the stored state could not be parsed and the
	// bucket was started afresh.
	Recovered bool
}

func (d Decision) Admitted() bool { return d.Outcome == Admitted }

type Identity struct {
	Namespace Namespace
	Key       string
}

func (id Identity) String() string {
	return string(id.Namespace) + ":" + id.Key
}

type RateLimiter interface {
	TryConsume(ctx context.Context, id Identity, limit Limit) (Decision, error)
}
