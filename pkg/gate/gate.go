// Package gate puts the token-bucket limiter on the request path.
//
// For every request the Gate resolves the client identity, takes a token from
// its bucket and either forwards the request or short-circuits it with
//
//	{"message": "<retry-later text>", "statusCode": 429}
//
// Requests whose client address cannot be resolved get a 400 with the same
// body shape. When the bucket store fails the configured FailPolicy applies;
// the default is FailClosed, which answers exactly like a throttle. The two
// cases stay distinct internally (Verdict.Reason, logs, Stats) so operators can
// tell abuse from an outage even though clients cannot.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/manenim/gateway-admission/internal/logging"
	"github.com/manenim/gateway-admission/pkg/identity"
	"github.com/manenim/gateway-admission/pkg/limiter"
)

type Reason int

const (
	ReasonAdmitted Reason = iota
	ReasonThrottled
	ReasonStoreUnavailable
	ReasonUnresolvable
	// ReasonCanceled means the caller went away before a decision was made.
	ReasonCanceled
)

// StatusClientClosedRequest is written for canceled requests. Nobody reads it;
// it only shows up in access logs.
const StatusClientClosedRequest = 499

func (r Reason) String() string {
	switch r {
	case ReasonAdmitted:
		return "admitted"
	case ReasonThrottled:
		return "throttled"
	case ReasonStoreUnavailable:
		return "store_unavailable"
	case ReasonUnresolvable:
		return "unresolvable"
	case ReasonCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Body is the JSON payload of every rejection.
type Body struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// Verdict is the outcome of Check for one request.
type Verdict struct {
	Admit    bool
	Reason   Reason
	Status   int
	Body     Body
	Identity limiter.Identity
	Decision limiter.Decision
	// Err is the resolution or store error behind the verdict, if any. It is
	// never sent to the client.
	Err error
}

type Stats struct {
	Admitted         int64 `json:"admitted"`
	Throttled        int64 `json:"throttled"`
	StoreUnavailable int64 `json:"store_unavailable"`
	Unresolvable     int64 `json:"unresolvable"`
	Canceled         int64 `json:"canceled"`
}

type Gate struct {
	limiter  limiter.RateLimiter
	resolver *identity.Resolver
	limit    limiter.Limit

	policy            FailPolicy
	outageStatus      int
	message           string
	headers           bool
	skip              func(r *http.Request) bool
	logger            *slog.Logger
	outageLogInterval time.Duration
	outageLog         *rate.Limiter

	admitted     atomic.Int64
	throttled    atomic.Int64
	unavailable  atomic.Int64
	unresolvable atomic.Int64
	canceled     atomic.Int64
}

// New builds a Gate enforcing limit on every request.
func New(l limiter.RateLimiter, r *identity.Resolver, limit limiter.Limit, opts ...Option) (*Gate, error) {
	if l == nil {
		return nil, errors.New("gate: limiter is required")
	}
	if r == nil {
		return nil, errors.New("gate: resolver is required")
	}
	if err := limit.Validate(); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}

	g := &Gate{
		limiter:           l,
		resolver:          r,
		limit:             limit,
		policy:            FailClosed,
		outageStatus:      http.StatusTooManyRequests,
		message:           DefaultMessage,
		headers:           true,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		outageLogInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.outageLog = rate.NewLimiter(rate.Every(g.outageLogInterval), 3)

	return g, nil
}

// Check runs admission control for r without writing a response.
func (g *Gate) Check(r *http.Request) Verdict {
	ctx := r.Context()

	id, err := g.resolver.Resolve(r)
	if err != nil {
		g.unresolvable.Add(1)
		g.logger.DebugContext(ctx, "client identity unresolvable",
			slog.String("remote_addr", r.RemoteAddr),
			logging.Error(err))
		return Verdict{
			Reason: ReasonUnresolvable,
			Status: http.StatusBadRequest,
			Body:   Body{Message: DefaultUnresolvableMessage, StatusCode: http.StatusBadRequest},
			Err:    err,
		}
	}

	d, err := g.limiter.TryConsume(ctx, id, g.limit)
	if err != nil {
		if ctx.Err() != nil {
			return g.canceledRequest(ctx, id, err)
		}
		return g.storeFailure(ctx, id, err)
	}

	if d.Recovered {
		g.logger.WarnContext(ctx, "discarded corrupt bucket state",
			slog.String("identity", id.String()))
	}

	if !d.Admitted() {
		g.throttled.Add(1)
		g.logger.DebugContext(ctx, "request throttled",
			slog.String("identity", id.String()),
			slog.Duration("retry_after", d.RetryAfter))
		return Verdict{
			Reason:   ReasonThrottled,
			Status:   http.StatusTooManyRequests,
			Body:     Body{Message: g.message, StatusCode: http.StatusTooManyRequests},
			Identity: id,
			Decision: d,
		}
	}

	g.admitted.Add(1)
	return Verdict{Admit: true, Reason: ReasonAdmitted, Identity: id, Decision: d}
}

func (g *Gate) storeFailure(ctx context.Context, id limiter.Identity, err error) Verdict {
	g.unavailable.Add(1)
	if g.outageLog.Allow() {
		g.logger.WarnContext(ctx, "store unavailable",
			slog.String("identity", id.String()),
			slog.String("policy", g.policy.String()),
			slog.Int64("failures_total", g.unavailable.Load()),
			logging.Error(err))
	}

	v := Verdict{Reason: ReasonStoreUnavailable, Identity: id, Err: err}
	if g.policy == FailOpen {
		v.Admit = true
		return v
	}
	v.Status = g.outageStatus
	v.Body = Body{Message: g.message, StatusCode: g.outageStatus}
	v.Decision = limiter.Decision{Outcome: limiter.Throttled, Limit: g.limit.Capacity, RetryAfter: DefaultRetryHint}
	return v
}

// canceledRequest handles a limiter error caused by the request's own context
// ending, typically a client disconnect. It is not a store outage.
func (g *Gate) canceledRequest(ctx context.Context, id limiter.Identity, err error) Verdict {
	g.canceled.Add(1)
	g.logger.DebugContext(ctx, "request canceled before admission",
		slog.String("identity", id.String()),
		logging.Error(err))
	return Verdict{
		Reason:   ReasonCanceled,
		Status:   StatusClientClosedRequest,
		Body:     Body{Message: g.message, StatusCode: StatusClientClosedRequest},
		Identity: id,
		Err:      err,
	}
}

// Stats returns the number of verdicts per reason since the Gate was built.
func (g *Gate) Stats() Stats {
	return Stats{
		Admitted:         g.admitted.Load(),
		Throttled:        g.throttled.Load(),
		StoreUnavailable: g.unavailable.Load(),
		Unresolvable:     g.unresolvable.Load(),
		Canceled:         g.canceled.Load(),
	}
}

func (g *Gate) setHeaders(h http.Header, v Verdict) {
	if !g.headers || v.Reason == ReasonUnresolvable || v.Reason == ReasonCanceled || (v.Reason == ReasonStoreUnavailable && v.Admit) {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.FormatInt(v.Decision.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(0, v.Decision.Remaining), 10))
	if !v.Admit && v.Decision.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(v.Decision.RetryAfter.Seconds()))))
	}
}
