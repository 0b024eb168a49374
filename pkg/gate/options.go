package gate

import (
	"log/slog"
	"net/http"
	"time"
)

// FailPolicy decides what happens to a request when the bucket store cannot
// be used.
type FailPolicy int

const (
	// FailClosed rejects the request as if it were throttled.
	FailClosed FailPolicy = iota
	// FailOpen lets the request through unmetered.
	FailOpen
)

func (p FailPolicy) String() string {
	if p == FailOpen {
		return "fail-open"
	}
	return "fail-closed"
}

const (
	DefaultMessage             = "Too many requests, please try again in 30 seconds"
	DefaultUnresolvableMessage = "Client address is required"
	DefaultRetryHint           = 30 * time.Second
)

type Option func(*Gate)

func WithFailPolicy(p FailPolicy) Option {
	return func(g *Gate) {
		g.policy = p
	}
}

// WithOutageStatus sets the status returned when the store is unavailable
// under FailClosed. The default is 429, identical to a real throttle.
func WithOutageStatus(code int) Option {
	return func(g *Gate) {
		if code >= 400 && code <= 599 {
			g.outageStatus = code
		}
	}
}

// WithMessage replaces the fixed retry-later text of rejections.
func WithMessage(msg string) Option {
	return func(g *Gate) {
		if msg != "" {
			g.message = msg
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithOutageLogInterval caps store-failure log lines to one per interval
// (plus a small burst) so a store outage cannot flood the logs.
func WithOutageLogInterval(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.outageLogInterval = d
		}
	}
}

// WithHeaders toggles the X-RateLimit-* and Retry-After response headers.
func WithHeaders(enabled bool) Option {
	return func(g *Gate) {
		g.headers = enabled
	}
}

// WithSkip exempts requests for which fn returns true, such as health checks.
func WithSkip(fn func(r *http.Request) bool) Option {
	return func(g *Gate) {
		g.skip = fn
	}
}
