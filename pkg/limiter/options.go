package limiter

import "time"

const (
	DefaultPrefix  = "token_bucket:"
	DefaultTimeout = 100 * time.Millisecond
)

type Clock func() time.Time

type options struct {
	prefix   string
	timeout  time.Duration
	recorder MetricsRecorder
	clock    Clock
}

func defaultOptions() options {
	return options{
		prefix:   DefaultPrefix,
		timeout:  DefaultTimeout,
		recorder: &NoOpMetricsRecorder{},
		clock:    time.Now,
	}
}

type Option func(*options)

// WithPrefix sets the prefix prepended to every bucket key.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithTimeout bounds every store round trip. A call that exceeds it fails
// with ErrStoreUnavailable wrapping context.DeadlineExceeded.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithRecorder(r MetricsRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock replaces time.Now as the source of "now" for refill arithmetic.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func (o options) key(id Identity) string {
	return o.prefix + id.String()
}
