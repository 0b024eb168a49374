package limiter

// Metric names emitted by the limiters.
const (
	MetricCall         = "ratelimit.call"
	MetricLatency      = "ratelimit.latency"
	MetricAdmitted     = "ratelimit.admitted"
	MetricThrottled    = "ratelimit.throttled"
	MetricStoreError   = "ratelimit.store_error"
	MetricCorruptState = "ratelimit.corrupt_state"
)

// MetricsRecorder is the hook for plugging a metrics backend into the limiters.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NoOpMetricsRecorder is a placeholder that does nothing.
// It ensures we never have to check 'if r.recorder != nil' in our hot path.
type NoOpMetricsRecorder struct{}

func (n *NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (n *NoOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}

func recordDecision(r MetricsRecorder, id Identity, d Decision) {
	tags := map[string]string{"namespace": string(id.Namespace)}
	if d.Recovered {
		r.Add(MetricCorruptState, 1, tags)
	}
	if d.Admitted() {
		r.Add(MetricAdmitted, 1, tags)
		return
	}
	r.Add(MetricThrottled, 1, tags)
}
