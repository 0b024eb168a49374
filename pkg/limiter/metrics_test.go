package limiter

import (
	"context"
	"testing"
)

// MockRecorder captures metrics in memory for assertion
type MockRecorder struct {
	Counters map[string]float64
	Timings  map[string][]float64
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{
		Counters: make(map[string]float64),
		Timings:  make(map[string][]float64),
	}
}

func (m *MockRecorder) Add(name string, value float64, tags map[string]string) {
	m.Counters[name] += value
}

func (m *MockRecorder) Observe(name string, value float64, tags map[string]string) {
	m.Timings[name] = append(m.Timings[name], value)
}

func TestRedisLimiter_Metrics(t *testing.T) {
	mr, client := newTestRedis(t)

	mock := NewMockRecorder()

	limiter, err := NewRedisLimiter(client, WithRecorder(mock))
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}

	id := Identity{Namespace: "metrics_test", Key: "user_1"}
	limit := Limit{Capacity: 1, RefillRate: 0, WindowTTL: defaultLimit.WindowTTL}

	for range 2 {
		if _, err := limiter.TryConsume(context.Background(), id, limit); err != nil {
			t.Fatalf("TryConsume failed: %v", err)
		}
	}

	if val := mock.Counters[MetricCall]; val != 2 {
		t.Errorf("Expected %q counter to be 2, got %v", MetricCall, val)
	}
	if val := mock.Counters[MetricAdmitted]; val != 1 {
		t.Errorf("Expected %q counter to be 1, got %v", MetricAdmitted, val)
	}
	if val := mock.Counters[MetricThrottled]; val != 1 {
		t.Errorf("Expected %q counter to be 1, got %v", MetricThrottled, val)
	}

	if timings, ok := mock.Timings[MetricLatency]; !ok || len(timings) != 2 {
		t.Error("Expected 2 latency observations")
	} else if timings[0] <= 0 {
		t.Errorf("Expected positive latency, got %v", timings[0])
	}

	mr.Close()
	if _, err := limiter.TryConsume(context.Background(), id, limit); err == nil {
		t.Fatal("Expected store error after shutdown")
	}
	if val := mock.Counters[MetricStoreError]; val != 1 {
		t.Errorf("Expected %q counter to be 1, got %v", MetricStoreError, val)
	}
}

func TestMemoryLimiter_Metrics(t *testing.T) {
	mock := NewMockRecorder()
	limiter := NewMemoryLimiter(WithRecorder(mock))

	if _, err := limiter.TryConsume(context.Background(), Identity{Namespace: "test", Key: "k"}, defaultLimit); err != nil {
		t.Fatalf("TryConsume failed: %v", err)
	}

	if val := mock.Counters[MetricCall]; val != 1 {
		t.Errorf("Expected %q counter to be 1, got %v", MetricCall, val)
	}
	if val := mock.Counters[MetricAdmitted]; val != 1 {
		t.Errorf("Expected %q counter to be 1, got %v", MetricAdmitted, val)
	}
}
