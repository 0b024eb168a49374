package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manenim/gateway-admission/internal/redisstore"
	"github.com/manenim/gateway-admission/pkg/gate"
	"github.com/manenim/gateway-admission/pkg/identity"
	"github.com/manenim/gateway-admission/pkg/limiter"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testJWTSecret = "test-secret-key"

type testEnv struct {
	server *Server
	redis  *miniredis.Miniredis
	logs   *bytes.Buffer
}

func newTestServer(t *testing.T, limit limiter.Limit) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l, err := limiter.NewRedisLimiter(client, limiter.WithTimeout(200*time.Millisecond))
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	resolver := identity.NewResolver(identity.WithPrincipal(identity.BearerSubject([]byte(testJWTSecret))))
	g, err := gate.New(l, resolver, limit, gate.WithLogger(logger), gate.WithSkip(IsHealthCheck))
	require.NoError(t, err)

	s := New("127.0.0.1:0", g, redisstore.Healthcheck(client), WithLogger(logger))

	return &testEnv{server: s, redis: mr, logs: &logs}
}

func (e *testEnv) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "198.51.100.7:5000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

var roomy = limiter.Limit{Capacity: 100, RefillRate: 5, WindowTTL: time.Minute}

func TestPing(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, roomy)
	w := env.do(http.MethodGet, "/ping", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRequestIDPropagated(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, roomy)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(headerRequestID, "abc-123")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(headerRequestID))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, roomy)

	w := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","redis":"up"}`, w.Body.String())

	env.redis.Close()

	// health checks bypass the gate, so they report the outage instead of a 429
	w = env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable","redis":"down"}`, w.Body.String())

	w = env.do(http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, env.logs.String(), `"msg":"store unavailable"`)
}

func TestHealth_NotThrottled(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, limiter.Limit{Capacity: 1, WindowTTL: time.Minute})
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)
	}
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ping", "").Code, "health checks do not spend tokens")
}

func TestThrottledAfterCapacity(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, limiter.Limit{Capacity: 15, RefillRate: 5, WindowTTL: time.Minute})

	admitted := 0
	for i := 0; i < 16; i++ {
		if env.do(http.MethodGet, "/ping", "").Code == http.StatusOK {
			admitted++
		}
	}
	// refill during the loop may add a token on a slow machine
	assert.GreaterOrEqual(t, admitted, 15)

	var w *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		w = env.do(http.MethodGet, "/ping", "")
		if w.Code == http.StatusTooManyRequests {
			break
		}
	}
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"message":"Too many requests, please try again in 30 seconds","statusCode":429}`, w.Body.String())
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestPrincipalsGetOwnBuckets(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, limiter.Limit{Capacity: 2, WindowTTL: time.Minute})
	alice := signToken(t, testJWTSecret, "alice")

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ping", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ping", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodGet, "/ping", "").Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ping", alice).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ping", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodGet, "/ping", alice).Code)

	assert.True(t, env.redis.Exists("token_bucket:ip+principal:198.51.100.7/alice"))
}

func TestRotatingTokensCannotExceedCapacity(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, limiter.Limit{Capacity: 2, WindowTTL: time.Minute})

	// the gateway never hands out tokens itself
	assert.NotEqual(t, http.StatusOK, env.do(http.MethodPost, "/auth/dev-token", "").Code)

	// tokens not signed with the gateway secret fall back to the address bucket
	admitted := 0
	for i := 0; i < 50; i++ {
		forged := signToken(t, "guessed-secret", fmt.Sprintf("user-%d", i))
		if env.do(http.MethodGet, "/ping", forged).Code == http.StatusOK {
			admitted++
		}
	}
	assert.Positive(t, admitted)
	assert.LessOrEqual(t, admitted, 2)
	assert.False(t, env.redis.Exists("token_bucket:ip+principal:198.51.100.7/user-0"))
}

func TestStats(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, roomy)
	env.do(http.MethodGet, "/ping", "")

	w := env.do(http.MethodGet, "/admission/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats gate.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Admitted)
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, roomy)
	env.server.router.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	w := env.do(http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"message":"Internal server error","statusCode":500}`, w.Body.String())
	assert.Contains(t, env.logs.String(), "panic recovered")
}

func TestRun_Shutdown(t *testing.T) {
	t.Parallel()

	env := newTestServer(t, roomy)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHealth_CheckFails(t *testing.T) {
	t.Parallel()

	g, err := gate.New(limiter.NewMemoryLimiter(), identity.NewResolver(), roomy)
	require.NoError(t, err)
	s := New(":0", g, func(context.Context) error { return redisstore.ErrUnreachable })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable","redis":"down"}`, w.Body.String())
}
