// Package server is the HTTP front of the gateway. Every route sits behind the
// admission gate; health checks are exempt when the gate skips IsHealthCheck.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/manenim/gateway-admission/internal/logging"
	"github.com/manenim/gateway-admission/pkg/gate"
)

const (
	shutdownTimeout = 10 * time.Second
	healthPath      = "/health"
)

// HealthFunc reports whether the bucket store is reachable.
type HealthFunc func(ctx context.Context) error

type Server struct {
	router *gin.Engine
	gate   *gate.Gate
	health HealthFunc
	logger *slog.Logger
	addr   string
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(addr string, g *gate.Gate, health HealthFunc, opts ...Option) *Server {
	s := &Server{
		gate:   g,
		health: health,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(requestID())
	router.Use(recovery(s.logger))
	router.Use(accessLog(s.logger))
	router.Use(g.Gin())
	s.router = router
	s.setupRoutes()

	return s
}

// IsHealthCheck reports whether r is a health check. Pass it to gate.WithSkip so
// load balancers are never throttled.
func IsHealthCheck(r *http.Request) bool {
	return r.URL.Path == healthPath
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET(healthPath, s.handleHealth())
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	s.router.GET("/admission/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.gate.Stats())
	})
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := s.health(ctx); err != nil {
			s.logger.WarnContext(ctx, "health check failed", logging.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "redis": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "redis": "up"})
	}
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.InfoContext(ctx, "gateway listening", slog.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Info("gateway shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
