// Command gateway runs the HTTP gateway with Redis-backed admission control.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/manenim/gateway-admission/internal/config"
	"github.com/manenim/gateway-admission/internal/logging"
	"github.com/manenim/gateway-admission/internal/redisstore"
	"github.com/manenim/gateway-admission/internal/server"
	"github.com/manenim/gateway-admission/pkg/gate"
	"github.com/manenim/gateway-admission/pkg/identity"
	"github.com/manenim/gateway-admission/pkg/limiter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := redisstore.Connect(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	l, err := limiter.NewRedisLimiter(client,
		limiter.WithPrefix(cfg.KeyPrefix),
		limiter.WithTimeout(cfg.StoreTimeout),
	)
	if err != nil {
		return err
	}

	resolverOpts := []identity.Option{
		identity.WithTrustForwarded(cfg.TrustForwarded),
		identity.WithAnonymousKey(cfg.AnonymousKey),
	}
	if cfg.JWTSecret != "" {
		resolverOpts = append(resolverOpts, identity.WithPrincipal(identity.BearerSubject([]byte(cfg.JWTSecret))))
	}

	policy := gate.FailClosed
	if cfg.FailOpen {
		policy = gate.FailOpen
	}
	g, err := gate.New(l, identity.NewResolver(resolverOpts...), cfg.Limit(),
		gate.WithFailPolicy(policy),
		gate.WithOutageStatus(cfg.OutageStatus),
		gate.WithLogger(logger),
		gate.WithSkip(server.IsHealthCheck),
	)
	if err != nil {
		return err
	}

	logger.Info("admission control ready",
		slog.Int64("capacity", cfg.BucketCapacity),
		slog.Float64("refill_rate", cfg.RefillRate),
		slog.Duration("window_ttl", cfg.WindowTTL),
		slog.String("fail_policy", policy.String()))

	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(":"+strconv.Itoa(cfg.Port), g, redisstore.Healthcheck(client), server.WithLogger(logger))
	return srv.Run(ctx)
}
