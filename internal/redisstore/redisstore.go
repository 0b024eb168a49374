// Package redisstore opens the Redis connection that backs the bucket store.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manenim/gateway-admission/internal/config"
	"github.com/manenim/gateway-admission/internal/logging"
)

var ErrUnreachable = errors.New("redisstore: redis unreachable")

// Connect dials Redis and pings it, retrying up to cfg.RetryAttempts times.
// The n-th retry waits n*cfg.RetryInterval.
func Connect(ctx context.Context, cfg config.Redis, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		// socket deadlines follow the caller's context, so the limiter's
		// store timeout bounds a stalled server too
		ContextTimeoutEnabled: true,
	})

	attempts := max(1, cfg.RetryAttempts)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Addr()))
			return client, nil
		}

		logger.WarnContext(ctx, "redis ping failed",
			slog.String("addr", cfg.Addr()),
			slog.Int("attempt", attempt),
			logging.Error(err))

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, fmt.Errorf("%w: %w", ErrUnreachable, ctx.Err())
		case <-time.After(time.Duration(attempt) * cfg.RetryInterval):
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrUnreachable, attempts, err)
}

// Healthcheck returns a check that pings client.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrUnreachable, err)
		}
		return nil
	}
}
