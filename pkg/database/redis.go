package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/config"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/retry"
)

// NewRedisClient creates a Redis client and waits for it to answer PING.
// Returns nil if Redis is not configured (host is empty).
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	addr := fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.Host), cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	rc := retry.StartupConfig()
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("Redis not ready, retrying",
			zap.String("addr", addr),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error", logging.SanitizeError(err)))
	}

	if err := retry.DoIfRetryable(ctx, rc, func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
