package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/ApexAZ/zentropy-sub008/core"
	"github.com/ApexAZ/zentropy-sub008/internal/config"
	"github.com/ApexAZ/zentropy-sub008/pkg/cache"
)

const (
	connectBaseDelay  = 250 * time.Millisecond
	connectMaxRetries = 6
)

func connectBackoff() retry.Backoff {
	return retry.WithMaxRetries(connectMaxRetries, retry.NewExponential(connectBaseDelay))
}

// connectDatabase opens a pool and waits for PostgreSQL to answer a ping.
func connectDatabase(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database_url (or DATABASE_URL) is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	err = retry.Do(ctx, connectBackoff(), func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping database").Wrap(err)
	}

	logger.InfoContext(ctx, "connected to database")
	return pool, nil
}

// newCounterStore builds the rate limit backend. The returned func releases
// its resources.
func newCounterStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.CounterStore, func(), error) {
	if cfg.RateLimit.Backend != config.BackendRedis {
		logger.InfoContext(ctx, "using in-process rate limit counters")
		store := cache.NewMemoryCounterStore(cache.MemoryCounterConfig{})
		sweepCtx, stopSweep := context.WithCancel(context.Background())
		go store.RunSweeper(sweepCtx, time.Minute)
		return store, stopSweep, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
	store := cache.NewRedisCounterStore(client, "")

	err := retry.Do(ctx, connectBackoff(), func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "redis not ready, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.RateLimit.RedisAddr).Wrap(err)
	}

	logger.InfoContext(ctx, "using redis rate limit counters", "addr", cfg.RateLimit.RedisAddr)
	return store, func() {
		if err := client.Close(); err != nil {
			logger.Debug("error closing redis client", "error", err)
		}
	}, nil
}
