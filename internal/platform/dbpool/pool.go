package dbpool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskflow/taskflow/internal/platform/env"
)

const (
	defaultMinConns        = 1
	defaultMaxConns        = 10
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
	defaultHealthCheck     = 30 * time.Second
)

// Limits are the pool tuning knobs read from DB_* variables.
type Limits struct {
	MinConns        int
	MaxConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
}

func LimitsFromEnv() Limits {
	l := Limits{
		MinConns:        env.Int("DB_MIN_CONNS", defaultMinConns),
		MaxConns:        env.Int("DB_MAX_CONNS", defaultMaxConns),
		MaxConnLifetime: env.Duration("DB_MAX_CONN_LIFETIME", defaultMaxConnLifetime),
		MaxConnIdleTime: env.Duration("DB_MAX_CONN_IDLE_TIME", defaultMaxConnIdleTime),
		HealthCheck:     env.Duration("DB_HEALTH_CHECK_PERIOD", defaultHealthCheck),
	}
	if l.MinConns < 0 {
		l.MinConns = defaultMinConns
	}
	if l.MaxConns <= 0 {
		l.MaxConns = defaultMaxConns
	}
	if l.MinConns > l.MaxConns {
		l.MinConns = l.MaxConns
	}
	return l
}

func New(ctx context.Context, databaseURL string, limits Limits) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.MinConns = int32(limits.MinConns)
	cfg.MaxConns = int32(limits.MaxConns)
	cfg.MaxConnLifetime = limits.MaxConnLifetime
	cfg.MaxConnIdleTime = limits.MaxConnIdleTime
	cfg.HealthCheckPeriod = limits.HealthCheck

	return pgxpool.NewWithConfig(ctx, cfg)
}

// WaitFor retries step until it succeeds, ctx ends, or timeout passes.
// It is used for schema setup while Postgres is still starting.
func WaitFor(ctx context.Context, logger *slog.Logger, what string, timeout time.Duration, step func(context.Context) error) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = step(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		logger.Info("waiting for database", "step", what, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("%s: %w", what, lastErr)
}
