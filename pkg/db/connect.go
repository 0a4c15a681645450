package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds connection settings for one Postgres target. Values come from
// the runner's YAML config; zero values fall back to the defaults below.
type Config struct {
	// DSN is a postgres:// connection URL.
	DSN string

	MaxConns int32
	MinConns int32

	// Startup retry for transient network failures. A nightly batch runner
	// that cannot reach its store should keep trying briefly before the run
	// is abandoned.
	RetryAttempts int
	RetryInterval time.Duration
}

const (
	defaultMaxConns      = 5
	defaultRetryAttempts = 3
	defaultRetryInterval = 5 * time.Second
)

// Connect establishes a connection pool, verifying it with a ping. Failed
// attempts back off linearly (attempt n waits n times the retry interval).
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Join(ErrInvalidDSN, err)
	}

	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrConnect, ctx.Err())
		case <-time.After(time.Duration(attempt) * cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrConnect, lastErr)
}

// Shutdown closes the pool. Safe to call with nil.
func Shutdown(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
