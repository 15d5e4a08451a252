// Package store bootstraps the relational connection pool shared by
// every repository in the core.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tunes the pool's size and connection lifetime.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultOptions returns pool tuning suited to a high-traffic service.
func DefaultOptions() Options {
	return Options{
		MaxConns:        100,
		MinConns:        20,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
	}
}

// NewPool parses databaseURL and opens a pool configured for bounded
// concurrency. Simple-protocol query mode is used so the pool tolerates
// sitting behind a transaction-pooling proxy (PgBouncer-style), which
// rejects prepared-statement caching across pooled connections.
func NewPool(ctx context.Context, databaseURL string, opts Options) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}

	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.MaxConnLifetime = opts.MaxConnLifetime
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return pool, nil
}

// WithRetry runs fn up to 3 times with exponential backoff before
// surfacing a transient store failure to the caller. Hand-rolled since
// no suitable third-party retry library was available to wire in;
// justified stdlib use (see DESIGN.md).
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	const maxAttempts = 3
	backoff := 50 * time.Millisecond
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
