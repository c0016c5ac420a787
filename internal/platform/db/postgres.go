package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options configures the ledger connection pool.
type Options struct {
	DSN            string
	Application    string
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
}

// New opens the pool and waits for one successful ping before returning it.
func New(ctx context.Context, opts Options) (*pgxpool.Pool, error) {
	config, err := poolConfig(opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("platform/db: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnConfig.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}

	return pool, nil
}

// poolConfig applies Options over whatever the DSN already sets. Sessions run
// in UTC so DATE columns never shift across the server's zone.
func poolConfig(opts Options) (*pgxpool.Config, error) {
	if opts.DSN == "" {
		return nil, errors.New("platform/db: dsn required")
	}
	config, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= config.MaxConns {
		config.MinConns = opts.MinConns
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	config.ConnConfig.ConnectTimeout = opts.ConnectTimeout

	params := config.ConnConfig.RuntimeParams
	if opts.Application != "" {
		params["application_name"] = opts.Application
	}
	params["timezone"] = "UTC"
	return config, nil
}

// Pinger adapts a pool to the readiness probe signature.
func Pinger(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil {
			return errors.New("platform/db: pool not configured")
		}
		return pool.Ping(ctx)
	}
}
