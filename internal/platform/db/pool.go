package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions sizes the pool and pins per-connection settings.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
	// SearchPath is applied to every connection when set, e.g. "it_x, public".
	SearchPath string
	// AppName shows up in pg_stat_activity.
	AppName string
}

// NewPool opens and pings a pgx pool. Sessions run in UTC so that booking
// intervals compare the same regardless of the server's local zone.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	params := cfg.ConnConfig.RuntimeParams
	params["timezone"] = "UTC"
	if opts.SearchPath != "" {
		params["search_path"] = opts.SearchPath
	}
	if opts.AppName != "" {
		params["application_name"] = opts.AppName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
