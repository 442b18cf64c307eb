package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates a pgx connection pool from the provided DSN.
// The pool must cover the executor pool plus a small reserve for the
// poller, reaper and API reads.
func NewPool(ctx context.Context, dsn string, executorPoolSize int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	reserve := int32(5)
	cfg.MaxConns = int32(executorPoolSize) + reserve
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
