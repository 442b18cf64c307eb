// Package postgres provides PostgreSQL adapters for the task store.
//
// The store carries the whole distributed-coordination burden: skip-locked
// batch fetch, conditional lock updates with an optimistic version counter,
// and a shedlock-style cluster mutex table.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repositories need; tests substitute
// a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}
