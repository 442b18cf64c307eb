package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// call records one statement issued against the fake pool.
type call struct {
	sql  string
	args []any
}

// fakeDB substitutes pgxpool.Pool behind the postgres.DB interface. Each
// statement is recorded; behavior comes from the configured func fields.
type fakeDB struct {
	execFn     func(sql string, args []any) (pgconn.CommandTag, error)
	queryFn    func(sql string, args []any) (pgx.Rows, error)
	queryRowFn func(sql string, args []any) pgx.Row

	execs     []call
	queries   []call
	queryRows []call
	tx        *fakeTx
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, call{sql: sql, args: args})
	if f.execFn == nil {
		return pgconn.CommandTag{}, errors.New("unexpected Exec")
	}
	return f.execFn(sql, args)
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, call{sql: sql, args: args})
	if f.queryFn == nil {
		return nil, errors.New("unexpected Query")
	}
	return f.queryFn(sql, args)
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queryRows = append(f.queryRows, call{sql: sql, args: args})
	if f.queryRowFn == nil {
		return fakeRow{scan: func(...any) error { return errors.New("unexpected QueryRow") }}
	}
	return f.queryRowFn(sql, args)
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.tx == nil {
		f.tx = &fakeTx{db: f}
	}
	return f.tx, nil
}

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeRows yields one scan func per row.
type fakeRows struct {
	scans  []func(dest ...any) error
	idx    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.idx < len(r.scans) {
		r.idx++
		return true
	}
	return false
}
func (r *fakeRows) Scan(dest ...any) error   { return r.scans[r.idx-1](dest...) }
func (r *fakeRows) Values() ([]any, error)   { return nil, nil }
func (r *fakeRows) RawValues() [][]byte      { return nil }
func (r *fakeRows) Conn() *pgx.Conn          { return nil }

// fakeTx runs statements against the parent fakeDB and counts outcomes.
type fakeTx struct {
	db        *fakeDB
	commits   int
	rollbacks int
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(context.Context) error          { t.commits++; return nil }
func (t *fakeTx) Rollback(context.Context) error        { t.rollbacks++; return nil }

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

func tag(t *testing.T, s string) pgconn.CommandTag {
	t.Helper()
	return pgconn.NewCommandTag(s)
}

var fixedTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
