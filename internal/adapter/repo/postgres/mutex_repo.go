package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// MutexRepo implements a lease-based cluster mutex on a single table row.
// The upsert only steals the row when the previous lease has expired, so
// exactly one replica holds a named lease at a time.
type MutexRepo struct{ Pool DB }

// NewMutexRepo constructs a MutexRepo with the given pool.
func NewMutexRepo(p DB) *MutexRepo { return &MutexRepo{Pool: p} }

// Acquire takes the named lease if it is free or expired.
func (r *MutexRepo) Acquire(ctx domain.Context, name, holder string, lease time.Duration) (bool, error) {
	tracer := otel.Tracer("repo.mutex")
	ctx, span := tracer.Start(ctx, "mutex.Acquire")
	defer span.End()

	now := time.Now().UTC()
	q := `INSERT INTO cluster_locks (name, locked_by, locked_at, lock_until)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (name) DO UPDATE
	SET locked_by=EXCLUDED.locked_by, locked_at=EXCLUDED.locked_at, lock_until=EXCLUDED.lock_until
	WHERE cluster_locks.lock_until <= EXCLUDED.locked_at`
	tag, err := r.Pool.Exec(ctx, q, name, holder, now, now.Add(lease))
	if err != nil {
		return false, fmt.Errorf("op=mutex.acquire name=%s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops the lease early; only the current holder may release.
func (r *MutexRepo) Release(ctx domain.Context, name, holder string) error {
	tracer := otel.Tracer("repo.mutex")
	ctx, span := tracer.Start(ctx, "mutex.Release")
	defer span.End()

	q := `UPDATE cluster_locks SET lock_until=locked_at WHERE name=$1 AND locked_by=$2`
	if _, err := r.Pool.Exec(ctx, q, name, holder); err != nil {
		return fmt.Errorf("op=mutex.release name=%s: %w", name, err)
	}
	return nil
}
