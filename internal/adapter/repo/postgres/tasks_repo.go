package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// TaskRepo persists scheduled tasks in PostgreSQL.
type TaskRepo struct{ Pool DB }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p DB) *TaskRepo { return &TaskRepo{Pool: p} }

const taskColumns = `id, task_type, status, priority, reference_id,
	COALESCE(secondary_reference_id,''), COALESCE(description,''),
	COALESCE(payload,'{}'::jsonb), COALESCE(metadata,'{}'::jsonb),
	scheduled_time, expires_at, retry_count, max_retries, retry_delay_hours,
	COALESCE(cron_expression,''), COALESCE(last_error,''),
	COALESCE(last_error_stack_trace,''), COALESCE(execution_result,'null'::jsonb),
	locked_by, locked_until, version, created_at, updated_at,
	COALESCE(created_by,''), started_at, completed_at, execution_duration_ms`

// priorityOrder ranks priorities in SQL; stored values are names, not ints.
const priorityOrder = `CASE priority
	WHEN 'CRITICAL' THEN 4 WHEN 'HIGH' THEN 3 WHEN 'NORMAL' THEN 2 WHEN 'LOW' THEN 1 END`

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var priority string
	err := row.Scan(
		&t.ID, &t.Type, &t.Status, &priority, &t.ReferenceID,
		&t.SecondaryReferenceID, &t.Description,
		&t.Payload, &t.Metadata,
		&t.ScheduledTime, &t.ExpiresAt, &t.RetryCount, &t.MaxRetries, &t.RetryDelayHours,
		&t.CronExpression, &t.LastError,
		&t.LastErrorStackTrace, &t.ExecutionResult,
		&t.LockedBy, &t.LockedUntil, &t.Version, &t.CreatedAt, &t.UpdatedAt,
		&t.CreatedBy, &t.StartedAt, &t.CompletedAt, &t.ExecutionDurationMs,
	)
	if err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.ParseTaskPriority(priority)
	return t, nil
}

// Create inserts a new task and returns the stored row.
func (r *TaskRepo) Create(ctx domain.Context, t domain.Task) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Create")
	defer span.End()

	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	if t.Priority == 0 {
		t.Priority = domain.PriorityNormal
	}
	if t.ScheduledTime.IsZero() {
		t.ScheduledTime = now
	}
	if t.Payload == nil {
		t.Payload = map[string]any{}
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}

	q := `INSERT INTO scheduled_tasks (
		id, task_type, status, priority, reference_id, secondary_reference_id,
		description, payload, metadata, scheduled_time, expires_at,
		retry_count, max_retries, retry_delay_hours, cron_expression,
		version, created_at, updated_at, created_by)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,0,$16,$16,$17)
	RETURNING ` + taskColumns
	row := r.Pool.QueryRow(ctx, q,
		id, t.Type, t.Status, t.Priority.String(), t.ReferenceID, nullIfEmpty(t.SecondaryReferenceID),
		nullIfEmpty(t.Description), t.Payload, t.Metadata, t.ScheduledTime.UTC(), t.ExpiresAt,
		t.RetryCount, t.MaxRetries, t.RetryDelayHours, nullIfEmpty(t.CronExpression),
		now, nullIfEmpty(t.CreatedBy),
	)
	created, err := scanTask(row)
	if err != nil {
		return domain.Task{}, fmt.Errorf("op=task.create: %w", err)
	}
	return created, nil
}

// Get loads a task by id.
func (r *TaskRepo) Get(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()

	q := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE id=$1`
	t, err := scanTask(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Task{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
		}
		return domain.Task{}, fmt.Errorf("op=task.get: %w", err)
	}
	return t, nil
}

// FetchDue selects a batch of ready tasks under FOR UPDATE SKIP LOCKED so
// that concurrent pollers pick disjoint sets. The row locks are released at
// commit; the durable per-task lock is taken later by AcquireLock.
func (r *TaskRepo) FetchDue(ctx domain.Context, now time.Time, limit int) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.FetchDue")
	defer span.End()

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=task.fetch_due begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `SELECT ` + taskColumns + ` FROM scheduled_tasks
	WHERE status IN ('PENDING','SCHEDULED','FAILED','RETRY_PENDING')
	  AND scheduled_time <= $1
	  AND (locked_by IS NULL OR locked_until < $1)
	  AND (expires_at IS NULL OR expires_at > $1)
	ORDER BY ` + priorityOrder + ` DESC, scheduled_time ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, q, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("op=task.fetch_due: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("op=task.fetch_due scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=task.fetch_due rows: %w", err)
	}
	rows.Close()
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=task.fetch_due commit: %w", err)
	}
	return tasks, nil
}

// AcquireLock is the single atomic conditional update that wins or loses
// the per-task race across replicas.
func (r *TaskRepo) AcquireLock(ctx domain.Context, id, instanceID string, lockUntil, now time.Time, version int64) (bool, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.AcquireLock")
	defer span.End()

	q := `UPDATE scheduled_tasks
	SET locked_by=$2, locked_until=$3, status='PROCESSING',
	    started_at=$4, updated_at=$4, version=version+1
	WHERE id=$1 AND version=$5
	  AND (locked_by IS NULL OR locked_until < $4)`
	tag, err := r.Pool.Exec(ctx, q, id, instanceID, lockUntil.UTC(), now.UTC(), version)
	if err != nil {
		return false, fmt.Errorf("op=task.acquire_lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeAttempt commits one attempt: the task mutation and the execution
// log close land in a single transaction, guarded by the holder's lock and
// the version counter. On guard failure everything rolls back and the lock
// is left to expire.
func (r *TaskRepo) FinalizeAttempt(ctx domain.Context, t domain.Task, l domain.ExecutionLog) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.FinalizeAttempt")
	defer span.End()

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=task.finalize begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	q := `UPDATE scheduled_tasks
	SET status=$2, completed_at=$3, execution_duration_ms=$4,
	    last_error=$5, last_error_stack_trace=$6, execution_result=$7,
	    retry_count=$8, scheduled_time=$9, locked_by=$10, locked_until=$11,
	    updated_at=$12, version=version+1
	WHERE id=$1 AND locked_by=$13 AND version=$14`
	tag, err := tx.Exec(ctx, q,
		t.ID, t.Status, t.CompletedAt, t.ExecutionDurationMs,
		nullIfEmpty(t.LastError), nullIfEmpty(t.LastErrorStackTrace), t.ExecutionResult,
		t.RetryCount, t.ScheduledTime.UTC(), t.LockedBy, t.LockedUntil,
		now, l.ExecutorInstance, t.Version,
	)
	if err != nil {
		return fmt.Errorf("op=task.finalize task: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("op=task.finalize: lock or version lost: %w", domain.ErrConflict)
	}

	lq := `UPDATE task_execution_logs
	SET status=$2, completed_at=$3, duration_ms=$4, success=$5,
	    error_message=$6, error_stack_trace=$7, error_type=$8,
	    http_status_code=$9, response_payload=$10
	WHERE id=$1`
	if _, err := tx.Exec(ctx, lq,
		l.ID, l.Status, l.CompletedAt, l.DurationMs, l.Success,
		nullIfEmpty(l.ErrorMessage), nullIfEmpty(l.ErrorStackTrace), nullIfEmpty(l.ErrorType),
		l.HTTPStatusCode, l.ResponsePayload,
	); err != nil {
		return fmt.Errorf("op=task.finalize log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=task.finalize commit: %w", err)
	}
	return nil
}

// SaveTransition applies an operator or executor state change guarded by
// the version counter. Returns the stored row; ErrConflict when the version
// moved underneath the caller.
func (r *TaskRepo) SaveTransition(ctx domain.Context, t domain.Task) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.SaveTransition")
	defer span.End()

	q := `UPDATE scheduled_tasks
	SET status=$2, scheduled_time=$3, expires_at=$4, retry_count=$5,
	    last_error=$6, last_error_stack_trace=$7, execution_result=$8,
	    locked_by=$9, locked_until=$10, completed_at=$11,
	    execution_duration_ms=$12, updated_at=$13, version=version+1
	WHERE id=$1 AND version=$14
	RETURNING ` + taskColumns
	row := r.Pool.QueryRow(ctx, q,
		t.ID, t.Status, t.ScheduledTime.UTC(), t.ExpiresAt, t.RetryCount,
		nullIfEmpty(t.LastError), nullIfEmpty(t.LastErrorStackTrace), t.ExecutionResult,
		t.LockedBy, t.LockedUntil, t.CompletedAt,
		t.ExecutionDurationMs, time.Now().UTC(), t.Version,
	)
	saved, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Task{}, fmt.Errorf("op=task.save_transition: %w", domain.ErrConflict)
		}
		return domain.Task{}, fmt.Errorf("op=task.save_transition: %w", err)
	}
	return saved, nil
}

// FindStale returns PROCESSING tasks whose lock expired before threshold.
func (r *TaskRepo) FindStale(ctx domain.Context, threshold time.Time) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.FindStale")
	defer span.End()

	q := `SELECT ` + taskColumns + ` FROM scheduled_tasks
	WHERE locked_by IS NOT NULL AND status='PROCESSING' AND locked_until < $1`
	rows, err := r.Pool.Query(ctx, q, threshold.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=task.find_stale: %w", err)
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("op=task.find_stale scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ResetStale bulk-resets stale tasks for retry. The status guard makes a
// second reap over the same ids a no-op.
func (r *TaskRepo) ResetStale(ctx domain.Context, ids []string, nextRetry, now time.Time) (int64, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ResetStale")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}
	q := `UPDATE scheduled_tasks
	SET locked_by=NULL, locked_until=NULL, status='RETRY_PENDING',
	    last_error='Task execution timed out or instance crashed',
	    scheduled_time=$2, updated_at=$3, version=version+1
	WHERE id = ANY($1) AND status='PROCESSING'`
	tag, err := r.Pool.Exec(ctx, q, ids, nextRetry.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("op=task.reset_stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindActiveByReference returns the non-terminal task for a (reference,
// type) pair, backing duplicate prevention at creation time.
func (r *TaskRepo) FindActiveByReference(ctx domain.Context, referenceID string, taskType domain.TaskType) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.FindActiveByReference")
	defer span.End()

	q := `SELECT ` + taskColumns + ` FROM scheduled_tasks
	WHERE reference_id=$1 AND task_type=$2
	  AND status NOT IN ('COMPLETED','CANCELLED','EXPIRED','MAX_RETRIES_EXCEEDED','DEAD_LETTER')
	LIMIT 1`
	t, err := scanTask(r.Pool.QueryRow(ctx, q, referenceID, taskType))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Task{}, fmt.Errorf("op=task.find_active: %w", domain.ErrNotFound)
		}
		return domain.Task{}, fmt.Errorf("op=task.find_active: %w", err)
	}
	return t, nil
}

// ListByReference returns all tasks for a reference, newest first.
func (r *TaskRepo) ListByReference(ctx domain.Context, referenceID string) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ListByReference")
	defer span.End()

	q := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE reference_id=$1 ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q, referenceID)
	if err != nil {
		return nil, fmt.Errorf("op=task.list_by_reference: %w", err)
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("op=task.list_by_reference scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Search returns a page of tasks matching the filter plus the total count.
func (r *TaskRepo) Search(ctx domain.Context, f domain.SearchFilter) ([]domain.Task, int64, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Search")
	defer span.End()

	var conds []string
	var args []any
	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("task_type=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.ReferenceID != "" {
		args = append(args, f.ReferenceID)
		conds = append(conds, fmt.Sprintf("reference_id=$%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM scheduled_tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=task.search count: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	limitArg := len(args)
	args = append(args, f.Offset)
	offsetArg := len(args)
	q := fmt.Sprintf(`SELECT %s FROM scheduled_tasks%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		taskColumns, where, limitArg, offsetArg)
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=task.search: %w", err)
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("op=task.search scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// Stats aggregates task counts for the management API.
func (r *TaskRepo) Stats(ctx domain.Context) (domain.Statistics, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Stats")
	defer span.End()

	stats := domain.Statistics{
		StatusCounts:    map[domain.TaskStatus]int64{},
		TypeStatusCount: map[domain.TaskType]map[domain.TaskStatus]int64{},
	}

	rows, err := r.Pool.Query(ctx, `SELECT status, COUNT(*) FROM scheduled_tasks GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("op=task.stats status: %w", err)
	}
	for rows.Next() {
		var status domain.TaskStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("op=task.stats scan: %w", err)
		}
		stats.StatusCounts[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("op=task.stats rows: %w", err)
	}

	rows, err = r.Pool.Query(ctx, `SELECT task_type, status, COUNT(*) FROM scheduled_tasks GROUP BY task_type, status`)
	if err != nil {
		return stats, fmt.Errorf("op=task.stats type: %w", err)
	}
	for rows.Next() {
		var taskType domain.TaskType
		var status domain.TaskStatus
		var count int64
		if err := rows.Scan(&taskType, &status, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("op=task.stats scan: %w", err)
		}
		if stats.TypeStatusCount[taskType] == nil {
			stats.TypeStatusCount[taskType] = map[domain.TaskStatus]int64{}
		}
		stats.TypeStatusCount[taskType][status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("op=task.stats rows: %w", err)
	}

	stats.PendingCount = stats.StatusCounts[domain.StatusPending] +
		stats.StatusCounts[domain.StatusScheduled] +
		stats.StatusCounts[domain.StatusRetryPending]
	stats.ProcessingCount = stats.StatusCounts[domain.StatusProcessing]
	stats.FailedCount = stats.StatusCounts[domain.StatusFailed] +
		stats.StatusCounts[domain.StatusMaxRetriesExceeded] +
		stats.StatusCounts[domain.StatusDeadLetter]
	stats.CompletedCount = stats.StatusCounts[domain.StatusCompleted]
	return stats, nil
}

// DeleteOldTerminal removes terminal tasks completed before cutoff.
func (r *TaskRepo) DeleteOldTerminal(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.DeleteOldTerminal")
	defer span.End()

	q := `DELETE FROM scheduled_tasks
	WHERE status IN ('COMPLETED','CANCELLED','EXPIRED','MAX_RETRIES_EXCEEDED','DEAD_LETTER')
	  AND completed_at < $1`
	tag, err := r.Pool.Exec(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("op=task.delete_old: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
