package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// LogRepo persists execution attempt logs.
type LogRepo struct{ Pool DB }

// NewLogRepo constructs a LogRepo with the given pool.
func NewLogRepo(p DB) *LogRepo { return &LogRepo{Pool: p} }

const logColumns = `id, task_id, attempt_number, status, executor_instance,
	started_at, completed_at, duration_ms, success,
	COALESCE(error_message,''), COALESCE(error_stack_trace,''), COALESCE(error_type,''),
	http_status_code, COALESCE(request_payload,'{}'::jsonb), COALESCE(response_payload,'null'::jsonb)`

func scanLog(row rowScanner) (domain.ExecutionLog, error) {
	var l domain.ExecutionLog
	err := row.Scan(
		&l.ID, &l.TaskID, &l.AttemptNumber, &l.Status, &l.ExecutorInstance,
		&l.StartedAt, &l.CompletedAt, &l.DurationMs, &l.Success,
		&l.ErrorMessage, &l.ErrorStackTrace, &l.ErrorType,
		&l.HTTPStatusCode, &l.RequestPayload, &l.ResponsePayload,
	)
	return l, err
}

// Open inserts the attempt row at execution start and returns it with the
// generated id. The row is closed later inside FinalizeAttempt.
func (r *LogRepo) Open(ctx domain.Context, l domain.ExecutionLog) (domain.ExecutionLog, error) {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.Open")
	defer span.End()

	if l.RequestPayload == nil {
		l.RequestPayload = map[string]any{}
	}
	q := `INSERT INTO task_execution_logs (
		task_id, attempt_number, status, executor_instance, started_at, success, request_payload)
	VALUES ($1,$2,$3,$4,$5,false,$6)
	RETURNING id`
	err := r.Pool.QueryRow(ctx, q,
		l.TaskID, l.AttemptNumber, l.Status, l.ExecutorInstance, l.StartedAt.UTC(), l.RequestPayload,
	).Scan(&l.ID)
	if err != nil {
		return domain.ExecutionLog{}, fmt.Errorf("op=log.open: %w", err)
	}
	return l, nil
}

// ListByTask returns all attempts for a task, oldest first.
func (r *LogRepo) ListByTask(ctx domain.Context, taskID string) ([]domain.ExecutionLog, error) {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.ListByTask")
	defer span.End()

	q := `SELECT ` + logColumns + ` FROM task_execution_logs WHERE task_id=$1 ORDER BY attempt_number ASC, id ASC`
	rows, err := r.Pool.Query(ctx, q, taskID)
	if err != nil {
		return nil, fmt.Errorf("op=log.list: %w", err)
	}
	defer rows.Close()
	var logs []domain.ExecutionLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("op=log.list scan: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DeleteOld removes attempt logs started before cutoff. Only logs of tasks
// in a terminal status qualify: a long-retrying task keeps its full history
// for diagnosis, and the FK cascade covers task deletion.
func (r *LogRepo) DeleteOld(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.DeleteOld")
	defer span.End()

	q := `DELETE FROM task_execution_logs
	WHERE started_at < $1
	  AND task_id IN (
		SELECT id FROM scheduled_tasks
		WHERE status IN ('COMPLETED','CANCELLED','EXPIRED','MAX_RETRIES_EXCEEDED','DEAD_LETTER'))`
	tag, err := r.Pool.Exec(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("op=log.delete_old: %w", err)
	}
	return tag.RowsAffected(), nil
}
