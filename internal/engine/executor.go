package engine

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/task-scheduler/internal/adapter/observability"
	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// Executor runs one task through the full attempt pipeline: lock, refetch,
// expiry gate, validation, handler execution and the single-transaction
// finalize that records the outcome.
type Executor struct {
	Tasks    domain.TaskRepository
	Logs     domain.ExecutionLogRepository
	Registry *Registry
	Alerter  domain.Alerter

	InstanceID             string
	LockDuration           time.Duration
	DefaultMaxRetries      int
	DefaultRetryDelayHours int
}

// NewExecutor constructs an executor bound to this replica's identity.
func NewExecutor(
	tasks domain.TaskRepository,
	logs domain.ExecutionLogRepository,
	registry *Registry,
	alerter domain.Alerter,
	instanceID string,
	lockDuration time.Duration,
	defaultMaxRetries, defaultRetryDelayHours int,
) *Executor {
	return &Executor{
		Tasks:                  tasks,
		Logs:                   logs,
		Registry:               registry,
		Alerter:                alerter,
		InstanceID:             instanceID,
		LockDuration:           lockDuration,
		DefaultMaxRetries:      defaultMaxRetries,
		DefaultRetryDelayHours: defaultRetryDelayHours,
	}
}

// Process runs one attempt for the given task snapshot. Losing the lock
// race is a normal outcome and returns nil; only infrastructure failures
// surface as errors.
func (e *Executor) Process(ctx domain.Context, t domain.Task) error {
	tracer := otel.Tracer("engine.executor")
	ctx, span := tracer.Start(ctx, "executor.Process")
	span.SetAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.type", string(t.Type)),
	)
	defer span.End()

	now := time.Now().UTC()
	acquired, err := e.Tasks.AcquireLock(ctx, t.ID, e.InstanceID, now.Add(e.LockDuration), now, t.Version)
	if err != nil {
		return fmt.Errorf("op=executor.process acquire: %w", err)
	}
	if !acquired {
		slog.Debug("lost lock race", slog.String("task_id", t.ID))
		return nil
	}

	// Refetch so the attempt works on the post-acquire row and version.
	task, err := e.Tasks.Get(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("op=executor.process refetch: %w", err)
	}

	if task.Expired(now) {
		return e.expire(ctx, task, now)
	}

	handler, err := e.Registry.Resolve(task.Type)
	if err != nil {
		// No handler is a configuration defect; dead-letter so the task
		// does not spin forever.
		return e.finalizePermanent(ctx, task, domain.ExecutionLog{
			TaskID:           task.ID,
			AttemptNumber:    task.RetryCount + 1,
			Status:           domain.StatusProcessing,
			ExecutorInstance: e.InstanceID,
			StartedAt:        now,
		}, domain.PermanentFail(err.Error(), "NO_HANDLER"), true)
	}

	logRow, err := e.Logs.Open(ctx, domain.ExecutionLog{
		TaskID:           task.ID,
		AttemptNumber:    task.RetryCount + 1,
		Status:           domain.StatusProcessing,
		ExecutorInstance: e.InstanceID,
		StartedAt:        now,
		RequestPayload:   task.Payload,
	})
	if err != nil {
		return fmt.Errorf("op=executor.process open log: %w", err)
	}

	if err := handler.Validate(task); err != nil {
		result := domain.PermanentFail(err.Error(), "VALIDATION_ERROR")
		return e.finalizePermanent(ctx, task, logRow, result, false)
	}

	result := e.execute(ctx, handler, task)
	return e.finalize(ctx, handler, task, logRow, result)
}

// execute runs the handler with panic containment; a panicking handler
// yields a retryable failure carrying the stack.
func (e *Executor) execute(ctx domain.Context, h domain.Handler, t domain.Task) (result domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.Result{
				Success:      false,
				ErrorMessage: fmt.Sprintf("handler panic: %v", r),
				ErrorType:    "PANIC",
				StackTrace:   domain.TruncateStack(string(debug.Stack())),
				Retryable:    true,
			}
			slog.Error("handler panic recovered",
				slog.String("task_id", t.ID),
				slog.String("type", string(t.Type)),
				slog.Any("panic", r))
		}
	}()
	return h.Execute(ctx, t)
}

// finalize routes the result to the success, retry, exhaustion or
// dead-letter path and commits task+log atomically.
func (e *Executor) finalize(ctx domain.Context, h domain.Handler, t domain.Task, l domain.ExecutionLog, r domain.Result) error {
	completed := time.Now().UTC()
	elapsed := completed.Sub(l.StartedAt)

	if r.Success {
		t.Status = domain.StatusCompleted
		t.CompletedAt = &completed
		ms := elapsed.Milliseconds()
		t.ExecutionDurationMs = &ms
		t.ExecutionResult = r.ResponseData
		t.LastError = ""
		t.LastErrorStackTrace = ""
		t.LockedBy = nil
		t.LockedUntil = nil
		l.Close(domain.StatusCompleted, completed, true)
		l.ResponsePayload = r.ResponseData
		if err := e.Tasks.FinalizeAttempt(ctx, t, l); err != nil {
			return fmt.Errorf("op=executor.finalize success: %w", err)
		}
		observability.ObserveExecution(string(t.Type), "success", elapsed)
		slog.Info("task completed",
			slog.String("task_id", t.ID),
			slog.String("type", string(t.Type)),
			slog.Int64("duration_ms", elapsed.Milliseconds()))
		if t.CronExpression != "" {
			// Recurrence is not scheduled here; the creator owns the next run.
			slog.Info("recurring task completed, rescheduling is external",
				slog.String("task_id", t.ID),
				slog.String("cron_expression", t.CronExpression))
		}
		return nil
	}

	if !r.Retryable {
		return e.finalizePermanent(ctx, t, l, r, false)
	}

	// The ladder is indexed by attempts already made, so compute the delay
	// before the failed attempt is counted.
	delay := h.NextRetryDelay(t, e.DefaultRetryDelayHours)
	if r.CustomRetryDelay != nil {
		delay = *r.CustomRetryDelay
	}

	t.RetryCount++
	t.LastError = r.ErrorMessage
	t.LastErrorStackTrace = r.StackTrace
	l.ErrorMessage = r.ErrorMessage
	l.ErrorStackTrace = r.StackTrace
	l.ErrorType = r.ErrorType
	l.HTTPStatusCode = r.HTTPStatusCode
	observability.RecordFailure(string(t.Type), r.ErrorType)

	if t.RetryCount >= t.EffectiveMaxRetries(e.DefaultMaxRetries) {
		t.Status = domain.StatusMaxRetriesExceeded
		t.CompletedAt = &completed
		t.LockedBy = nil
		t.LockedUntil = nil
		l.Close(domain.StatusFailed, completed, false)
		if err := e.Tasks.FinalizeAttempt(ctx, t, l); err != nil {
			return fmt.Errorf("op=executor.finalize exhausted: %w", err)
		}
		observability.ObserveExecution(string(t.Type), "max_retries_exceeded", elapsed)
		observability.RecordMaxRetriesExceeded(string(t.Type))
		e.Alerter.MaxRetriesExceeded(ctx, t)
		slog.Warn("task exhausted retries",
			slog.String("task_id", t.ID),
			slog.String("type", string(t.Type)),
			slog.Int("retry_count", t.RetryCount),
			slog.String("error", r.ErrorMessage))
		return nil
	}

	t.Status = domain.StatusRetryPending
	t.ScheduledTime = completed.Add(delay)
	t.LockedBy = nil
	t.LockedUntil = nil
	l.Close(domain.StatusFailed, completed, false)
	if err := e.Tasks.FinalizeAttempt(ctx, t, l); err != nil {
		return fmt.Errorf("op=executor.finalize retry: %w", err)
	}
	observability.ObserveExecution(string(t.Type), "retry_scheduled", elapsed)
	observability.RecordRetry(string(t.Type))
	slog.Info("task retry scheduled",
		slog.String("task_id", t.ID),
		slog.String("type", string(t.Type)),
		slog.Int("retry_count", t.RetryCount),
		slog.Time("next_attempt", t.ScheduledTime),
		slog.String("error", r.ErrorMessage))
	return nil
}

// finalizePermanent dead-letters the task. High and critical priority tasks
// additionally page the on-call channel. openLog indicates the attempt row
// has not been opened yet and must be created before closing.
func (e *Executor) finalizePermanent(ctx domain.Context, t domain.Task, l domain.ExecutionLog, r domain.Result, openLog bool) error {
	if openLog {
		opened, err := e.Logs.Open(ctx, l)
		if err != nil {
			return fmt.Errorf("op=executor.dead_letter open log: %w", err)
		}
		l = opened
	}

	completed := time.Now().UTC()
	elapsed := completed.Sub(l.StartedAt)
	t.Status = domain.StatusDeadLetter
	t.CompletedAt = &completed
	t.RetryCount++
	t.LastError = r.ErrorMessage
	t.LastErrorStackTrace = r.StackTrace
	t.LockedBy = nil
	t.LockedUntil = nil
	l.ErrorMessage = r.ErrorMessage
	l.ErrorStackTrace = r.StackTrace
	l.ErrorType = r.ErrorType
	l.HTTPStatusCode = r.HTTPStatusCode
	l.Close(domain.StatusFailed, completed, false)
	if err := e.Tasks.FinalizeAttempt(ctx, t, l); err != nil {
		return fmt.Errorf("op=executor.dead_letter: %w", err)
	}
	observability.ObserveExecution(string(t.Type), "dead_letter", elapsed)
	observability.RecordFailure(string(t.Type), r.ErrorType)
	if t.Priority >= domain.PriorityHigh {
		e.Alerter.TaskFailure(ctx, t, r.ErrorMessage)
	}
	slog.Error("task dead-lettered",
		slog.String("task_id", t.ID),
		slog.String("type", string(t.Type)),
		slog.String("error_type", r.ErrorType),
		slog.String("error", r.ErrorMessage))
	return nil
}

// expire marks a past-deadline task EXPIRED without running the handler.
func (e *Executor) expire(ctx domain.Context, t domain.Task, now time.Time) error {
	t.Status = domain.StatusExpired
	t.CompletedAt = &now
	t.LastError = "task expired before execution"
	t.LockedBy = nil
	t.LockedUntil = nil
	if _, err := e.Tasks.SaveTransition(ctx, t); err != nil {
		return fmt.Errorf("op=executor.expire: %w", err)
	}
	observability.ObserveExecution(string(t.Type), "expired", 0)
	slog.Info("task expired",
		slog.String("task_id", t.ID),
		slog.String("type", string(t.Type)))
	return nil
}

// ProcessNow runs one immediate attempt for a task by id; it backs the
// management API's retry-now command.
func (e *Executor) ProcessNow(ctx domain.Context, taskID string) error {
	t, err := e.Tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !t.Status.Executable() {
		return fmt.Errorf("task %s in status %s is not executable: %w", t.ID, t.Status, domain.ErrConflict)
	}
	return e.Process(ctx, t)
}
