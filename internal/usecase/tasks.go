// Package usecase implements the management operations exposed over the
// HTTP API: task creation with duplicate prevention, lifecycle commands and
// queries.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/task-scheduler/internal/config"
	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// TaskService coordinates repositories and the dispatcher for the
// management API.
type TaskService struct {
	Tasks      domain.TaskRepository
	Logs       domain.ExecutionLogRepository
	Dispatcher domain.Dispatcher
	Cfg        config.Config
}

// NewTaskService constructs a TaskService.
func NewTaskService(tasks domain.TaskRepository, logs domain.ExecutionLogRepository, dispatcher domain.Dispatcher, cfg config.Config) *TaskService {
	return &TaskService{Tasks: tasks, Logs: logs, Dispatcher: dispatcher, Cfg: cfg}
}

// CreateInput carries the fields accepted at task creation.
type CreateInput struct {
	Type                 string
	Priority             string
	ReferenceID          string
	SecondaryReferenceID string
	Description          string
	Payload              map[string]any
	Metadata             map[string]any
	ScheduledTime        *time.Time
	ExpiresAt            *time.Time
	CronExpression       string
	MaxRetries           *int
	RetryDelayHours      *int
	CreatedBy            string
	// PreventDuplicates gates the active-task lookup; nil means true.
	PreventDuplicates *bool
}

// Create validates the input, enforces duplicate prevention per the
// configured policy and persists a new task.
func (s *TaskService) Create(ctx domain.Context, in CreateInput) (domain.Task, error) {
	tracer := otel.Tracer("usecase.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Create")
	span.SetAttributes(attribute.String("task.type", in.Type))
	defer span.End()

	t, err := s.buildTask(in)
	if err != nil {
		return domain.Task{}, err
	}

	if in.PreventDuplicates == nil || *in.PreventDuplicates {
		existing, err := s.Tasks.FindActiveByReference(ctx, t.ReferenceID, t.Type)
		switch {
		case err == nil:
			if s.Cfg.DuplicatePolicy == config.DuplicateConflict {
				return domain.Task{}, fmt.Errorf("active %s task already exists for reference %s: %w",
					t.Type, t.ReferenceID, domain.ErrConflict)
			}
			slog.Info("returning existing active task",
				slog.String("task_id", existing.ID),
				slog.String("reference_id", t.ReferenceID))
			return existing, nil
		case errors.Is(err, domain.ErrNotFound):
		default:
			return domain.Task{}, err
		}
	}

	created, err := s.Tasks.Create(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	slog.Info("task created",
		slog.String("task_id", created.ID),
		slog.String("type", string(created.Type)),
		slog.String("reference_id", created.ReferenceID),
		slog.Time("scheduled_time", created.ScheduledTime))
	return created, nil
}

// CreateBatch creates several tasks; the batch is best-effort, each entry
// succeeds or fails independently.
type BatchResult struct {
	Created []domain.Task
	Errors  []BatchError
}

// BatchError records one failed entry by its batch index.
type BatchError struct {
	Index int
	Err   error
}

// CreateBatch applies Create to every input.
func (s *TaskService) CreateBatch(ctx domain.Context, ins []CreateInput) (BatchResult, error) {
	tracer := otel.Tracer("usecase.tasks")
	ctx, span := tracer.Start(ctx, "tasks.CreateBatch")
	defer span.End()

	if len(ins) == 0 {
		return BatchResult{}, fmt.Errorf("batch is empty: %w", domain.ErrInvalidArgument)
	}
	var out BatchResult
	for i, in := range ins {
		created, err := s.Create(ctx, in)
		if err != nil {
			out.Errors = append(out.Errors, BatchError{Index: i, Err: err})
			continue
		}
		out.Created = append(out.Created, created)
	}
	return out, nil
}

func (s *TaskService) buildTask(in CreateInput) (domain.Task, error) {
	taskType, err := domain.ParseTaskType(in.Type)
	if err != nil {
		return domain.Task{}, fmt.Errorf("unknown task type %q: %w", in.Type, domain.ErrInvalidArgument)
	}
	if in.ReferenceID == "" {
		return domain.Task{}, fmt.Errorf("reference_id is required: %w", domain.ErrInvalidArgument)
	}
	priority := domain.PriorityNormal
	if in.Priority != "" {
		priority = domain.ParseTaskPriority(in.Priority)
	}
	now := time.Now().UTC()
	scheduled := now
	if in.ScheduledTime != nil {
		scheduled = in.ScheduledTime.UTC()
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(scheduled) {
		return domain.Task{}, fmt.Errorf("expires_at must be after scheduled_time: %w", domain.ErrInvalidArgument)
	}
	if in.MaxRetries != nil && *in.MaxRetries < 0 {
		return domain.Task{}, fmt.Errorf("max_retries must be >= 0: %w", domain.ErrInvalidArgument)
	}
	if in.RetryDelayHours != nil && *in.RetryDelayHours < 1 {
		return domain.Task{}, fmt.Errorf("retry_delay_hours must be >= 1: %w", domain.ErrInvalidArgument)
	}

	status := domain.StatusPending
	if scheduled.After(now) {
		status = domain.StatusScheduled
	}
	return domain.Task{
		Type:                 taskType,
		Status:               status,
		Priority:             priority,
		ReferenceID:          in.ReferenceID,
		SecondaryReferenceID: in.SecondaryReferenceID,
		Description:          in.Description,
		Payload:              in.Payload,
		Metadata:             in.Metadata,
		ScheduledTime:        scheduled,
		ExpiresAt:            in.ExpiresAt,
		CronExpression:       in.CronExpression,
		MaxRetries:           in.MaxRetries,
		RetryDelayHours:      in.RetryDelayHours,
		CreatedBy:            in.CreatedBy,
	}, nil
}

// Get returns a task with its attempt history.
func (s *TaskService) Get(ctx domain.Context, id string) (domain.Task, []domain.ExecutionLog, error) {
	tracer := otel.Tracer("usecase.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()

	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return domain.Task{}, nil, err
	}
	logs, err := s.Logs.ListByTask(ctx, id)
	if err != nil {
		return domain.Task{}, nil, err
	}
	return t, logs, nil
}

// ListByReference returns all tasks attached to a business reference.
func (s *TaskService) ListByReference(ctx domain.Context, referenceID string) ([]domain.Task, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("reference_id is required: %w", domain.ErrInvalidArgument)
	}
	return s.Tasks.ListByReference(ctx, referenceID)
}

// NormalizeSearchFilter clamps paging to the supported window; callers that
// echo the applied limit and offset should normalize first.
func NormalizeSearchFilter(f domain.SearchFilter) domain.SearchFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Search returns a filtered page of tasks with the total match count.
func (s *TaskService) Search(ctx domain.Context, f domain.SearchFilter) ([]domain.Task, int64, error) {
	return s.Tasks.Search(ctx, NormalizeSearchFilter(f))
}

// Statistics returns aggregate task counts.
func (s *TaskService) Statistics(ctx domain.Context) (domain.Statistics, error) {
	return s.Tasks.Stats(ctx)
}

// Cancel cancels a task that has not started executing. PROCESSING tasks
// cannot be cancelled; the in-flight attempt owns the row.
func (s *TaskService) Cancel(ctx domain.Context, id, reason string) (domain.Task, error) {
	tracer := otel.Tracer("usecase.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Cancel")
	defer span.End()

	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status.Terminal() {
		return domain.Task{}, fmt.Errorf("task %s is already %s: %w", id, t.Status, domain.ErrConflict)
	}
	if t.Status == domain.StatusProcessing {
		return domain.Task{}, fmt.Errorf("task %s is executing and cannot be cancelled: %w", id, domain.ErrConflict)
	}
	now := time.Now().UTC()
	t.Status = domain.StatusCancelled
	t.CompletedAt = &now
	t.LastError = "Cancelled"
	if reason != "" {
		t.LastError = "Cancelled: " + reason
	}
	saved, err := s.Tasks.SaveTransition(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	slog.Info("task cancelled", slog.String("task_id", id), slog.String("reason", reason))
	return saved, nil
}

// CancelByReference cancels every cancellable task attached to a reference
// and returns how many were cancelled.
func (s *TaskService) CancelByReference(ctx domain.Context, referenceID, reason string) (int, error) {
	tracer := otel.Tracer("usecase.tasks")
	ctx, span := tracer.Start(ctx, "tasks.CancelByReference")
	defer span.End()

	tasks, err := s.ListByReference(ctx, referenceID)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, t := range tasks {
		if t.Status.Terminal() || t.Status == domain.StatusProcessing {
			continue
		}
		if _, err := s.Cancel(ctx, t.ID, reason); err != nil {
			// Lost races are expected under concurrent execution.
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// Pause removes a waiting task from the poller's reach until resumed.
func (s *TaskService) Pause(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("usecase.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Pause")
	defer span.End()

	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !t.Status.Executable() {
		return domain.Task{}, fmt.Errorf("task %s in status %s cannot be paused: %w", id, t.Status, domain.ErrConflict)
	}
	t.Status = domain.StatusPaused
	saved, err := s.Tasks.SaveTransition(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	slog.Info("task paused", slog.String("task_id", id))
	return saved, nil
}

// Resume puts a paused task back in the poller's reach immediately; the
// original schedule does not survive a pause.
func (s *TaskService) Resume(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("usecase.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Resume")
	defer span.End()

	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusPaused {
		return domain.Task{}, fmt.Errorf("task %s in status %s is not paused: %w", id, t.Status, domain.ErrConflict)
	}
	t.Status = domain.StatusPending
	t.ScheduledTime = time.Now().UTC()
	saved, err := s.Tasks.SaveTransition(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	slog.Info("task resumed", slog.String("task_id", id))
	return saved, nil
}

// Retry puts a failed or paused task back in the retry queue with a fresh
// attempt budget, optionally at a caller-chosen time.
func (s *TaskService) Retry(ctx domain.Context, id string, scheduledTime *time.Time) (domain.Task, error) {
	tracer := otel.Tracer("usecase.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Retry")
	defer span.End()

	t, err := s.retryable(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	scheduled := time.Now().UTC()
	if scheduledTime != nil {
		scheduled = scheduledTime.UTC()
	}
	t.Status = domain.StatusRetryPending
	t.ScheduledTime = scheduled
	saved, err := s.Tasks.SaveTransition(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	slog.Info("task queued for retry",
		slog.String("task_id", id),
		slog.Time("scheduled_time", scheduled))
	return saved, nil
}

// retryable fetches the task and resets it for a fresh operator-initiated
// attempt, leaving the target status to the caller.
func (s *TaskService) retryable(ctx domain.Context, id string) (domain.Task, error) {
	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !t.Status.Failure() && t.Status != domain.StatusPaused {
		return domain.Task{}, fmt.Errorf("task %s in status %s cannot be retried: %w", id, t.Status, domain.ErrConflict)
	}
	t.RetryCount = 0
	t.CompletedAt = nil
	t.ExecutionDurationMs = nil
	t.LockedBy = nil
	t.LockedUntil = nil
	return t, nil
}

// RetryNow requeues like Retry and then runs one immediate execution
// attempt on this replica, bypassing the next poll cycle.
func (s *TaskService) RetryNow(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("usecase.tasks")
	ctx, span := tracer.Start(ctx, "tasks.RetryNow")
	defer span.End()

	t, err := s.retryable(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.StatusPending
	t.ScheduledTime = time.Now().UTC()
	saved, err := s.Tasks.SaveTransition(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.Dispatcher.ProcessNow(ctx, saved.ID); err != nil {
		// The task is already queued; the next poll picks it up.
		slog.Warn("immediate dispatch failed, task remains queued",
			slog.String("task_id", id),
			slog.Any("error", err))
	}
	refreshed, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return saved, nil
	}
	return refreshed, nil
}
