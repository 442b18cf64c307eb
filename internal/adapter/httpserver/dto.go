package httpserver

import (
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
	"github.com/fairyhunter13/task-scheduler/internal/usecase"
)

// createTaskRequest is the JSON body for task creation.
type createTaskRequest struct {
	Type                 string         `json:"type" validate:"required"`
	Priority             string         `json:"priority" validate:"omitempty,oneof=LOW NORMAL HIGH CRITICAL"`
	ReferenceID          string         `json:"reference_id" validate:"required,max=100"`
	SecondaryReferenceID string         `json:"secondary_reference_id" validate:"omitempty,max=100"`
	Description          string         `json:"description" validate:"omitempty,max=500"`
	Payload              map[string]any `json:"payload"`
	Metadata             map[string]any `json:"metadata"`
	ScheduledTime        *time.Time     `json:"scheduled_time"`
	ExpiresAt            *time.Time     `json:"expires_at"`
	CronExpression       string         `json:"cron_expression" validate:"omitempty,max=100"`
	MaxRetries           *int           `json:"max_retries" validate:"omitempty,gte=0"`
	RetryDelayHours      *int           `json:"retry_delay_hours" validate:"omitempty,gte=1"`
	CreatedBy            string         `json:"created_by" validate:"omitempty,max=100"`
	PreventDuplicates    *bool          `json:"prevent_duplicates"`
}

func (r createTaskRequest) toInput() usecase.CreateInput {
	return usecase.CreateInput{
		Type:                 r.Type,
		Priority:             r.Priority,
		ReferenceID:          r.ReferenceID,
		SecondaryReferenceID: r.SecondaryReferenceID,
		Description:          r.Description,
		Payload:              r.Payload,
		Metadata:             r.Metadata,
		ScheduledTime:        r.ScheduledTime,
		ExpiresAt:            r.ExpiresAt,
		CronExpression:       r.CronExpression,
		MaxRetries:           r.MaxRetries,
		RetryDelayHours:      r.RetryDelayHours,
		CreatedBy:            r.CreatedBy,
		PreventDuplicates:    r.PreventDuplicates,
	}
}

// cancelRequest optionally carries a reason.
type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// retryRequest optionally defers the requeued attempt.
type retryRequest struct {
	ScheduledTime *time.Time `json:"scheduled_time"`
}

// taskResponse is the wire shape of a task.
type taskResponse struct {
	ID                   string         `json:"id"`
	Type                 string         `json:"type"`
	Status               string         `json:"status"`
	Priority             string         `json:"priority"`
	ReferenceID          string         `json:"reference_id"`
	SecondaryReferenceID string         `json:"secondary_reference_id,omitempty"`
	Description          string         `json:"description,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	ScheduledTime        time.Time      `json:"scheduled_time"`
	ExpiresAt            *time.Time     `json:"expires_at,omitempty"`
	CronExpression       string         `json:"cron_expression,omitempty"`
	RetryCount           int            `json:"retry_count"`
	MaxRetries           *int           `json:"max_retries,omitempty"`
	RetryDelayHours      *int           `json:"retry_delay_hours,omitempty"`
	LastError            string         `json:"last_error,omitempty"`
	ExecutionResult      map[string]any `json:"execution_result,omitempty"`
	LockedBy             *string        `json:"locked_by,omitempty"`
	LockedUntil          *time.Time     `json:"locked_until,omitempty"`
	Version              int64          `json:"version"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CreatedBy            string         `json:"created_by,omitempty"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	ExecutionDurationMs  *int64         `json:"execution_duration_ms,omitempty"`
}

func toTaskResponse(t domain.Task) taskResponse {
	return taskResponse{
		ID:                   t.ID,
		Type:                 string(t.Type),
		Status:               string(t.Status),
		Priority:             t.Priority.String(),
		ReferenceID:          t.ReferenceID,
		SecondaryReferenceID: t.SecondaryReferenceID,
		Description:          t.Description,
		Payload:              t.Payload,
		Metadata:             t.Metadata,
		ScheduledTime:        t.ScheduledTime,
		ExpiresAt:            t.ExpiresAt,
		CronExpression:       t.CronExpression,
		RetryCount:           t.RetryCount,
		MaxRetries:           t.MaxRetries,
		RetryDelayHours:      t.RetryDelayHours,
		LastError:            t.LastError,
		ExecutionResult:      t.ExecutionResult,
		LockedBy:             t.LockedBy,
		LockedUntil:          t.LockedUntil,
		Version:              t.Version,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		CreatedBy:            t.CreatedBy,
		StartedAt:            t.StartedAt,
		CompletedAt:          t.CompletedAt,
		ExecutionDurationMs:  t.ExecutionDurationMs,
	}
}

func toTaskResponses(tasks []domain.Task) []taskResponse {
	out := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResponse(t)
	}
	return out
}

// executionLogResponse is the wire shape of one attempt.
type executionLogResponse struct {
	ID               int64          `json:"id"`
	AttemptNumber    int            `json:"attempt_number"`
	Status           string         `json:"status"`
	ExecutorInstance string         `json:"executor_instance"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	DurationMs       *int64         `json:"duration_ms,omitempty"`
	Success          bool           `json:"success"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ErrorType        string         `json:"error_type,omitempty"`
	HTTPStatusCode   *int           `json:"http_status_code,omitempty"`
	ResponsePayload  map[string]any `json:"response_payload,omitempty"`
}

func toLogResponses(logs []domain.ExecutionLog) []executionLogResponse {
	out := make([]executionLogResponse, len(logs))
	for i, l := range logs {
		out[i] = executionLogResponse{
			ID:               l.ID,
			AttemptNumber:    l.AttemptNumber,
			Status:           string(l.Status),
			ExecutorInstance: l.ExecutorInstance,
			StartedAt:        l.StartedAt,
			CompletedAt:      l.CompletedAt,
			DurationMs:       l.DurationMs,
			Success:          l.Success,
			ErrorMessage:     l.ErrorMessage,
			ErrorType:        l.ErrorType,
			HTTPStatusCode:   l.HTTPStatusCode,
			ResponsePayload:  l.ResponsePayload,
		}
	}
	return out
}
