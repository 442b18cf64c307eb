// Package domain defines the task scheduler's core entities and ports.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUpstream        = errors.New("upstream failure")
	ErrInternal        = errors.New("internal error")
)

// TaskType determines which handler processes a task.
type TaskType string

const (
	TypeOrderCancel          TaskType = "ORDER_CANCEL"
	TypePaymentRefund        TaskType = "PAYMENT_REFUND"
	TypePaymentPartialRefund TaskType = "PAYMENT_PARTIAL_REFUND"
	TypePaymentVoid          TaskType = "PAYMENT_VOID"
	TypeWebhookNotification  TaskType = "WEBHOOK_NOTIFICATION"
	TypeCustom               TaskType = "CUSTOM"
)

// TaskTypes lists all known task types.
func TaskTypes() []TaskType {
	return []TaskType{
		TypeOrderCancel,
		TypePaymentRefund,
		TypePaymentPartialRefund,
		TypePaymentVoid,
		TypeWebhookNotification,
		TypeCustom,
	}
}

// ParseTaskType validates and converts a string to a TaskType.
func ParseTaskType(s string) (TaskType, error) {
	for _, t := range TaskTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrInvalidArgument
}

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	StatusPending            TaskStatus = "PENDING"
	StatusScheduled          TaskStatus = "SCHEDULED"
	StatusProcessing         TaskStatus = "PROCESSING"
	StatusCompleted          TaskStatus = "COMPLETED"
	StatusFailed             TaskStatus = "FAILED"
	StatusRetryPending       TaskStatus = "RETRY_PENDING"
	StatusMaxRetriesExceeded TaskStatus = "MAX_RETRIES_EXCEEDED"
	StatusCancelled          TaskStatus = "CANCELLED"
	StatusPaused             TaskStatus = "PAUSED"
	StatusExpired            TaskStatus = "EXPIRED"
	StatusDeadLetter         TaskStatus = "DEAD_LETTER"
)

// Executable reports whether a task in this status is eligible to be
// picked up by the poller.
func (s TaskStatus) Executable() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusFailed, StatusRetryPending:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusMaxRetriesExceeded, StatusDeadLetter:
		return true
	}
	return false
}

// Failure reports whether the status represents a failed execution that an
// operator may manually retry.
func (s TaskStatus) Failure() bool {
	switch s {
	case StatusFailed, StatusMaxRetriesExceeded, StatusDeadLetter:
		return true
	}
	return false
}

// ParseTaskStatus validates and converts a string to a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusPending, StatusScheduled, StatusProcessing, StatusCompleted,
		StatusFailed, StatusRetryPending, StatusMaxRetriesExceeded,
		StatusCancelled, StatusPaused, StatusExpired, StatusDeadLetter:
		return TaskStatus(s), nil
	}
	return "", ErrInvalidArgument
}

// TaskPriority orders execution; higher values run first.
type TaskPriority int

const (
	PriorityLow      TaskPriority = 1
	PriorityNormal   TaskPriority = 5
	PriorityHigh     TaskPriority = 8
	PriorityCritical TaskPriority = 10
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	}
	return "NORMAL"
}

// ParseTaskPriority maps a name to a priority, defaulting to NORMAL.
func ParseTaskPriority(s string) TaskPriority {
	switch s {
	case "LOW":
		return PriorityLow
	case "HIGH":
		return PriorityHigh
	case "CRITICAL":
		return PriorityCritical
	}
	return PriorityNormal
}

// Task is the persisted scheduled-task record.
//
// Concurrency control combines a row lock (LockedBy/LockedUntil) with an
// optimistic Version counter; both are checked on every executor write.
type Task struct {
	ID                   string
	Type                 TaskType
	Status               TaskStatus
	Priority             TaskPriority
	ReferenceID          string
	SecondaryReferenceID string
	Description          string
	Payload              map[string]any
	Metadata             map[string]any
	ScheduledTime        time.Time
	ExpiresAt            *time.Time
	RetryCount           int
	MaxRetries           *int
	RetryDelayHours      *int
	CronExpression       string
	LastError            string
	LastErrorStackTrace  string
	ExecutionResult      map[string]any
	LockedBy             *string
	LockedUntil          *time.Time
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CreatedBy            string
	StartedAt            *time.Time
	CompletedAt          *time.Time
	ExecutionDurationMs  *int64
}

// EffectiveMaxRetries returns the per-task ceiling or the default.
func (t Task) EffectiveMaxRetries(def int) int {
	if t.MaxRetries != nil {
		return *t.MaxRetries
	}
	return def
}

// EffectiveRetryDelayHours returns the per-task backoff base or the default.
func (t Task) EffectiveRetryDelayHours(def int) int {
	if t.RetryDelayHours != nil {
		return *t.RetryDelayHours
	}
	return def
}

// Locked reports whether a live lock is held on the task.
func (t Task) Locked(now time.Time) bool {
	return t.LockedBy != nil && t.LockedUntil != nil && t.LockedUntil.After(now)
}

// Expired reports whether the task's deadline has passed.
func (t Task) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// PayloadString extracts a string payload field with a fallback.
func (t Task) PayloadString(key, def string) string {
	if t.Payload == nil {
		return def
	}
	if v, ok := t.Payload[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// PayloadFloat extracts a numeric payload field; ok is false when absent or
// not a number.
func (t Task) PayloadFloat(key string) (float64, bool) {
	if t.Payload == nil {
		return 0, false
	}
	switch v := t.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// MetadataInt extracts an integer metadata field; ok is false when absent.
// JSON round-trips store numbers as float64, so both forms are accepted.
func (t Task) MetadataInt(key string) (int, bool) {
	if t.Metadata == nil {
		return 0, false
	}
	switch v := t.Metadata[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Context is an alias so ports stay decoupled from call sites.
type Context = context.Context
