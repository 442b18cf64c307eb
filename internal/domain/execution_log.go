package domain

import "time"

// ExecutionLog is an append-only record of one execution attempt.
// AttemptNumber is 1-based and equals RetryCount+1 at attempt start.
// Rows are opened when an attempt begins and closed exactly once.
type ExecutionLog struct {
	ID               int64
	TaskID           string
	AttemptNumber    int
	Status           TaskStatus
	ExecutorInstance string
	StartedAt        time.Time
	CompletedAt      *time.Time
	DurationMs       *int64
	Success          bool
	ErrorMessage     string
	ErrorStackTrace  string
	ErrorType        string
	HTTPStatusCode   *int
	RequestPayload   map[string]any
	ResponsePayload  map[string]any
}

// Close fills the terminal fields of the attempt.
func (l *ExecutionLog) Close(status TaskStatus, completedAt time.Time, success bool) {
	l.Status = status
	l.CompletedAt = &completedAt
	dur := completedAt.Sub(l.StartedAt).Milliseconds()
	l.DurationMs = &dur
	l.Success = success
}
