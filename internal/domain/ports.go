package domain

import "time"

// Handler executes one task type. Handlers are stateless; domain outcomes
// are encoded in the Result, never raised as errors.
type Handler interface {
	// Type returns the task type this handler serves.
	Type() TaskType
	// Validate checks the task before execution. A validation error is a
	// permanent failure.
	Validate(t Task) error
	// Execute performs the external effect and classifies the outcome.
	Execute(ctx Context, t Task) Result
	// NextRetryDelay computes the backoff before the next attempt when the
	// result carried no custom delay.
	NextRetryDelay(t Task, defaultDelayHours int) time.Duration
}

// SearchFilter narrows task searches; zero values mean "any".
type SearchFilter struct {
	Type        TaskType
	Status      TaskStatus
	ReferenceID string
	Offset      int
	Limit       int
}

// Statistics summarizes the task table for the management API.
type Statistics struct {
	StatusCounts    map[TaskStatus]int64
	TypeStatusCount map[TaskType]map[TaskStatus]int64
	PendingCount    int64
	ProcessingCount int64
	FailedCount     int64
	CompletedCount  int64
}

// TaskRepository persists tasks. FetchDue and AcquireLock together form the
// distributed acquisition protocol: FetchDue skip-locks a due batch and
// AcquireLock is a conditional update that wins or loses the per-task race.
type TaskRepository interface {
	Create(ctx Context, t Task) (Task, error)
	Get(ctx Context, id string) (Task, error)

	// FetchDue selects up to limit tasks that are executable, due, unlocked
	// (or lock-expired) and unexpired, ordered by priority desc then
	// scheduled time asc, skipping rows locked by concurrent fetchers.
	FetchDue(ctx Context, now time.Time, limit int) ([]Task, error)

	// AcquireLock conditionally locks a task for processing. It succeeds
	// only if the stored version matches and no live lock is held, setting
	// status PROCESSING, started_at and the lease, and bumping the version.
	AcquireLock(ctx Context, id, instanceID string, lockUntil, now time.Time, version int64) (bool, error)

	// FinalizeAttempt writes the mutated task row and closes the attempt's
	// execution log in a single transaction, guarded by the holder's lock
	// and version. The version is bumped on success.
	FinalizeAttempt(ctx Context, t Task, l ExecutionLog) error

	// SaveTransition applies an operator-initiated state change guarded by
	// the version counter, bumping it on success.
	SaveTransition(ctx Context, t Task) (Task, error)

	// FindStale returns PROCESSING tasks whose lock expired before threshold.
	FindStale(ctx Context, threshold time.Time) ([]Task, error)
	// ResetStale bulk-resets stale tasks to RETRY_PENDING with a synthetic
	// error and a near-future schedule, returning the number reset.
	ResetStale(ctx Context, ids []string, nextRetry, now time.Time) (int64, error)

	// FindActiveByReference returns the non-terminal task for a
	// (reference, type) pair, or ErrNotFound.
	FindActiveByReference(ctx Context, referenceID string, taskType TaskType) (Task, error)
	ListByReference(ctx Context, referenceID string) ([]Task, error)
	Search(ctx Context, f SearchFilter) ([]Task, int64, error)
	Stats(ctx Context) (Statistics, error)

	// DeleteOldTerminal removes terminal tasks completed before cutoff.
	DeleteOldTerminal(ctx Context, cutoff time.Time) (int64, error)
}

// ExecutionLogRepository persists attempt logs. Logs are append-only;
// closing an attempt happens through TaskRepository.FinalizeAttempt.
type ExecutionLogRepository interface {
	Open(ctx Context, l ExecutionLog) (ExecutionLog, error)
	ListByTask(ctx Context, taskID string) ([]ExecutionLog, error)
	DeleteOld(ctx Context, cutoff time.Time) (int64, error)
}

// MutexRepository is the cluster-wide binary semaphore backing the poller
// and reaper singleton guards.
type MutexRepository interface {
	// Acquire takes the named lease if free or expired; false means another
	// replica holds it.
	Acquire(ctx Context, name, holder string, lease time.Duration) (bool, error)
	Release(ctx Context, name, holder string) error
}

// Alerter notifies operators of terminal failures. Implementations must be
// fire-and-forget: delivery failures never affect task commits.
type Alerter interface {
	MaxRetriesExceeded(ctx Context, t Task)
	TaskFailure(ctx Context, t Task, errorMessage string)
	GenericError(ctx Context, title, message, details string)
}

// Dispatcher triggers an immediate execution cycle for one task; it backs
// the management API's retry-now command.
type Dispatcher interface {
	ProcessNow(ctx Context, taskID string) error
}
