package engine_test

import (
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// memTaskRepo is an in-memory TaskRepository that mimics the store's
// conditional-update semantics (version counter plus lock guard). When
// wired to a memLogRepo it also persists the closed attempt row inside
// FinalizeAttempt, matching the port's one-transaction contract.
type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
	logs  *memLogRepo

	fetchErr error
	nextID   int
}

func newMemTaskRepo(tasks ...domain.Task) *memTaskRepo {
	r := &memTaskRepo{tasks: map[string]domain.Task{}}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	return r
}

func (r *memTaskRepo) get(id string) domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id]
}

func (r *memTaskRepo) Create(_ domain.Context, t domain.Task) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" {
		r.nextID++
		t.ID = fmt.Sprintf("task-%d", r.nextID)
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	r.tasks[t.ID] = t
	return t, nil
}

func (r *memTaskRepo) Get(_ domain.Context, id string) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (r *memTaskRepo) FetchDue(_ domain.Context, now time.Time, limit int) ([]domain.Task, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, t := range r.tasks {
		if len(out) >= limit {
			break
		}
		if t.Status.Executable() && !t.ScheduledTime.After(now) && !t.Locked(now) && !t.Expired(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTaskRepo) AcquireLock(_ domain.Context, id, instanceID string, lockUntil, now time.Time, version int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Version != version || t.Locked(now) {
		return false, nil
	}
	t.LockedBy = &instanceID
	t.LockedUntil = &lockUntil
	t.Status = domain.StatusProcessing
	t.StartedAt = &now
	t.Version++
	r.tasks[id] = t
	return true, nil
}

func (r *memTaskRepo) FinalizeAttempt(_ domain.Context, t domain.Task, l domain.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[t.ID]
	if !ok || cur.Version != t.Version || cur.LockedBy == nil || *cur.LockedBy != l.ExecutorInstance {
		return domain.ErrConflict
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	r.tasks[t.ID] = t
	if r.logs != nil {
		r.logs.save(l)
	}
	return nil
}

func (r *memTaskRepo) SaveTransition(_ domain.Context, t domain.Task) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[t.ID]
	if !ok || cur.Version != t.Version {
		return domain.Task{}, domain.ErrConflict
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	r.tasks[t.ID] = t
	return t, nil
}

func (r *memTaskRepo) FindStale(_ domain.Context, threshold time.Time) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, t := range r.tasks {
		if t.Status == domain.StatusProcessing && t.LockedBy != nil &&
			t.LockedUntil != nil && t.LockedUntil.Before(threshold) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTaskRepo) ResetStale(_ domain.Context, ids []string, nextRetry, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		t, ok := r.tasks[id]
		if !ok || t.Status != domain.StatusProcessing {
			continue
		}
		t.LockedBy = nil
		t.LockedUntil = nil
		t.Status = domain.StatusRetryPending
		t.LastError = "Task execution timed out or instance crashed"
		t.ScheduledTime = nextRetry
		t.Version++
		r.tasks[id] = t
		n++
	}
	return n, nil
}

func (r *memTaskRepo) FindActiveByReference(_ domain.Context, referenceID string, taskType domain.TaskType) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.ReferenceID == referenceID && t.Type == taskType && !t.Status.Terminal() {
			return t, nil
		}
	}
	return domain.Task{}, domain.ErrNotFound
}

func (r *memTaskRepo) ListByReference(_ domain.Context, referenceID string) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, t := range r.tasks {
		if t.ReferenceID == referenceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTaskRepo) Search(_ domain.Context, f domain.SearchFilter) ([]domain.Task, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, t := range r.tasks {
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.ReferenceID != "" && t.ReferenceID != f.ReferenceID {
			continue
		}
		out = append(out, t)
	}
	return out, int64(len(out)), nil
}

func (r *memTaskRepo) Stats(_ domain.Context) (domain.Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := domain.Statistics{
		StatusCounts:    map[domain.TaskStatus]int64{},
		TypeStatusCount: map[domain.TaskType]map[domain.TaskStatus]int64{},
	}
	for _, t := range r.tasks {
		stats.StatusCounts[t.Status]++
	}
	return stats, nil
}

func (r *memTaskRepo) DeleteOldTerminal(_ domain.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tasks {
		if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			n++
		}
	}
	return n, nil
}

// memLogRepo records attempts in memory.
type memLogRepo struct {
	mu     sync.Mutex
	logs   []domain.ExecutionLog
	nextID int64
}

func (r *memLogRepo) Open(_ domain.Context, l domain.ExecutionLog) (domain.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	l.ID = r.nextID
	r.logs = append(r.logs, l)
	return l, nil
}

// save writes back a closed attempt row by id, appending if unknown.
func (r *memLogRepo) save(l domain.ExecutionLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.logs {
		if r.logs[i].ID == l.ID {
			r.logs[i] = l
			return
		}
	}
	r.logs = append(r.logs, l)
}

func (r *memLogRepo) ListByTask(_ domain.Context, taskID string) ([]domain.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutionLog
	for _, l := range r.logs {
		if l.TaskID == taskID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memLogRepo) DeleteOld(_ domain.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.logs[:0]
	var n int64
	for _, l := range r.logs {
		if l.StartedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	r.logs = kept
	return n, nil
}

func (r *memLogRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

// memMutex grants or denies leases.
type memMutex struct {
	mu       sync.Mutex
	deny     bool
	holders  map[string]string
	acquires int
	releases int
}

func newMemMutex() *memMutex { return &memMutex{holders: map[string]string{}} }

func (m *memMutex) Acquire(_ domain.Context, name, holder string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deny {
		return false, nil
	}
	m.acquires++
	m.holders[name] = holder
	return true, nil
}

func (m *memMutex) Release(_ domain.Context, name, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holders[name] == holder {
		delete(m.holders, name)
		m.releases++
	}
	return nil
}

// recordAlerter counts alert deliveries.
type recordAlerter struct {
	mu            sync.Mutex
	maxRetries    []string
	taskFailures  []string
	genericTitles []string
}

func (a *recordAlerter) MaxRetriesExceeded(_ domain.Context, t domain.Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxRetries = append(a.maxRetries, t.ID)
}

func (a *recordAlerter) TaskFailure(_ domain.Context, t domain.Task, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.taskFailures = append(a.taskFailures, t.ID)
}

func (a *recordAlerter) GenericError(_ domain.Context, title, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.genericTitles = append(a.genericTitles, title)
}

// stubHandler is a configurable handler for a type.
type stubHandler struct {
	taskType    domain.TaskType
	validateErr error
	result      domain.Result
	delay       time.Duration
	panics      bool

	mu          sync.Mutex
	calls       int
	delayCounts []int
}

func (h *stubHandler) Type() domain.TaskType { return h.taskType }

func (h *stubHandler) Validate(domain.Task) error { return h.validateErr }

func (h *stubHandler) Execute(_ domain.Context, _ domain.Task) domain.Result {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.panics {
		panic("boom")
	}
	return h.result
}

func (h *stubHandler) NextRetryDelay(t domain.Task, _ int) time.Duration {
	h.mu.Lock()
	h.delayCounts = append(h.delayCounts, t.RetryCount)
	h.mu.Unlock()
	if h.delay > 0 {
		return h.delay
	}
	return time.Hour
}

func (h *stubHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}
