package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/task-scheduler/internal/config"
	"github.com/fairyhunter13/task-scheduler/internal/domain"
	"github.com/fairyhunter13/task-scheduler/internal/usecase"
)

type storeStub struct {
	mu     sync.Mutex
	tasks  map[string]domain.Task
	nextID int
}

func newStoreStub(tasks ...domain.Task) *storeStub {
	s := &storeStub{tasks: map[string]domain.Task{}}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *storeStub) get(id string) domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

func (s *storeStub) Create(_ domain.Context, t domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = fmt.Sprintf("task-%d", s.nextID)
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	s.tasks[t.ID] = t
	return t, nil
}

func (s *storeStub) Get(_ domain.Context, id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *storeStub) FetchDue(domain.Context, time.Time, int) ([]domain.Task, error) { return nil, nil }

func (s *storeStub) AcquireLock(domain.Context, string, string, time.Time, time.Time, int64) (bool, error) {
	return false, nil
}

func (s *storeStub) FinalizeAttempt(domain.Context, domain.Task, domain.ExecutionLog) error {
	return nil
}

func (s *storeStub) SaveTransition(_ domain.Context, t domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur.Version != t.Version {
		return domain.Task{}, domain.ErrConflict
	}
	t.Version++
	s.tasks[t.ID] = t
	return t, nil
}

func (s *storeStub) FindStale(domain.Context, time.Time) ([]domain.Task, error) { return nil, nil }

func (s *storeStub) ResetStale(domain.Context, []string, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func (s *storeStub) FindActiveByReference(_ domain.Context, referenceID string, taskType domain.TaskType) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ReferenceID == referenceID && t.Type == taskType && !t.Status.Terminal() {
			return t, nil
		}
	}
	return domain.Task{}, domain.ErrNotFound
}

func (s *storeStub) ListByReference(_ domain.Context, referenceID string) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.ReferenceID == referenceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *storeStub) Search(_ domain.Context, f domain.SearchFilter) ([]domain.Task, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t)
	}
	return out, int64(len(out)), nil
}

func (s *storeStub) Stats(domain.Context) (domain.Statistics, error) {
	return domain.Statistics{StatusCounts: map[domain.TaskStatus]int64{}}, nil
}

func (s *storeStub) DeleteOldTerminal(domain.Context, time.Time) (int64, error) { return 0, nil }

type logsStub struct{ logs []domain.ExecutionLog }

func (l *logsStub) Open(_ domain.Context, e domain.ExecutionLog) (domain.ExecutionLog, error) {
	return e, nil
}

func (l *logsStub) ListByTask(domain.Context, string) ([]domain.ExecutionLog, error) {
	return l.logs, nil
}

func (l *logsStub) DeleteOld(domain.Context, time.Time) (int64, error) { return 0, nil }

type dispatcherStub struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *dispatcherStub) ProcessNow(_ domain.Context, taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, taskID)
	return d.err
}

func newService(store *storeStub, policy string) (*usecase.TaskService, *dispatcherStub) {
	d := &dispatcherStub{}
	cfg := config.Config{DuplicatePolicy: policy, DefaultMaxRetries: 5}
	return usecase.NewTaskService(store, &logsStub{}, d, cfg), d
}

func validInput() usecase.CreateInput {
	return usecase.CreateInput{
		Type:        string(domain.TypeOrderCancel),
		ReferenceID: "order-1",
		Payload:     map[string]any{"reason": "user request"},
	}
}

func TestCreate_Valid(t *testing.T) {
	svc, _ := newService(newStoreStub(), config.DuplicateReturnExisting)

	created, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, domain.PriorityNormal, created.Priority)
	assert.False(t, created.ScheduledTime.IsZero())
}

func TestCreate_FutureScheduleIsScheduled(t *testing.T) {
	svc, _ := newService(newStoreStub(), config.DuplicateReturnExisting)

	in := validInput()
	future := time.Now().UTC().Add(2 * time.Hour)
	in.ScheduledTime = &future

	created, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, created.Status)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newService(newStoreStub(), config.DuplicateReturnExisting)
	ctx := context.Background()

	in := validInput()
	in.Type = "NOPE"
	_, err := svc.Create(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	in = validInput()
	in.ReferenceID = ""
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	in = validInput()
	sched := time.Now().UTC().Add(time.Hour)
	expires := sched.Add(-time.Minute)
	in.ScheduledTime = &sched
	in.ExpiresAt = &expires
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	in = validInput()
	neg := -1
	in.MaxRetries = &neg
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCreate_DuplicateReturnExisting(t *testing.T) {
	svc, _ := newService(newStoreStub(), config.DuplicateReturnExisting)
	ctx := context.Background()

	first, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	second, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "duplicate create must return the existing active task")
}

func TestCreate_DuplicateConflict(t *testing.T) {
	svc, _ := newService(newStoreStub(), config.DuplicateConflict)
	ctx := context.Background()

	_, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = svc.Create(ctx, validInput())
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreate_DuplicateCheckOptOut(t *testing.T) {
	svc, _ := newService(newStoreStub(), config.DuplicateConflict)
	ctx := context.Background()

	first, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	// Opting out of duplicate prevention skips the active-task lookup
	// entirely, even under the conflict policy.
	off := false
	in := validInput()
	in.PreventDuplicates = &off
	second, err := svc.Create(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreate_DuplicateAllowedAfterTerminal(t *testing.T) {
	store := newStoreStub(domain.Task{
		ID:          "done-1",
		Type:        domain.TypeOrderCancel,
		Status:      domain.StatusCompleted,
		ReferenceID: "order-1",
	})
	svc, _ := newService(store, config.DuplicateConflict)

	_, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err, "terminal tasks must not block new creation")
}

func TestCreateBatch_MixedResults(t *testing.T) {
	svc, _ := newService(newStoreStub(), config.DuplicateReturnExisting)

	bad := validInput()
	bad.Type = "NOPE"
	out, err := svc.CreateBatch(context.Background(), []usecase.CreateInput{validInput(), bad})
	require.NoError(t, err)
	assert.Len(t, out.Created, 1)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, 1, out.Errors[0].Index)

	_, err = svc.CreateBatch(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCancel_Preconditions(t *testing.T) {
	store := newStoreStub(
		domain.Task{ID: "pending", Status: domain.StatusPending, ReferenceID: "r"},
		domain.Task{ID: "running", Status: domain.StatusProcessing, ReferenceID: "r"},
		domain.Task{ID: "done", Status: domain.StatusCompleted, ReferenceID: "r"},
	)
	svc, _ := newService(store, config.DuplicateReturnExisting)
	ctx := context.Background()

	cancelled, err := svc.Cancel(ctx, "pending", "operator request")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, "Cancelled: operator request", cancelled.LastError)

	_, err = svc.Cancel(ctx, "running", "")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Cancel(ctx, "done", "")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Cancel(ctx, "missing", "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelByReference(t *testing.T) {
	store := newStoreStub(
		domain.Task{ID: "a", Status: domain.StatusPending, ReferenceID: "order-9"},
		domain.Task{ID: "b", Status: domain.StatusRetryPending, ReferenceID: "order-9"},
		domain.Task{ID: "c", Status: domain.StatusProcessing, ReferenceID: "order-9"},
		domain.Task{ID: "d", Status: domain.StatusCompleted, ReferenceID: "order-9"},
		domain.Task{ID: "e", Status: domain.StatusPending, ReferenceID: "other"},
	)
	svc, _ := newService(store, config.DuplicateReturnExisting)

	n, err := svc.CancelByReference(context.Background(), "order-9", "order deleted")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.StatusCancelled, store.get("a").Status)
	assert.Equal(t, domain.StatusCancelled, store.get("b").Status)
	assert.Equal(t, domain.StatusProcessing, store.get("c").Status)
	assert.Equal(t, domain.StatusPending, store.get("e").Status)
}

func TestPauseResume(t *testing.T) {
	store := newStoreStub(domain.Task{
		ID:            "t1",
		Status:        domain.StatusPending,
		ReferenceID:   "r",
		ScheduledTime: time.Now().UTC().Add(-time.Hour),
	})
	svc, _ := newService(store, config.DuplicateReturnExisting)
	ctx := context.Background()

	paused, err := svc.Pause(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)

	// Pausing a paused task conflicts.
	_, err = svc.Pause(ctx, "t1")
	require.ErrorIs(t, err, domain.ErrConflict)

	resumed, err := svc.Resume(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, resumed.Status)
	assert.False(t, resumed.ScheduledTime.After(time.Now().UTC().Add(time.Second)),
		"past schedule must be pulled to now on resume")

	_, err = svc.Resume(ctx, "t1")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestResume_DiscardsFutureSchedule(t *testing.T) {
	future := time.Now().UTC().Add(3 * time.Hour)
	store := newStoreStub(domain.Task{
		ID:            "t1",
		Status:        domain.StatusPaused,
		ReferenceID:   "r",
		ScheduledTime: future,
	})
	svc, _ := newService(store, config.DuplicateReturnExisting)

	resumed, err := svc.Resume(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, resumed.Status)
	assert.True(t, resumed.ScheduledTime.Before(future),
		"resume makes the task eligible immediately")
}

func TestRetry_ResetsBudget(t *testing.T) {
	now := time.Now().UTC()
	store := newStoreStub(domain.Task{
		ID:          "t1",
		Status:      domain.StatusDeadLetter,
		ReferenceID: "r",
		RetryCount:  5,
		CompletedAt: &now,
	})
	svc, _ := newService(store, config.DuplicateReturnExisting)

	retried, err := svc.Retry(context.Background(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetryPending, retried.Status)
	assert.Equal(t, 0, retried.RetryCount)
	assert.Nil(t, retried.CompletedAt)

	// Non-failure statuses refuse.
	store.tasks["ok"] = domain.Task{ID: "ok", Status: domain.StatusCompleted}
	_, err = svc.Retry(context.Background(), "ok", nil)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestRetry_HonorsScheduledTimeAndPaused(t *testing.T) {
	store := newStoreStub(domain.Task{
		ID:          "t1",
		Status:      domain.StatusPaused,
		ReferenceID: "r",
		RetryCount:  2,
	})
	svc, _ := newService(store, config.DuplicateReturnExisting)

	at := time.Now().UTC().Add(45 * time.Minute)
	retried, err := svc.Retry(context.Background(), "t1", &at)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetryPending, retried.Status)
	assert.Equal(t, at.Unix(), retried.ScheduledTime.Unix())
	assert.Equal(t, 0, retried.RetryCount)
}

func TestRetryNow_Dispatches(t *testing.T) {
	store := newStoreStub(domain.Task{
		ID:          "t1",
		Status:      domain.StatusMaxRetriesExceeded,
		ReferenceID: "r",
		RetryCount:  5,
	})
	svc, dispatcher := newService(store, config.DuplicateReturnExisting)

	_, err := svc.RetryNow(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, dispatcher.ids)
}

func TestRetryNow_SurvivesDispatchFailure(t *testing.T) {
	store := newStoreStub(domain.Task{
		ID:          "t1",
		Status:      domain.StatusFailed,
		ReferenceID: "r",
	})
	svc, dispatcher := newService(store, config.DuplicateReturnExisting)
	dispatcher.err = domain.ErrInternal

	got, err := svc.RetryNow(context.Background(), "t1")
	require.NoError(t, err, "dispatch failure must not fail the command; the poller will pick it up")
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestSearch_ClampsPaging(t *testing.T) {
	svc, _ := newService(newStoreStub(), config.DuplicateReturnExisting)

	_, _, err := svc.Search(context.Background(), domain.SearchFilter{Limit: -5, Offset: -3})
	require.NoError(t, err)
}
