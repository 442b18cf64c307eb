package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
	"github.com/fairyhunter13/task-scheduler/internal/engine"
)

func staleTask(id string, lockAge time.Duration) domain.Task {
	holder := "dead-host:9"
	lockedUntil := time.Now().UTC().Add(-lockAge)
	return domain.Task{
		ID:            id,
		Type:          domain.TypeOrderCancel,
		Status:        domain.StatusProcessing,
		ReferenceID:   "ref-" + id,
		ScheduledTime: time.Now().UTC().Add(-2 * time.Hour),
		LockedBy:      &holder,
		LockedUntil:   &lockedUntil,
	}
}

func TestReaper_ResetsStaleTasks(t *testing.T) {
	tasks := newMemTaskRepo(
		staleTask("stale-1", 2*time.Hour),
		staleTask("stale-2", 90*time.Minute),
	)
	mutex := newMemMutex()
	alerter := &recordAlerter{}
	r := engine.NewReaper(tasks, mutex, alerter, testInstance, 5*time.Minute, time.Hour)

	require.NoError(t, r.Reap(context.Background()))

	for _, id := range []string{"stale-1", "stale-2"} {
		got := tasks.get(id)
		assert.Equal(t, domain.StatusRetryPending, got.Status, id)
		assert.Nil(t, got.LockedBy, id)
		assert.Equal(t, "Task execution timed out or instance crashed", got.LastError, id)
		assert.True(t, got.ScheduledTime.After(time.Now().UTC()), "reset task must be scheduled in the near future")
	}
	assert.Len(t, alerter.genericTitles, 1)
	assert.Equal(t, 1, mutex.releases)
}

func TestReaper_IgnoresLiveLocks(t *testing.T) {
	live := staleTask("live-1", 0)
	future := time.Now().UTC().Add(20 * time.Minute)
	live.LockedUntil = &future
	tasks := newMemTaskRepo(live)
	r := engine.NewReaper(tasks, newMemMutex(), &recordAlerter{}, testInstance, 5*time.Minute, time.Hour)

	require.NoError(t, r.Reap(context.Background()))
	assert.Equal(t, domain.StatusProcessing, tasks.get("live-1").Status)
}

func TestReaper_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	tasks := newMemTaskRepo(staleTask("stale-1", 2*time.Hour))
	mutex := newMemMutex()
	mutex.deny = true
	r := engine.NewReaper(tasks, mutex, &recordAlerter{}, testInstance, 5*time.Minute, time.Hour)

	require.NoError(t, r.Reap(context.Background()))
	assert.Equal(t, domain.StatusProcessing, tasks.get("stale-1").Status)
}

func TestReaper_SecondReapIsNoop(t *testing.T) {
	tasks := newMemTaskRepo(staleTask("stale-1", 2*time.Hour))
	alerter := &recordAlerter{}
	r := engine.NewReaper(tasks, newMemMutex(), alerter, testInstance, 5*time.Minute, time.Hour)

	require.NoError(t, r.Reap(context.Background()))
	require.NoError(t, r.Reap(context.Background()))

	assert.Equal(t, domain.StatusRetryPending, tasks.get("stale-1").Status)
	assert.Len(t, alerter.genericTitles, 1, "a reset task must not be reset or alerted twice")
}
