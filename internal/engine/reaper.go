package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/adapter/observability"
	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// reapLockName is the cluster lease guarding the reap cycle.
const reapLockName = "staleTaskCleanup"

// reapRescheduleDelay pushes reset tasks slightly into the future so the
// next poll cycle, not this one, picks them up.
const reapRescheduleDelay = 60 * time.Second

// Reaper frees tasks stuck in PROCESSING after their lock expired, which
// happens when the owning replica crashed mid-execution. Reset tasks go
// back through the normal retry path.
type Reaper struct {
	Tasks   domain.TaskRepository
	Mutex   domain.MutexRepository
	Alerter domain.Alerter

	InstanceID    string
	CheckInterval time.Duration
	Threshold     time.Duration
}

// NewReaper constructs a reaper.
func NewReaper(
	tasks domain.TaskRepository,
	mutex domain.MutexRepository,
	alerter domain.Alerter,
	instanceID string,
	checkInterval, threshold time.Duration,
) *Reaper {
	return &Reaper{
		Tasks:         tasks,
		Mutex:         mutex,
		Alerter:       alerter,
		InstanceID:    instanceID,
		CheckInterval: checkInterval,
		Threshold:     threshold,
	}
}

// Run reaps on a ticker until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.CheckInterval)
	defer ticker.Stop()

	slog.Info("stale task reaper started",
		slog.Duration("interval", r.CheckInterval),
		slog.Duration("threshold", r.Threshold))

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopping")
			return
		case <-ticker.C:
			if err := r.Reap(ctx); err != nil {
				slog.Error("stale task reap failed", slog.Any("error", err))
			}
		}
	}
}

// Reap runs one cycle: find tasks whose lock expired longer than the
// threshold ago and reset them for retry. A second reap over the same ids
// is a no-op because the reset is guarded on PROCESSING status.
func (r *Reaper) Reap(ctx context.Context) error {
	lease := r.CheckInterval * 2
	if lease < 5*time.Minute {
		lease = 5 * time.Minute
	}
	held, err := r.Mutex.Acquire(ctx, reapLockName, r.InstanceID, lease)
	if err != nil {
		return fmt.Errorf("op=reaper.reap lease: %w", err)
	}
	if !held {
		slog.Debug("reap lease held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		if err := r.Mutex.Release(ctx, reapLockName, r.InstanceID); err != nil {
			slog.Warn("reap lease release failed", slog.Any("error", err))
		}
	}()

	now := time.Now().UTC()
	stale, err := r.Tasks.FindStale(ctx, now.Add(-r.Threshold))
	if err != nil {
		return fmt.Errorf("op=reaper.reap find: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, len(stale))
	for i, t := range stale {
		ids[i] = t.ID
		slog.Warn("resetting stale task",
			slog.String("task_id", t.ID),
			slog.String("type", string(t.Type)),
			slog.String("locked_by", derefString(t.LockedBy)))
	}

	reset, err := r.Tasks.ResetStale(ctx, ids, now.Add(reapRescheduleDelay), now)
	if err != nil {
		return fmt.Errorf("op=reaper.reap reset: %w", err)
	}
	observability.StaleTasksResetTotal.Add(float64(reset))
	slog.Info("stale tasks reset", slog.Int64("count", reset))
	if reset > 0 {
		r.Alerter.GenericError(ctx, "Stale tasks recovered",
			fmt.Sprintf("%d task(s) were stuck in PROCESSING and have been reset for retry", reset), "")
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
