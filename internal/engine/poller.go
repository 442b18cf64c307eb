package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/task-scheduler/internal/adapter/observability"
	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// pollLockName is the cluster lease guarding the fetch phase so only one
// replica selects a batch at a time.
const pollLockName = "taskPollingJob"

// Poller periodically claims due tasks and dispatches them to the executor
// under a bounded concurrency budget.
type Poller struct {
	Tasks    domain.TaskRepository
	Mutex    domain.MutexRepository
	Executor *Executor
	Alerter  domain.Alerter

	InstanceID   string
	PollInterval time.Duration
	BatchSize    int
	PoolSize     int64

	running atomic.Bool
	sem     *semaphore.Weighted
}

// NewPoller constructs a poller.
func NewPoller(
	tasks domain.TaskRepository,
	mutex domain.MutexRepository,
	executor *Executor,
	alerter domain.Alerter,
	instanceID string,
	pollInterval time.Duration,
	batchSize, poolSize int,
) *Poller {
	return &Poller{
		Tasks:        tasks,
		Mutex:        mutex,
		Executor:     executor,
		Alerter:      alerter,
		InstanceID:   instanceID,
		PollInterval: pollInterval,
		BatchSize:    batchSize,
		PoolSize:     int64(poolSize),
		sem:          semaphore.NewWeighted(int64(poolSize)),
	}
}

// Run polls until the context is cancelled. The final batch is drained
// before returning so graceful shutdown never abandons in-flight tasks.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	slog.Info("poller started",
		slog.String("instance", p.InstanceID),
		slog.Duration("interval", p.PollInterval),
		slog.Int("batch_size", p.BatchSize))

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopping")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one cycle. The single-flight guard means a slow batch simply
// absorbs the next tick instead of stacking cycles; the cluster lease keeps
// concurrent replicas from selecting overlapping batches.
func (p *Poller) Poll(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		slog.Debug("poll cycle still running, skipping tick")
		return
	}
	defer p.running.Store(false)

	lease := p.PollInterval * 2
	if lease < 5*time.Minute {
		lease = 5 * time.Minute
	}
	held, err := p.Mutex.Acquire(ctx, pollLockName, p.InstanceID, lease)
	if err != nil {
		slog.Error("poll lease acquire failed", slog.Any("error", err))
		return
	}
	if !held {
		slog.Debug("poll lease held elsewhere, skipping cycle")
		return
	}
	defer func() {
		if err := p.Mutex.Release(ctx, pollLockName, p.InstanceID); err != nil {
			slog.Warn("poll lease release failed", slog.Any("error", err))
		}
	}()

	now := time.Now().UTC()
	batch, err := p.Tasks.FetchDue(ctx, now, p.BatchSize)
	if err != nil {
		slog.Error("fetch due tasks failed", slog.Any("error", err))
		p.Alerter.GenericError(ctx, "Task polling failed", "Fetching due tasks failed", err.Error())
		return
	}

	observability.PollCyclesTotal.Inc()
	observability.PollBatchSize.Observe(float64(len(batch)))
	if len(batch) == 0 {
		return
	}
	slog.Info("dispatching task batch", slog.Int("count", len(batch)))

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, t := range batch {
		task := t
		if err := p.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			observability.TasksInFlight.Inc()
			defer observability.TasksInFlight.Dec()
			if err := p.Executor.Process(gctx, task); err != nil {
				slog.Error("task processing failed",
					slog.String("task_id", task.ID),
					slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
