package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// CleanupService enforces data retention: terminal tasks and execution logs
// older than the retention window are deleted on a fixed interval.
type CleanupService struct {
	Tasks         domain.TaskRepository
	Logs          domain.ExecutionLogRepository
	RetentionDays int
}

// NewCleanupService creates a cleanup service.
func NewCleanupService(tasks domain.TaskRepository, logs domain.ExecutionLogRepository, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Tasks: tasks, Logs: logs, RetentionDays: retentionDays}
}

// CleanupOldData removes data older than the retention period. Logs go
// first so a failure between the two deletes never orphans log rows.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	deletedLogs, err := s.Logs.DeleteOld(ctx, cutoff)
	if err != nil {
		return err
	}
	deletedTasks, err := s.Tasks.DeleteOldTerminal(ctx, cutoff)
	if err != nil {
		return err
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_tasks", deletedTasks),
		slog.Int64("deleted_logs", deletedLogs),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic runs cleanup on a ticker until the context is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
