package postgres_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/task-scheduler/internal/adapter/repo/postgres"
)

func TestCleanupService_DeletesLogsBeforeTasks(t *testing.T) {
	var order []string
	db := &fakeDB{execFn: func(sql string, args []any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "task_execution_logs") {
			order = append(order, "logs")
			return tag(t, "DELETE 8"), nil
		}
		order = append(order, "tasks")
		return tag(t, "DELETE 3"), nil
	}}
	svc := postgres.NewCleanupService(postgres.NewTaskRepo(db), postgres.NewLogRepo(db), 30)

	require.NoError(t, svc.CleanupOldData(context.Background()))
	assert.Equal(t, []string{"logs", "tasks"}, order)
}

func TestCleanupService_StopsOnLogDeleteFailure(t *testing.T) {
	db := &fakeDB{execFn: func(sql string, args []any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "task_execution_logs") {
			return pgconn.CommandTag{}, errors.New("deadlock detected")
		}
		return tag(t, "DELETE 3"), nil
	}}
	svc := postgres.NewCleanupService(postgres.NewTaskRepo(db), postgres.NewLogRepo(db), 30)

	err := svc.CleanupOldData(context.Background())
	require.Error(t, err)
	assert.Len(t, db.execs, 1, "task delete must not run after a log delete failure")
}

func TestNewCleanupService_RetentionFloor(t *testing.T) {
	svc := postgres.NewCleanupService(nil, nil, 0)
	assert.Equal(t, 90, svc.RetentionDays)

	svc = postgres.NewCleanupService(nil, nil, 14)
	assert.Equal(t, 14, svc.RetentionDays)
}
