//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/platform/postgres"
	"github.com/phrazzld/quill/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:16-alpine",
		tcpostgres.WithDatabase("quill"),
		tcpostgres.WithUsername("quill"),
		tcpostgres.WithPassword("quill"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	l, _ := logger.GetTestLogger(t)
	db, err := postgres.Open(ctx, dsn, l)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, postgres.Migrate(ctx, db, "up", l))
	return db
}

func TestIntegration_TaskStore(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	s := postgres.NewPostgresTaskStore(db)

	tk := task.NewMockTask(task.TaskTypeGeneration, []byte(`{"id":"r1"}`))
	require.NoError(t, s.SaveTask(ctx, tk))

	pending, err := s.GetPendingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, tk.ID(), pending[0].ID)

	require.NoError(t, s.UpdateTaskStatus(ctx, tk.ID(), task.TaskStatusProcessing, ""))
	processing, err := s.GetProcessingTasks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, processing, 1)

	stuck, err := s.GetProcessingTasks(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	require.NoError(t, s.SaveTaskResult(ctx, tk.ID(), []byte(`{"metrics":{"success":true}}`)))
	require.NoError(t, s.UpdateTaskStatus(ctx, tk.ID(), task.TaskStatusCompleted, ""))

	rec, err := s.GetTask(ctx, tk.ID())
	require.NoError(t, err)
	assert.Equal(t, task.TaskStatusCompleted, rec.Status)
	assert.JSONEq(t, `{"metrics":{"success":true}}`, string(rec.Result))

	_, err = s.GetTask(ctx, uuid.New())
	assert.ErrorIs(t, err, task.ErrTaskNotFound)

	// The status check constraint rejects unknown states.
	err = s.UpdateTaskStatus(ctx, tk.ID(), task.TaskStatus("exploded"), "")
	assert.Error(t, err)
}

func TestIntegration_MetricsSink(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	sink := postgres.NewMetricsSink(db)

	now := time.Now().UTC()
	require.NoError(t, sink.RecordGeneration(ctx, generation.Metrics{
		RequestID: "r1", ContentType: generation.ContentTypeSummary, GeneratorID: "template",
		Start: now, End: now.Add(5 * time.Millisecond), DurationMs: 5, Success: true,
	}))
	require.NoError(t, sink.RecordCacheMiss(ctx, "quill:content:k", generation.ContentTypeSummary))
	require.NoError(t, sink.RecordValidation(ctx, "r1", "template", generation.ValidationResult{IsValid: true, Score: 1}))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations`).Scan(&count))
	assert.Equal(t, 1, count)

	removed, err := sink.Prune(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = sink.Prune(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}

func TestIntegration_MigrateDownAndUp(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	l, _ := logger.GetTestLogger(t)

	require.NoError(t, postgres.Migrate(ctx, db, "version", l))
	require.NoError(t, postgres.Migrate(ctx, db, "reset", l))

	_, err := db.ExecContext(ctx, `SELECT 1 FROM tasks`)
	assert.Error(t, err)

	require.NoError(t, postgres.Migrate(ctx, db, "up", l))
	assert.Error(t, postgres.Migrate(ctx, db, "sideways", l))
}
