package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tarsy-labs/kopsy/pkg/database"
	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/store"
)

// setupTestStore starts a disposable Postgres container, applies embedded
// migrations through pkg/database.Open, and returns a ready PostgresStore.
func setupTestStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("kopsy_test"),
		tcpostgres.WithUsername("kopsy"),
		tcpostgres.WithPassword("kopsy"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := database.Open(ctx, database.Config{
		Host:     host,
		Port:     port.Int(),
		User:     "kopsy",
		Password: "kopsy",
		Database: "kopsy_test",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return store.NewPostgresStore(db)
}

func TestPostgresStore_CreateTaskAndReadBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.CreateTask(ctx, "task-1", models.CreateTaskFields{Prompt: "why is pod x crashlooping?"})
	require.NoError(t, err)

	task, err := s.ReadTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusProcessing, task.Status)
	require.Equal(t, "why is pod x crashlooping?", task.Prompt)
	require.Empty(t, task.Events)
}

func TestPostgresStore_CreateTaskConflict(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, "task-dup", models.CreateTaskFields{Prompt: "p"}))
	err := s.CreateTask(ctx, "task-dup", models.CreateTaskFields{Prompt: "p"})
	require.ErrorIs(t, err, store.ErrTaskConflict)
}

func TestPostgresStore_AppendEventIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, "task-2", models.CreateTaskFields{Prompt: "p"}))

	ev := models.Event{StepIndex: 0, Kind: models.EventKindTraceStarted, Timestamp: time.Now().UTC(), Payload: models.TraceStartedPayload{TraceID: "t-2"}}
	require.NoError(t, s.AppendEvent(ctx, "task-2", ev))

	err := s.AppendEvent(ctx, "task-2", ev)
	require.ErrorIs(t, err, store.ErrDuplicateStep)

	events, err := s.ReadEventsSince(ctx, "task-2", -1)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPostgresStore_AppendEventTaskMissing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.AppendEvent(ctx, "does-not-exist", models.Event{StepIndex: 0, Kind: models.EventKindDone})
	require.ErrorIs(t, err, store.ErrTaskMissing)
}

func TestPostgresStore_UpdateTaskRejectsPatchAfterTerminal(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, "task-3", models.CreateTaskFields{Prompt: "p"}))

	completed := models.TaskStatusCompleted
	require.NoError(t, s.UpdateTask(ctx, "task-3", models.TaskPatch{Status: &completed}))

	failed := models.TaskStatusFailed
	err := s.UpdateTask(ctx, "task-3", models.TaskPatch{Status: &failed})
	require.ErrorIs(t, err, store.ErrTaskTerminal)
}

func TestPostgresStore_ReadEventsSinceOrdersByStepIndex(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, "task-4", models.CreateTaskFields{Prompt: "p"}))

	for i := 2; i >= 0; i-- {
		ev := models.Event{StepIndex: i, Kind: models.EventKindTextDelta, Timestamp: time.Now().UTC(), Payload: models.TextDeltaPayload{Text: "x"}}
		require.NoError(t, s.AppendEvent(ctx, "task-4", ev))
	}

	events, err := s.ReadEventsSince(ctx, "task-4", -1)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		require.Equal(t, i, ev.StepIndex)
	}
}
