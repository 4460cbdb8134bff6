package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/store"
)

func TestMemoryStore_AppendEventDuplicateStepIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, "t1", models.CreateTaskFields{Prompt: "p"}))

	ev := models.Event{StepIndex: 0, Kind: models.EventKindTraceStarted, Timestamp: time.Now()}
	require.NoError(t, s.AppendEvent(ctx, "t1", ev))
	require.ErrorIs(t, s.AppendEvent(ctx, "t1", ev), store.ErrDuplicateStep)

	task, err := s.ReadTask(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, task.Events, 1)
}

func TestMemoryStore_UpdateTaskTerminalLocksFurtherPatches(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, "t2", models.CreateTaskFields{Prompt: "p"}))

	cancelled := models.TaskStatusCancelled
	require.NoError(t, s.UpdateTask(ctx, "t2", models.TaskPatch{Status: &cancelled}))

	completed := models.TaskStatusCompleted
	err := s.UpdateTask(ctx, "t2", models.TaskPatch{Status: &completed})
	require.ErrorIs(t, err, store.ErrTaskTerminal)
}

func TestMemoryStore_ReadTaskNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.ReadTask(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrTaskMissing)
}

func TestMemoryStore_AddSubtaskAppends(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, "t3", models.CreateTaskFields{Prompt: "p"}))

	require.NoError(t, s.AddSubtask(ctx, "t3", models.SubTask{ID: "sub-1", Subject: "log_analysis"}))
	task, err := s.ReadTask(ctx, "t3")
	require.NoError(t, err)
	require.Len(t, task.SubTasks, 1)
	require.Equal(t, "sub-1", task.SubTasks[0].ID)
}
