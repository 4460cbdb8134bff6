package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/orchestrator"
	"github.com/tarsy-labs/kopsy/pkg/store"
	"github.com/tarsy-labs/kopsy/pkg/stream"
)

func TestRunOrphanSweep_RecoversStaleTask(t *testing.T) {
	s := store.NewMemoryStore()
	mux := stream.New(s)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, "stale-task", models.CreateTaskFields{Prompt: "why is the pod crashing"}))
	_, unsubscribe := mux.Subscribe("stale-task")
	defer unsubscribe()

	// Backdate the task past any plausible threshold by waiting isn't
	// viable in a unit test, so call the sweep with a threshold of 0 —
	// every processing task is immediately "stale".
	sweepCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	go orchestrator.RunOrphanSweep(sweepCtx, s, mux, 20*time.Millisecond, 0)

	require.Eventually(t, func() bool {
		task, err := s.ReadTask(ctx, "stale-task")
		return err == nil && task.Status == models.TaskStatusFailed
	}, 500*time.Millisecond, 10*time.Millisecond)

	task, err := s.ReadTask(ctx, "stale-task")
	require.NoError(t, err)
	require.NotEmpty(t, task.Events)

	var kinds []models.EventKind
	for _, ev := range task.Events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, models.EventKindError)
	assert.Equal(t, models.EventKindDone, kinds[len(kinds)-1])
}

func TestRunOrphanSweep_LeavesHealthyTasksAlone(t *testing.T) {
	s := store.NewMemoryStore()
	mux := stream.New(s)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, "healthy-task", models.CreateTaskFields{Prompt: "is the deployment ready"}))

	sweepCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	orchestrator.RunOrphanSweep(sweepCtx, s, mux, 10*time.Millisecond, time.Hour)

	task, err := s.ReadTask(ctx, "healthy-task")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, task.Status)
}
