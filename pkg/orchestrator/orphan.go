package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/store"
	"github.com/tarsy-labs/kopsy/pkg/stream"
)

// RunOrphanSweep periodically scans for tasks stuck in `processing` status
// past threshold — investigations whose driving process died (crash,
// redeploy) without ever reaching a terminal status — and marks each one
// `failed`, emitting an `error` then `done` event so any reconnecting SSE
// client sees a clean terminal transition rather than a stream that never
// ends. It blocks until ctx is cancelled; callers run it in its own
// goroutine.
func RunOrphanSweep(ctx context.Context, st store.EventStore, emit stream.Emitter, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, st, emit, threshold)
		}
	}
}

func sweepOnce(ctx context.Context, st store.EventStore, emit stream.Emitter, threshold time.Duration) {
	staleIDs, err := st.ListStaleProcessingTasks(ctx, time.Now().Add(-threshold))
	if err != nil {
		slog.Error("orphan sweep: failed to list stale tasks", "error", err)
		return
	}
	if len(staleIDs) == 0 {
		return
	}

	slog.Warn("orphan sweep: recovering stale tasks", "count", len(staleIDs))
	for _, taskID := range staleIDs {
		if err := recoverOrphan(ctx, st, emit, taskID, threshold); err != nil {
			slog.Error("orphan sweep: failed to recover task", "task_id", taskID, "error", err)
		}
	}
}

func recoverOrphan(ctx context.Context, st store.EventStore, emit stream.Emitter, taskID string, threshold time.Duration) error {
	message := fmt.Sprintf("no progress recorded for over %s; this investigation's process likely crashed or restarted", threshold)

	if _, err := emit.Emit(ctx, taskID, models.EventKindError, models.ErrorPayload{
		ErrorKind: models.ErrorKindOrphaned, Message: message,
	}); err != nil {
		return fmt.Errorf("emit error: %w", err)
	}

	failedStatus := models.TaskStatusFailed
	if err := st.UpdateTask(ctx, taskID, models.TaskPatch{Status: &failedStatus}); err != nil {
		return fmt.Errorf("patch status: %w", err)
	}

	if _, err := emit.Emit(ctx, taskID, models.EventKindDone, nil); err != nil {
		return fmt.Errorf("emit done: %w", err)
	}

	slog.Warn("orphan recovered", "task_id", taskID)
	return nil
}
