// Package store implements C1, the Event Store: an append-only, per-task
// persistent log of typed events with idempotent insert by step index.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tarsy-labs/kopsy/pkg/models"
)

// Sentinel errors returned by EventStore methods. Callers check them with
// errors.Is; ErrDuplicateStep is success-equivalent for append_event per
// spec.md §4.1 and must not be treated as a failure by the caller.
var (
	ErrTaskMissing    = errors.New("store: task not found")
	ErrTaskConflict   = errors.New("store: task already exists")
	ErrDuplicateStep  = errors.New("store: step index already recorded")
	ErrTaskTerminal   = errors.New("store: task status is terminal and cannot be patched")
)

// EventStore is the durable contract C1 exposes to the rest of the system.
// Implementations must serialize writes per task_id (row lock or
// equivalent) so concurrent append_event calls for the same step_index
// resolve deterministically: exactly one commits, the other observes
// ErrDuplicateStep.
type EventStore interface {
	// CreateTask persists a fresh Task in `processing` status. Returns
	// ErrTaskConflict if task_id already exists.
	CreateTask(ctx context.Context, taskID string, fields models.CreateTaskFields) error

	// AppendEvent appends an event at event.StepIndex. Returns
	// ErrTaskMissing if the task doesn't exist, or ErrDuplicateStep if an
	// event already occupies that step index (idempotent replay — the
	// caller must treat this as success).
	AppendEvent(ctx context.Context, taskID string, event models.Event) error

	// UpdateTask applies patch to status/summary/remediation/title/tags.
	// Returns ErrTaskMissing if absent, ErrTaskTerminal if the task is
	// already in a terminal status and the patch does not itself set the
	// first terminal status.
	UpdateTask(ctx context.Context, taskID string, patch models.TaskPatch) error

	// AddSubtask appends a SubTask to the task's sub_tasks list.
	AddSubtask(ctx context.Context, taskID string, subtask models.SubTask) error

	// ReadEventsSince returns events with step_index > afterStepIndex, in
	// order, for replay.
	ReadEventsSince(ctx context.Context, taskID string, afterStepIndex int) ([]models.Event, error)

	// ReadTask returns the full Task. Returns ErrTaskMissing if absent.
	ReadTask(ctx context.Context, taskID string) (*models.Task, error)

	// ListStaleProcessingTasks returns the task_ids of every task still in
	// `processing` status whose UpdatedAt is older than before — candidates
	// for orphan recovery when the process that was driving them has died
	// without ever reaching a terminal status.
	ListStaleProcessingTasks(ctx context.Context, before time.Time) ([]string, error)
}
