package store

import (
	"context"
	"sync"
	"time"

	"github.com/tarsy-labs/kopsy/pkg/models"
)

// MemoryStore is an in-process EventStore used by unit tests for packages
// that depend on C1 but shouldn't need a live Postgres (pkg/stream,
// pkg/orchestrator, pkg/agentrt). It honors the same idempotent-append and
// terminal-status contract as PostgresStore.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryStore) CreateTask(ctx context.Context, taskID string, fields models.CreateTaskFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; ok {
		return ErrTaskConflict
	}

	now := time.Now().UTC()
	s.tasks[taskID] = &models.Task{
		TaskID:          taskID,
		Status:          models.TaskStatusProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
		Prompt:          fields.Prompt,
		ResourceContext: fields.ResourceContext,
		LogContext:      fields.LogContext,
		Events:          []models.Event{},
		SubTasks:        []models.SubTask{},
	}
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, taskID string, event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskMissing
	}
	for _, existing := range task.Events {
		if existing.StepIndex == event.StepIndex {
			return ErrDuplicateStep
		}
	}
	task.Events = append(task.Events, event)
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, taskID string, patch models.TaskPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskMissing
	}

	settingFirstTerminal := patch.Status != nil && patch.Status.IsTerminal()
	if task.Status.IsTerminal() && !settingFirstTerminal {
		return ErrTaskTerminal
	}

	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Summary != nil {
		task.Summary = *patch.Summary
	}
	if patch.Remediation != nil {
		task.Remediation = *patch.Remediation
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Tags != nil {
		task.Tags = patch.Tags
	}
	if patch.Resolved != nil {
		task.Resolved = *patch.Resolved
	}
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AddSubtask(ctx context.Context, taskID string, subtask models.SubTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskMissing
	}
	task.SubTasks = append(task.SubTasks, subtask)
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ReadEventsSince(ctx context.Context, taskID string, afterStepIndex int) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskMissing
	}
	var out []models.Event
	for _, ev := range task.Events {
		if ev.StepIndex > afterStepIndex {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListStaleProcessingTasks(ctx context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for id, task := range s.tasks {
		if task.Status == models.TaskStatusProcessing && task.UpdatedAt.Before(before) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) ReadTask(ctx context.Context, taskID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskMissing
	}
	cp := *task
	cp.Events = append([]models.Event(nil), task.Events...)
	cp.SubTasks = append([]models.SubTask(nil), task.SubTasks...)
	return &cp, nil
}
