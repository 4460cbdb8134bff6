// Package models defines the data types shared across the orchestrator:
// tasks, events, sub-tasks and todos, plus their request/response DTOs.
package models

import "time"

// TaskStatus is the lifecycle status of an investigation.
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether the status is one that freezes the task.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Severity is an optional triage hint set once the investigation concludes.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ResourceBlob is a named YAML (or log) blob attached as investigation context.
type ResourceBlob struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Task is the top-level investigation record. task_id is immutable after
// creation; events is append-only and ordered by StepIndex.
type Task struct {
	TaskID          string         `json:"task_id"`
	Title           string         `json:"title"`
	Tags            []string       `json:"tags,omitempty"`
	Status          TaskStatus     `json:"status"`
	Severity        Severity       `json:"severity,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Events          []Event        `json:"events"`
	SubTasks        []SubTask      `json:"sub_tasks"`
	Summary         string         `json:"summary,omitempty"`
	Remediation     string         `json:"remediation,omitempty"`
	Prompt          string         `json:"prompt"`
	ResourceContext []ResourceBlob `json:"resource_context,omitempty"`
	LogContext      []ResourceBlob `json:"log_context,omitempty"`
	Resolved        bool           `json:"resolved"`
}

// TaskPatch patches the mutable fields of a Task. Nil fields are left
// untouched. Status is only applied if non-nil, and the store rejects the
// patch if the task is already terminal unless the patch itself sets the
// first terminal status (see store.EventStore.UpdateTask).
type TaskPatch struct {
	Status      *TaskStatus
	Summary     *string
	Remediation *string
	Title       *string
	Tags        []string
	Resolved    *bool
}

// CreateTaskFields are the fields supplied when a task is created.
type CreateTaskFields struct {
	Prompt          string
	ResourceContext []ResourceBlob
	LogContext      []ResourceBlob
}
