package models

import "time"

// TodoStatus is the lifecycle of a single board item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

// TodoPriority is an advisory ordering hint, not an ordering guarantee.
type TodoPriority string

const (
	PriorityLow    TodoPriority = "low"
	PriorityMedium TodoPriority = "medium"
	PriorityHigh   TodoPriority = "high"
)

// Todo is one entry on a task's investigation todo board. At most one Todo
// per task may carry status in_progress at any time (enforced by
// pkg/todo.Board, not by this type).
type Todo struct {
	ID         string       `json:"id"`
	Content    string       `json:"content"`
	Status     TodoStatus   `json:"status"`
	Priority   TodoPriority `json:"priority,omitempty"`
	AssignedTo string       `json:"assigned_to,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
