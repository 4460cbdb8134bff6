package models

import "time"

// EventKind is the closed set of timeline event kinds (spec.md §3).
type EventKind string

const (
	EventKindTraceStarted          EventKind = "trace_started"
	EventKindAgentStarted          EventKind = "agent_started"
	EventKindAgentCompleted        EventKind = "agent_completed"
	EventKindTextDelta              EventKind = "text_delta"
	EventKindToolCallRequested      EventKind = "tool_call_requested"
	EventKindToolCallApproved       EventKind = "tool_call_approved"
	EventKindToolCallRejected       EventKind = "tool_call_rejected"
	EventKindToolCallOutput         EventKind = "tool_call_output"
	EventKindTodoUpdated            EventKind = "todo_updated"
	EventKindSubtaskAdded           EventKind = "subtask_added"
	EventKindInvestigationCompleted EventKind = "investigation_completed"
	EventKindError                  EventKind = "error"
	EventKindDone                    EventKind = "done"
)

// ErrorKind is the closed error taxonomy (spec.md §7).
type ErrorKind string

const (
	ErrorKindInvalidRequest    ErrorKind = "invalid_request"
	ErrorKindToolNotFound      ErrorKind = "tool_not_found"
	ErrorKindToolTimeout       ErrorKind = "tool_timeout"
	ErrorKindToolFailed        ErrorKind = "tool_failed"
	ErrorKindApprovalRejected  ErrorKind = "approval_rejected"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindLLMError          ErrorKind = "llm_error"
	ErrorKindStoreError        ErrorKind = "store_error"
	ErrorKindMaxTurnsExceeded  ErrorKind = "max_turns_exceeded"
	// ErrorKindOrphaned marks a task the orphan sweep recovered: it sat in
	// `processing` past the configured threshold with no progress, almost
	// always because the process driving it crashed or was redeployed.
	ErrorKindOrphaned ErrorKind = "orphaned"
)

// Event is a single point on a task's investigation timeline.
type Event struct {
	StepIndex int       `json:"step_index"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// --- Typed payloads. Marshaled/unmarshaled as Event.Payload. ---

type TraceStartedPayload struct {
	TraceID string `json:"trace_id"`
}

type AgentStartedPayload struct {
	AgentName string `json:"agent_name"`
}

type AgentCompletedPayload struct {
	AgentName  string `json:"agent_name"`
	DurationMs int64  `json:"duration_ms"`
}

// TextRole discriminates assistant prose from model "thinking" output.
type TextRole string

const (
	RoleAssistant TextRole = "assistant"
	RoleReasoning TextRole = "reasoning"
)

type TextDeltaPayload struct {
	Text string   `json:"text"`
	Role TextRole `json:"role"`
}

type ToolCallRequestedPayload struct {
	CallID            string         `json:"call_id"`
	ToolName          string         `json:"tool_name"`
	Arguments         map[string]any `json:"arguments"`
	Title             string         `json:"title"`
	ApprovalRequired  bool           `json:"approval_required"`
}

type ToolCallApprovedPayload struct {
	CallID   string `json:"call_id"`
	UserNote string `json:"user_note,omitempty"`
}

type ToolCallRejectedPayload struct {
	CallID   string `json:"call_id"`
	UserNote string `json:"user_note,omitempty"`
}

type ToolCallOutputPayload struct {
	CallID     string `json:"call_id"`
	Output     any    `json:"output"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	Component  string `json:"component,omitempty"`
}

// TodoUpdatedPayload is a full replace-not-merge snapshot of the todo list.
type TodoUpdatedPayload struct {
	Todos []Todo `json:"todos"`
}

type SubtaskAddedPayload struct {
	SubTask SubTask `json:"sub_task"`
}

type InvestigationCompletedPayload struct {
	Summary     string   `json:"summary"`
	Remediation string   `json:"remediation"`
	Title       string   `json:"title,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type ErrorPayload struct {
	ErrorKind ErrorKind `json:"error_kind"`
	Message   string    `json:"message"`
	CallID    string    `json:"call_id,omitempty"`
}
