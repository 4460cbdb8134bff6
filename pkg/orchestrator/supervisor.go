// Package orchestrator implements C6, the Supervisor Orchestrator: the
// top-level LLM loop that plans an investigation, dispatches specialist
// agents as ordinary tool calls, and synthesizes the final report. It is
// "the hard center" — everything else in this module exists to let one
// Supervisor.Run call proceed safely.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tarsy-labs/kopsy/pkg/abort"
	"github.com/tarsy-labs/kopsy/pkg/agentrt"
	"github.com/tarsy-labs/kopsy/pkg/approval"
	"github.com/tarsy-labs/kopsy/pkg/llm"
	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/store"
	"github.com/tarsy-labs/kopsy/pkg/stream"
	"github.com/tarsy-labs/kopsy/pkg/summarizer"
	"github.com/tarsy-labs/kopsy/pkg/todo"
)

const supervisorAgentName = "supervisor"

const supervisorInstructions = `You are the supervisor of a Kubernetes operations investigation. Plan your approach with write_todos before diving in, delegate focused questions to the log_analysis, resource_discovery, and metrics_analysis tools rather than investigating everything yourself, and keep the todo board current as you learn. When you have enough evidence, produce your final answer as two markdown sections, in this exact order and with these exact headers:

## Summary
A few sentences describing what happened and why.

## Remediation
Concrete steps to fix or mitigate the issue. If no action is needed, say so explicitly.`

// SpecialistSpec describes one specialist sub-agent exposed to the
// supervisor as an ordinary tool call (spec.md §4.6 step 3 — "sub-agents
// as tools", not an SDK handoff).
type SpecialistSpec struct {
	// ToolName is the name the supervisor calls, e.g. "log_analysis".
	ToolName string
	// AgentName is recorded on this specialist's agent_started/
	// agent_completed events.
	AgentName    string
	Description  string
	Instructions string
	// ToolNames is the subset of the registry this specialist may call.
	ToolNames []string
	Model     string
	MaxTurns  int
}

// Supervisor is the process-wide C6 instance.
type Supervisor struct {
	store      store.EventStore
	emit       stream.Emitter
	runtime    *agentrt.Runtime
	broker     *approval.Broker
	signals    *abort.Registry
	summarizer *summarizer.Summarizer
	board      *todo.Board

	model    string
	maxTurns int
}

// New builds a Supervisor. The Tool Registry itself is wired separately
// (see RegisterSpecialists and RegisterDirectTools in this package) —
// Supervisor only needs the shared C5 Runtime that both its own loop and
// every specialist run through.
func New(
	st store.EventStore,
	emit stream.Emitter,
	runtime *agentrt.Runtime,
	broker *approval.Broker,
	signals *abort.Registry,
	summ *summarizer.Summarizer,
	board *todo.Board,
	model string,
	maxTurns int,
) *Supervisor {
	return &Supervisor{
		store:      st,
		emit:       emit,
		runtime:    runtime,
		broker:     broker,
		signals:    signals,
		summarizer: summ,
		board:      board,
		model:      model,
		maxTurns:   maxTurns,
	}
}

// Prepare allocates task_id/trace_id and persists the fresh Task
// (spec.md §4.6 step 1, minus the trace_started emission). It is split
// from Run so the SSE gateway can subscribe to the task's event stream
// before any event is emitted — the subscribe-before-spawn pattern
// spec.md §8 requires for POST /investigate — rather than racing the
// first events against the subscriber's registration.
func (s *Supervisor) Prepare(ctx context.Context, req models.InvestigateRequest) (taskID, traceID string, err error) {
	taskID = uuid.NewString()
	traceID = uuid.NewString()

	if err := s.store.CreateTask(ctx, taskID, models.CreateTaskFields{
		Prompt:          req.Prompt,
		ResourceContext: req.ResourceContext,
		LogContext:      req.LogContext,
	}); err != nil {
		return taskID, traceID, fmt.Errorf("create task: %w", err)
	}

	s.signals.Create(traceID)
	return taskID, traceID, nil
}

// Run drives the investigation allocated by Prepare to a terminal state:
// emits trace_started, runs the metadata pre-pass, drives the supervisor
// loop through C5, parses its final answer, patches the Task, and always
// emits a final `done` event — recovering from any unhandled panic in the
// supervisor loop (spec.md §4.6 step 6) rather than letting it escape.
// Callers (the SSE gateway) typically invoke this in its own goroutine,
// having already subscribed to the task's event stream.
func (s *Supervisor) Run(ctx context.Context, taskID, traceID string, req models.InvestigateRequest) {
	defer s.signals.Remove(traceID)
	defer s.broker.Forget(traceID)
	defer s.board.Forget(traceID)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("supervisor panic", "task_id", taskID, "trace_id", traceID, "panic", r)
			s.fail(ctx, taskID, models.ErrorKindLLMError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if _, err := s.emit.Emit(ctx, taskID, models.EventKindTraceStarted, models.TraceStartedPayload{TraceID: traceID}); err != nil {
		slog.Error("failed to emit trace_started", "task_id", taskID, "error", err)
		s.fail(ctx, taskID, models.ErrorKindStoreError, err.Error())
		return
	}

	if meta, err := s.summarizer.PrePass(ctx, req.Prompt); err != nil {
		slog.Warn("metadata pre-pass failed, continuing without a working title", "task_id", taskID, "error", err)
	} else if err := s.store.UpdateTask(ctx, taskID, models.TaskPatch{Title: &meta.Title, Tags: meta.Tags}); err != nil {
		slog.Warn("failed to patch pre-pass metadata", "task_id", taskID, "error", err)
	}

	model := req.Model
	if model == "" {
		model = s.model
	}

	result, err := s.runtime.Run(ctx, taskID, traceID, agentrt.Config{
		AgentName:     supervisorAgentName,
		Instructions:  supervisorInstructions,
		InputMessages: buildInputMessages(req),
		Model:         model,
		MaxTurns:      s.maxTurns,
	})
	if err != nil {
		if err == agentrt.ErrCancelled {
			s.cancel(ctx, taskID)
			return
		}
		s.fail(ctx, taskID, models.ErrorKindLLMError, err.Error())
		return
	}

	summary, remediation := parseReport(result.FinalText)
	if result.TurnsExhausted && summary == "" {
		// The supervisor never produced a parseable report before running
		// out of turns. Resolved Open Question (spec.md §9): this is a
		// completed investigation with a truncation note, not a failure.
		summary = "Investigation ended before a final report was produced (turn budget exhausted). " + result.FinalText
	}

	title, tags := "", []string(nil)
	if meta, err := s.summarizer.PostPass(ctx, req.Prompt, summary); err != nil {
		slog.Warn("metadata post-pass failed, keeping pre-pass title", "task_id", taskID, "error", err)
	} else {
		title, tags = meta.Title, meta.Tags
	}

	status := models.TaskStatusCompleted
	patch := models.TaskPatch{Status: &status, Summary: &summary, Remediation: &remediation}
	if title != "" {
		patch.Title = &title
		patch.Tags = tags
	}
	if err := s.store.UpdateTask(ctx, taskID, patch); err != nil {
		slog.Error("failed to patch completed task", "task_id", taskID, "error", err)
	}

	if _, err := s.emit.Emit(ctx, taskID, models.EventKindInvestigationCompleted, models.InvestigationCompletedPayload{
		Summary: summary, Remediation: remediation, Title: title, Tags: tags,
	}); err != nil {
		slog.Error("failed to emit investigation_completed", "task_id", taskID, "error", err)
	}
	s.done(ctx, taskID)
}

func (s *Supervisor) cancel(ctx context.Context, taskID string) {
	if _, err := s.emit.Emit(ctx, taskID, models.EventKindError, models.ErrorPayload{
		ErrorKind: models.ErrorKindCancelled, Message: "investigation aborted",
	}); err != nil {
		slog.Error("failed to emit cancellation error", "task_id", taskID, "error", err)
	}
	status := models.TaskStatusCancelled
	if err := s.store.UpdateTask(ctx, taskID, models.TaskPatch{Status: &status}); err != nil {
		slog.Error("failed to patch cancelled task", "task_id", taskID, "error", err)
	}
	s.done(ctx, taskID)
}

func (s *Supervisor) fail(ctx context.Context, taskID string, kind models.ErrorKind, message string) {
	if _, err := s.emit.Emit(ctx, taskID, models.EventKindError, models.ErrorPayload{ErrorKind: kind, Message: message}); err != nil {
		slog.Error("failed to emit error event", "task_id", taskID, "error", err)
	}
	status := models.TaskStatusFailed
	if err := s.store.UpdateTask(ctx, taskID, models.TaskPatch{Status: &status}); err != nil {
		slog.Error("failed to patch failed task", "task_id", taskID, "error", err)
	}
	s.done(ctx, taskID)
}

func (s *Supervisor) done(ctx context.Context, taskID string) {
	if _, err := s.emit.Emit(ctx, taskID, models.EventKindDone, nil); err != nil {
		slog.Error("failed to emit done", "task_id", taskID, "error", err)
	}
}

func buildInputMessages(req models.InvestigateRequest) []llm.Message {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if req.Context != "" {
		b.WriteString("\n\nAdditional context:\n")
		b.WriteString(req.Context)
	}
	for _, blob := range req.ResourceContext {
		fmt.Fprintf(&b, "\n\nResource %q:\n%s", blob.Name, blob.Content)
	}
	for _, blob := range req.LogContext {
		fmt.Fprintf(&b, "\n\nLog excerpt %q:\n%s", blob.Name, blob.Content)
	}
	return []llm.Message{{Role: llm.RoleUser, Content: b.String()}}
}

// parseReport splits the supervisor's final message into its Summary and
// Remediation markdown sections (spec.md §4.6 step 5). A response with
// neither header is treated entirely as the summary.
func parseReport(finalText string) (summary, remediation string) {
	const summaryHeader = "## summary"
	const remediationHeader = "## remediation"

	lower := strings.ToLower(finalText)
	sIdx := strings.Index(lower, summaryHeader)
	rIdx := strings.Index(lower, remediationHeader)

	if sIdx < 0 && rIdx < 0 {
		return strings.TrimSpace(finalText), ""
	}
	if sIdx >= 0 && rIdx > sIdx {
		summary = strings.TrimSpace(finalText[sIdx+len(summaryHeader) : rIdx])
		remediation = strings.TrimSpace(finalText[rIdx+len(remediationHeader):])
		return summary, remediation
	}
	if sIdx >= 0 {
		return strings.TrimSpace(finalText[sIdx+len(summaryHeader):]), ""
	}
	return "", strings.TrimSpace(finalText[rIdx+len(remediationHeader):])
}
