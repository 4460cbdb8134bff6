// Package agentrt implements C5, the Specialist Agent Runtime: a generic
// LLM loop that streams a chat completion, dispatches any tool calls
// through the Approval Broker and Tool Registry, and feeds results back
// until the model produces a final answer or the turn budget runs out.
package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tarsy-labs/kopsy/pkg/abort"
	"github.com/tarsy-labs/kopsy/pkg/approval"
	"github.com/tarsy-labs/kopsy/pkg/llm"
	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/stream"
	"github.com/tarsy-labs/kopsy/pkg/tools"
)

// maxToolOutputBytes bounds the tool output fed back to the model.
// Persisted output (the tool_call_output event payload) is always
// complete; only the copy appended to the conversation is truncated.
const maxToolOutputBytes = 10 * 1024

// duplicateCallThreshold is how many consecutive identical
// (tool_name, normalized_arguments) calls trigger the short-circuit.
const duplicateCallThreshold = 3

// maxLLMErrorRetries is how many consecutive `llm_error`s Run tolerates
// before giving up, mirroring pkg/mcp/recovery.go's MaxRetries-after-
// initial-failure accounting. llmErrorBackoff is indexed by retry count
// (1st retry waits 100ms, 2nd waits 400ms) — a capped exponential
// backoff in the same spirit as recovery.go's jittered retry delay,
// fixed rather than jittered since there's no connection pool here to
// spread load across.
const maxLLMErrorRetries = 2

var llmErrorBackoff = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}

// ErrCancelled is returned by Run when the trace's abort signal fires.
var ErrCancelled = fmt.Errorf("agentrt: cancelled")

// Config describes one agent run.
type Config struct {
	AgentName     string
	Instructions  string
	InputMessages []llm.Message
	ToolNames     []string // subset of registered tools visible to this agent
	Model         string
	MaxTurns      int
}

// Result is what Run returns on a clean or turn-exhausted completion. It
// never carries a Go error for model-side conditions (unknown tool,
// rejected call, timeout) — those are fed back into the conversation and
// surfaced as events; only cancellation and unrecoverable store/stream
// failures return an error.
type Result struct {
	FinalText      string
	TurnsExhausted bool
	InputTokens    int
	OutputTokens   int
}

// Runtime is the process-wide C5 instance, shared across all specialist
// agents and the supervisor (the supervisor is just another Run call with
// a larger tool set).
type Runtime struct {
	client   llm.Client
	registry *tools.Registry
	broker   *approval.Broker
	emit     stream.Emitter
	signals  *abort.Registry
}

// New builds a Runtime wired to the shared Tool Registry, Approval
// Broker, Stream Multiplexer, and Abort Controller registry.
func New(client llm.Client, registry *tools.Registry, broker *approval.Broker, emit stream.Emitter, signals *abort.Registry) *Runtime {
	return &Runtime{client: client, registry: registry, broker: broker, emit: emit, signals: signals}
}

type normalizedCall struct {
	name string
	args string
}

// Run drives one agent loop to completion.
func (r *Runtime) Run(ctx context.Context, taskID, traceID string, cfg Config) (Result, error) {
	start := time.Now()
	if _, err := r.emit.Emit(ctx, taskID, models.EventKindAgentStarted, models.AgentStartedPayload{AgentName: cfg.AgentName}); err != nil {
		return Result{}, fmt.Errorf("emit agent_started: %w", err)
	}

	descriptors := r.descriptorsFor(cfg.ToolNames)
	toolDefs := make([]llm.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		toolDefs = append(toolDefs, llm.ToolDefinition{
			Name:             d.Name,
			Description:      d.Description,
			ParametersSchema: tools.MarshalSchema(d.Schema),
		})
	}

	messages := make([]llm.Message, 0, len(cfg.InputMessages)+1)
	if cfg.Instructions != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: cfg.Instructions})
	}
	messages = append(messages, cfg.InputMessages...)

	result := Result{}
	var lastCall normalizedCall
	var repeatCount int
	var llmErrorStreak int

	for turn := 0; turn < cfg.MaxTurns; turn++ {
		if signal := r.signals.Get(traceID); signal != nil && signal.Observe() {
			return result, ErrCancelled
		}

		input := &llm.GenerateInput{Model: cfg.Model, Messages: messages, Tools: toolDefs, MaxTokens: 4096}
		ch, err := r.client.Generate(ctx, input)
		if err != nil {
			return result, fmt.Errorf("llm generate: %w", err)
		}

		assistantText, toolCalls, usage, streamErr := r.collect(ctx, taskID, ch)
		result.InputTokens += usage.InputTokens
		result.OutputTokens += usage.OutputTokens
		if streamErr != nil {
			if _, emitErr := r.emit.Emit(ctx, taskID, models.EventKindError, models.ErrorPayload{
				ErrorKind: models.ErrorKindLLMError, Message: streamErr.Error(),
			}); emitErr != nil {
				return result, fmt.Errorf("emit llm_error: %w", emitErr)
			}

			llmErrorStreak++
			if llmErrorStreak > maxLLMErrorRetries {
				result.TurnsExhausted = true
				result.FinalText = "[truncated: llm_error retry budget exhausted]"
				return r.complete(ctx, taskID, cfg.AgentName, start, result)
			}

			select {
			case <-time.After(llmErrorBackoff[llmErrorStreak-1]):
			case <-ctx.Done():
				return result, ctx.Err()
			}

			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "The previous model call failed: " + streamErr.Error() + ". Please retry or conclude."})
			continue
		}
		llmErrorStreak = 0

		if len(toolCalls) == 0 {
			result.FinalText = assistantText
			return r.complete(ctx, taskID, cfg.AgentName, start, result)
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: assistantText, ToolCalls: toolCalls})

		for _, call := range toolCalls {
			if signal := r.signals.Get(traceID); signal != nil && signal.Observe() {
				return result, ErrCancelled
			}

			normalized := normalize(call)
			if normalized == lastCall {
				repeatCount++
			} else {
				repeatCount = 1
				lastCall = normalized
			}
			if repeatCount >= duplicateCallThreshold {
				result.FinalText = "[truncated: repeated tool call detected, no new information]"
				result.TurnsExhausted = true
				return r.complete(ctx, taskID, cfg.AgentName, start, result)
			}

			toolResponse, err := r.runOneCall(ctx, taskID, traceID, call)
			if err != nil {
				if err == approval.ErrCancelled {
					return result, ErrCancelled
				}
				return result, err
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, ToolName: call.Name, Content: toolResponse})
		}
	}

	result.TurnsExhausted = true
	result.FinalText = "[truncated: turn budget exhausted]"
	return r.complete(ctx, taskID, cfg.AgentName, start, result)
}

func (r *Runtime) complete(ctx context.Context, taskID, agentName string, start time.Time, result Result) (Result, error) {
	if _, err := r.emit.Emit(ctx, taskID, models.EventKindAgentCompleted, models.AgentCompletedPayload{
		AgentName: agentName, DurationMs: time.Since(start).Milliseconds(),
	}); err != nil {
		return result, fmt.Errorf("emit agent_completed: %w", err)
	}
	return result, nil
}

// collect drains one streaming Generate call, forwarding text/thinking
// deltas through the emitter and buffering the final assistant text and
// any requested tool calls.
func (r *Runtime) collect(ctx context.Context, taskID string, ch <-chan llm.Chunk) (string, []llm.ToolCall, llm.UsageChunk, error) {
	var text string
	var toolCalls []llm.ToolCall
	var usage llm.UsageChunk

	for chunk := range ch {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text += c.Content
			if _, err := r.emit.Emit(ctx, taskID, models.EventKindTextDelta, models.TextDeltaPayload{Text: c.Content, Role: models.RoleAssistant}); err != nil {
				return text, toolCalls, usage, fmt.Errorf("emit text_delta: %w", err)
			}
		case *llm.ThinkingChunk:
			if _, err := r.emit.Emit(ctx, taskID, models.EventKindTextDelta, models.TextDeltaPayload{Text: c.Content, Role: models.RoleReasoning}); err != nil {
				return text, toolCalls, usage, fmt.Errorf("emit text_delta: %w", err)
			}
		case *llm.ToolCallChunk:
			toolCalls = append(toolCalls, llm.ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
		case *llm.UsageChunk:
			usage = *c
		case *llm.ErrorChunk:
			return text, toolCalls, usage, fmt.Errorf("%s", c.Message)
		}
	}
	return text, toolCalls, usage, nil
}

// runOneCall resolves, gates, invokes, and records one tool call, always
// returning a string to feed back to the model as the tool-response
// message (never an error for model-recoverable conditions).
func (r *Runtime) runOneCall(ctx context.Context, taskID, traceID string, call llm.ToolCall) (string, error) {
	var arguments map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &arguments); err != nil {
			arguments = map[string]any{}
		}
	}

	descriptor, err := r.registry.Get(call.Name)
	if err != nil {
		if _, emitErr := r.emit.Emit(ctx, taskID, models.EventKindError, models.ErrorPayload{
			ErrorKind: models.ErrorKindToolNotFound, Message: err.Error(), CallID: call.ID,
		}); emitErr != nil {
			return "", fmt.Errorf("emit tool_not_found: %w", emitErr)
		}
		return fmt.Sprintf("error: unknown tool %q", call.Name), nil
	}

	title := r.registry.Describe(call.Name, arguments)
	outcome, err := r.broker.Gate(ctx, taskID, traceID, call.ID, call.Name, arguments, title, descriptor.Safety)
	if err != nil {
		switch err {
		case approval.ErrCancelled:
			return "", approval.ErrCancelled
		case approval.ErrRejected:
			return "user rejected execution", nil
		default:
			return "", fmt.Errorf("approval gate: %w", err)
		}
	}
	if !outcome.Proceed {
		return "user rejected execution", nil
	}

	invokeStart := time.Now()
	result, invokeErr := r.registry.Invoke(ctx, call.Name, arguments, tools.InvokeContext{TraceID: traceID, TaskID: taskID})
	duration := time.Since(invokeStart).Milliseconds()

	success := invokeErr == nil && result.Success
	var output any = result.Output
	if invokeErr != nil {
		output = invokeErr.Error()
	}

	if _, err := r.emit.Emit(ctx, taskID, models.EventKindToolCallOutput, models.ToolCallOutputPayload{
		CallID: call.ID, Output: output, Success: success, DurationMs: duration, Component: result.Component,
	}); err != nil {
		return "", fmt.Errorf("emit tool_call_output: %w", err)
	}

	return truncateForModel(output), nil
}

func (r *Runtime) descriptorsFor(names []string) []tools.Descriptor {
	if len(names) == 0 {
		return r.registry.ListForAgent("")
	}
	out := make([]tools.Descriptor, 0, len(names))
	for _, name := range names {
		if d, err := r.registry.Get(name); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func normalize(call llm.ToolCall) normalizedCall {
	var v any
	if err := json.Unmarshal([]byte(call.Arguments), &v); err != nil {
		return normalizedCall{name: call.Name, args: call.Arguments}
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return normalizedCall{name: call.Name, args: call.Arguments}
	}
	return normalizedCall{name: call.Name, args: string(canon)}
}

func truncateForModel(output any) string {
	s := fmt.Sprintf("%v", output)
	if len(s) <= maxToolOutputBytes {
		return s
	}
	return s[:maxToolOutputBytes] + fmt.Sprintf("... [truncated %d bytes, full output persisted]", len(s)-maxToolOutputBytes)
}
