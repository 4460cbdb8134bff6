package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-labs/kopsy/pkg/agentrt"
	"github.com/tarsy-labs/kopsy/pkg/llm"
	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/store"
	"github.com/tarsy-labs/kopsy/pkg/stream"
	"github.com/tarsy-labs/kopsy/pkg/tools"
)

// questionArgSchema is the one argument every specialist tool takes: a
// single focused question from the supervisor.
var questionArgSchema = tools.Schema{
	Type: "object",
	Properties: map[string]tools.SchemaField{
		"question": {Type: "string", Description: "the specific question to investigate"},
	},
	Required: []string{"question"},
}

// RegisterSpecialists registers one tool descriptor per SpecialistSpec
// into registry. Calling the tool runs a fresh C5 agent through runtime,
// restricted to the specialist's own ToolNames, and surfaces the result
// to the supervisor both as a subtask_added event and as the tool's
// textual return value (spec.md §4.6 step 4).
//
// The teacher's SubAgentRunner (pkg/agent/orchestrator/runner.go)
// dispatches sub-agents onto their own goroutines behind a
// concurrency-limited reservation scheme, because its supervisor can have
// several tool calls in flight at once. This runtime disables parallel
// tool calls within an agent (spec.md §4.5), so the supervisor only ever
// has one specialist running at a time — no concurrency limiter is
// needed; a specialist tool call is simply a synchronous nested Run.
func RegisterSpecialists(registry *tools.Registry, runtime *agentrt.Runtime, st store.EventStore, emit stream.Emitter, specs []SpecialistSpec) {
	for _, spec := range specs {
		spec := spec
		registry.Register(tools.Descriptor{
			Name:        spec.ToolName,
			Description: spec.Description,
			Schema:      questionArgSchema,
			Safety:      tools.SafetyAuto,
			TitleFunc: func(arguments map[string]any) string {
				question, _ := arguments["question"].(string)
				return fmt.Sprintf("Delegating to %s: %s", spec.ToolName, question)
			},
			Invoke: specialistInvoker(runtime, st, emit, spec),
		})
	}
}

func specialistInvoker(runtime *agentrt.Runtime, st store.EventStore, emit stream.Emitter, spec SpecialistSpec) tools.Invoker {
	return func(ctx context.Context, arguments map[string]any, ic tools.InvokeContext) (tools.Result, error) {
		question, _ := arguments["question"].(string)

		subtask := models.SubTask{
			ID:        uuid.NewString(),
			Subject:   spec.ToolName,
			Status:    models.SubTaskRunning,
			Goal:      question,
			CreatedAt: time.Now().UTC(),
		}

		result, err := runtime.Run(ctx, ic.TaskID, ic.TraceID, agentrt.Config{
			AgentName:     spec.AgentName,
			Instructions:  spec.Instructions,
			InputMessages: []llm.Message{{Role: llm.RoleUser, Content: question}},
			ToolNames:     spec.ToolNames,
			Model:         spec.Model,
			MaxTurns:      spec.MaxTurns,
		})
		if err != nil {
			if err == agentrt.ErrCancelled {
				return tools.Result{}, err
			}
			subtask.Status = models.SubTaskFailed
			subtask.Reason = err.Error()
			recordSubtask(ctx, st, emit, ic.TaskID, subtask)
			return tools.Result{Success: false, Output: fmt.Sprintf("%s failed: %s", spec.ToolName, err.Error())}, nil
		}

		subtask.Status = models.SubTaskCompleted
		subtask.Discovery = result.FinalText
		if result.TurnsExhausted {
			subtask.Reason = "turn budget exhausted before a conclusive answer"
		}
		recordSubtask(ctx, st, emit, ic.TaskID, subtask)

		return tools.Result{Success: true, Output: result.FinalText}, nil
	}
}

// recordSubtask persists the sub-task onto the Task record and emits
// subtask_added so live subscribers and replay both see it (spec.md §4.6
// step 4). Store and emit failures are logged by their own layers; a
// sub-task bookkeeping failure must never fail the specialist's result.
func recordSubtask(ctx context.Context, st store.EventStore, emit stream.Emitter, taskID string, subtask models.SubTask) {
	_ = st.AddSubtask(ctx, taskID, subtask)
	_, _ = emit.Emit(ctx, taskID, models.EventKindSubtaskAdded, models.SubtaskAddedPayload{SubTask: subtask})
}
