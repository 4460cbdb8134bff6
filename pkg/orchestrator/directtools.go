package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/todo"
	"github.com/tarsy-labs/kopsy/pkg/tools"
)

// notImplemented is the stub output for direct tools whose concrete
// backend (kubectl, a specific observability store) is explicitly out of
// scope for this build (spec.md §1 Non-goals: "concrete tool
// implementations"). Registering them anyway keeps the supervisor's tool
// schema matching spec.md §4.6 step 3 exactly, so a real backend can be
// dropped in later without changing the supervisor's prompt or loop.
const notImplemented = "this tool's backend is not wired in this build"

// RegisterTodoTools registers write_todos and read_todos against board,
// the real C4 Todo Board — these are in scope and fully implemented,
// unlike the stub direct tools in this file.
func RegisterTodoTools(registry *tools.Registry, board *todo.Board) {
	registry.Register(tools.Descriptor{
		Name:        "write_todos",
		Description: "Replace the investigation's todo board with the given list. Full replace, not merge; at most one item may be in_progress.",
		Safety:      tools.SafetyAuto,
		Schema: tools.Schema{
			Type: "object",
			Properties: map[string]tools.SchemaField{
				"todos": {Type: "array", Description: "the complete replacement list of todo items"},
			},
			Required: []string{"todos"},
		},
		Invoke: writeTodosInvoker(board),
	})

	registry.Register(tools.Descriptor{
		Name:        "read_todos",
		Description: "Read the investigation's current todo board.",
		Safety:      tools.SafetyAuto,
		Schema:      tools.Schema{Type: "object"},
		Invoke: func(ctx context.Context, arguments map[string]any, ic tools.InvokeContext) (tools.Result, error) {
			items, err := board.Read(ic.TraceID)
			if err != nil {
				return tools.Result{Success: false, Output: err.Error()}, nil
			}
			return tools.Result{Success: true, Output: items}, nil
		},
	})
}

func writeTodosInvoker(board *todo.Board) tools.Invoker {
	return func(ctx context.Context, arguments map[string]any, ic tools.InvokeContext) (tools.Result, error) {
		raw, err := json.Marshal(arguments["todos"])
		if err != nil {
			return tools.Result{Success: false, Output: fmt.Sprintf("invalid todos argument: %v", err)}, nil
		}
		var items []models.Todo
		if err := json.Unmarshal(raw, &items); err != nil {
			return tools.Result{Success: false, Output: fmt.Sprintf("invalid todos argument: %v", err)}, nil
		}

		written, err := board.Write(ic.TraceID, items)
		if err != nil {
			return tools.Result{Success: false, Output: err.Error()}, nil
		}
		return tools.Result{Success: true, Output: written}, nil
	}
}

// RegisterDirectTools registers the remaining tools spec.md §4.6 step 3
// names in the supervisor's schema: get_resource_yaml,
// get_resource_dependency, set_kubecontext, and past-investigation
// lookup. Their backends (a live Kubernetes client, a search index over
// completed Tasks) are explicitly out of scope (spec.md §1 Non-goals);
// these stubs exist so the schema and the tool_call_requested/
// tool_call_output event shape are already correct for when a backend is
// wired in.
func RegisterDirectTools(registry *tools.Registry) {
	registry.Register(tools.Descriptor{
		Name:        "get_resource_yaml",
		Description: "Fetch the YAML manifest of a Kubernetes resource.",
		Safety:      tools.SafetyAuto,
		Schema: tools.Schema{
			Type: "object",
			Properties: map[string]tools.SchemaField{
				"kind":      {Type: "string"},
				"namespace": {Type: "string"},
				"name":      {Type: "string"},
			},
			Required: []string{"kind", "name"},
		},
		Invoke: stubInvoker,
	})

	registry.Register(tools.Descriptor{
		Name:        "get_resource_dependency",
		Description: "Resolve the resources a Kubernetes resource depends on or is depended on by.",
		Safety:      tools.SafetyAuto,
		Schema: tools.Schema{
			Type: "object",
			Properties: map[string]tools.SchemaField{
				"kind":      {Type: "string"},
				"namespace": {Type: "string"},
				"name":      {Type: "string"},
			},
			Required: []string{"kind", "name"},
		},
		Invoke: stubInvoker,
	})

	registry.Register(tools.Descriptor{
		Name:        "set_kubecontext",
		Description: "Switch the active Kubernetes context for subsequent tool calls in this investigation.",
		Safety:      tools.SafetyGated,
		Schema: tools.Schema{
			Type:       "object",
			Properties: map[string]tools.SchemaField{"context": {Type: "string"}},
			Required:   []string{"context"},
		},
		Invoke: stubInvoker,
	})

	registry.Register(tools.Descriptor{
		Name:        "search_past_investigations",
		Description: "Search completed investigations for similar prior incidents.",
		Safety:      tools.SafetyAuto,
		Schema: tools.Schema{
			Type:       "object",
			Properties: map[string]tools.SchemaField{"query": {Type: "string"}},
			Required:   []string{"query"},
		},
		Invoke: stubInvoker,
	})
}

func stubInvoker(ctx context.Context, arguments map[string]any, ic tools.InvokeContext) (tools.Result, error) {
	return tools.Result{Success: false, Output: notImplemented}, nil
}
