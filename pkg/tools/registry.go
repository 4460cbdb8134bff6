// Package tools implements C2, the Tool Registry: uniform descriptors and
// dispatch for every callable exposed to agents, whether it backs onto a
// real MCP server, the Todo Board, or a direct read-only helper.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// SafetyClass gates whether a tool call needs Approval Broker sign-off.
type SafetyClass string

const (
	SafetyAuto  SafetyClass = "auto"
	SafetyGated SafetyClass = "gated"
)

// ErrToolNotFound is returned by Invoke/Describe for an unregistered name.
var ErrToolNotFound = errors.New("tools: tool not found")

// InvokeContext carries the per-call scoping an invoker needs. It
// deliberately excludes anything transport- or trace-lifecycle-specific
// (no abort signal, no emitter) — those are the caller's concern.
type InvokeContext struct {
	TraceID     string
	TaskID      string
	KubeContext string
}

// Result is what an invoker returns: either a plain textual result or a
// structured object (for UI component rendering), plus a success flag.
type Result struct {
	Output    any
	Success   bool
	Component string // only set when the descriptor has UIComponent and Success
}

// Invoker is the uniform dispatch signature every tool implements.
type Invoker func(ctx context.Context, arguments map[string]any, ic InvokeContext) (Result, error)

// Descriptor is the uniform metadata every registered tool carries.
type Descriptor struct {
	Name        string
	Description string
	Schema      Schema
	Safety      SafetyClass
	UIComponent string // optional; rendering hint for the UI

	// TitleFunc renders a one-line human title from call arguments, e.g.
	// "Listing pods in prod". Optional; falls back to Name if nil.
	TitleFunc func(arguments map[string]any) string

	Invoke Invoker
}

// Schema is a JSON-shaped parameter schema: a plain object type with
// required fields, serialized for the LLM the same way the teacher
// marshals MCP InputSchema (pkg/mcp/executor.go's marshalSchema).
type Schema struct {
	Type       string                 `json:"type"`
	Properties map[string]SchemaField `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

type SchemaField struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Registry holds descriptors keyed by name. Tool names are stable across
// releases (spec.md §4.2 invariant); registration happens once at startup.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a descriptor. Re-registering an existing name overwrites
// it — used by tests to swap in fakes, not expected in production wiring.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.Name] = d
}

// Get returns the descriptor for name, or ErrToolNotFound.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return d, nil
}

// ListForAgent returns every descriptor visible to agentTag. agentTag is
// currently unused for filtering (every agent sees the full registry) —
// the parameter exists so a future per-agent allow-list doesn't change the
// call signature at every call site.
func (r *Registry) ListForAgent(agentTag string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}

// Describe renders the one-line human title for a tool call, using the
// descriptor's TitleFunc if set.
func (r *Registry) Describe(name string, arguments map[string]any) string {
	d, err := r.Get(name)
	if err != nil {
		return name
	}
	if d.TitleFunc != nil {
		return d.TitleFunc(arguments)
	}
	return d.Name
}

// Invoke validates arguments against the descriptor's schema then
// dispatches. Unknown tools produce ErrToolNotFound rather than a panic
// (spec.md §4.2 invariant).
func (r *Registry) Invoke(ctx context.Context, name string, arguments map[string]any, ic InvokeContext) (Result, error) {
	d, err := r.Get(name)
	if err != nil {
		return Result{}, err
	}

	if err := validateArguments(d.Schema, arguments); err != nil {
		return Result{Success: false, Output: err.Error()}, nil
	}

	result, err := d.Invoke(ctx, arguments, ic)
	if err != nil {
		return Result{}, err
	}

	if d.UIComponent != "" && result.Success {
		result.Component = d.UIComponent
	}
	return result, nil
}

func validateArguments(schema Schema, arguments map[string]any) error {
	for _, field := range schema.Required {
		if _, ok := arguments[field]; !ok {
			return fmt.Errorf("missing required argument %q", field)
		}
	}
	return nil
}

// MarshalSchema serializes a Schema to a JSON string, for seeding LLM tool
// definitions — mirrors pkg/mcp/executor.go's marshalSchema.
func MarshalSchema(s Schema) string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}
