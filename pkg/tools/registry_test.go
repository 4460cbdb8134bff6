package tools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/kopsy/pkg/tools"
)

func listPodsDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        "list_pods",
		Description: "Lists pods in a namespace",
		Safety:      tools.SafetyAuto,
		Schema: tools.Schema{
			Type:       "object",
			Properties: map[string]tools.SchemaField{"namespace": {Type: "string"}},
			Required:   []string{"namespace"},
		},
		TitleFunc: func(args map[string]any) string {
			ns, _ := args["namespace"].(string)
			return "Listing pods in " + ns
		},
		Invoke: func(ctx context.Context, arguments map[string]any, ic tools.InvokeContext) (tools.Result, error) {
			return tools.Result{Output: []string{"a", "b"}, Success: true}, nil
		},
	}
}

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	r := tools.NewRegistry()
	_, err := r.Invoke(context.Background(), "does_not_exist", nil, tools.InvokeContext{})
	require.ErrorIs(t, err, tools.ErrToolNotFound)
}

func TestRegistry_InvokeMissingRequiredArgument(t *testing.T) {
	r := tools.NewRegistry()
	r.Register(listPodsDescriptor())

	result, err := r.Invoke(context.Background(), "list_pods", map[string]any{}, tools.InvokeContext{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "namespace")
}

func TestRegistry_InvokeSuccess(t *testing.T) {
	r := tools.NewRegistry()
	r.Register(listPodsDescriptor())

	result, err := r.Invoke(context.Background(), "list_pods", map[string]any{"namespace": "default"}, tools.InvokeContext{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"a", "b"}, result.Output)
}

func TestRegistry_InvokeAttachesUIComponentOnSuccess(t *testing.T) {
	r := tools.NewRegistry()
	d := listPodsDescriptor()
	d.UIComponent = "pod_list"
	r.Register(d)

	result, err := r.Invoke(context.Background(), "list_pods", map[string]any{"namespace": "default"}, tools.InvokeContext{})
	require.NoError(t, err)
	assert.Equal(t, "pod_list", result.Component)
}

func TestRegistry_InvokeOmitsUIComponentOnFailure(t *testing.T) {
	r := tools.NewRegistry()
	d := listPodsDescriptor()
	d.UIComponent = "pod_list"
	d.Invoke = func(ctx context.Context, arguments map[string]any, ic tools.InvokeContext) (tools.Result, error) {
		return tools.Result{Output: "boom", Success: false}, nil
	}
	r.Register(d)

	result, err := r.Invoke(context.Background(), "list_pods", map[string]any{"namespace": "default"}, tools.InvokeContext{})
	require.NoError(t, err)
	assert.Empty(t, result.Component)
}

func TestRegistry_Describe(t *testing.T) {
	r := tools.NewRegistry()
	r.Register(listPodsDescriptor())
	assert.Equal(t, "Listing pods in prod", r.Describe("list_pods", map[string]any{"namespace": "prod"}))
}

func TestRegistry_ListForAgentReturnsAllDescriptors(t *testing.T) {
	r := tools.NewRegistry()
	r.Register(listPodsDescriptor())
	r.Register(tools.Descriptor{Name: "write_todos", Safety: tools.SafetyAuto})

	descriptors := r.ListForAgent("supervisor")
	assert.Len(t, descriptors, 2)
}
