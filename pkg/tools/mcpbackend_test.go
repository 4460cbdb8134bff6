package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// mcpSchemaStub stands in for the go-sdk's *jsonschema.Schema: a typed
// struct, not a map, which is what schemaFromMCP actually receives from
// a live MCP server (tool.InputSchema).
type mcpSchemaStub struct {
	Type       string                  `json:"type"`
	Properties map[string]mcpFieldStub `json:"properties"`
	Required   []string                `json:"required"`
}

type mcpFieldStub struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

func TestSchemaFromMCP_StructInputIsRoundTrippedNotAsserted(t *testing.T) {
	raw := &mcpSchemaStub{
		Type: "object",
		Properties: map[string]mcpFieldStub{
			"namespace": {Type: "string", Description: "k8s namespace"},
		},
		Required: []string{"namespace"},
	}

	schema := schemaFromMCP(raw)

	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, SchemaField{Type: "string", Description: "k8s namespace"}, schema.Properties["namespace"])
	assert.Equal(t, []string{"namespace"}, schema.Required)
}

func TestSchemaFromMCP_NilDegradesToEmptyObject(t *testing.T) {
	schema := schemaFromMCP(nil)
	assert.Equal(t, "object", schema.Type)
	assert.Empty(t, schema.Properties)
}

func TestSchemaFromMCP_UnmarshalableDegradesToEmptyObject(t *testing.T) {
	schema := schemaFromMCP(make(chan int))
	assert.Equal(t, "object", schema.Type)
	assert.Empty(t, schema.Properties)
}
