package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-labs/kopsy/pkg/masking"
	"github.com/tarsy-labs/kopsy/pkg/version"
)

// MCPBackend connects to a single MCP server and registers its tools into
// a Registry, name-prefixed "server.tool" (NormalizeToolName/SplitToolName
// in pkg/mcp/router.go is the teacher's equivalent; here the prefix is
// baked into the registration instead of re-derived per call).
type MCPBackend struct {
	serverID string
	session  *mcpsdk.ClientSession
	masker   *masking.Service // optional, nil disables masking
}

// ConnectMCPBackend dials transport, identifying itself as this binary, and
// returns a connected backend. The caller owns transport construction
// (stdio/http/sse) — spec.md Non-goals exclude concrete transport wiring.
func ConnectMCPBackend(ctx context.Context, serverID string, transport mcpsdk.Transport, masker *masking.Service) (*MCPBackend, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to mcp server %q: %w", serverID, err)
	}

	return &MCPBackend{serverID: serverID, session: session, masker: masker}, nil
}

// Close terminates the underlying MCP session.
func (b *MCPBackend) Close() error {
	return b.session.Close()
}

// RegisterInto lists the server's tools and registers one Descriptor per
// tool into registry, each invoking through this backend's session.
// safetyOf classifies each tool by name (e.g. a deny-list lookup plus a
// default); uiComponentOf optionally assigns a UI rendering hint.
func (b *MCPBackend) RegisterInto(
	ctx context.Context,
	registry *Registry,
	safetyOf func(qualifiedName string) SafetyClass,
	uiComponentOf func(qualifiedName string) string,
) error {
	result, err := b.session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tools from %q: %w", b.serverID, err)
	}

	for _, tool := range result.Tools {
		qualified := fmt.Sprintf("%s.%s", b.serverID, tool.Name)
		toolName := tool.Name

		registry.Register(Descriptor{
			Name:        qualified,
			Description: tool.Description,
			Schema:      schemaFromMCP(tool.InputSchema),
			Safety:      safetyOf(qualified),
			UIComponent: uiComponentOf(qualified),
			Invoke:      b.invoker(toolName),
		})
	}
	return nil
}

func (b *MCPBackend) invoker(toolName string) Invoker {
	return func(ctx context.Context, arguments map[string]any, ic InvokeContext) (Result, error) {
		result, err := b.session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolName,
			Arguments: arguments,
		})
		if err != nil {
			return Result{Success: false, Output: fmt.Sprintf("mcp tool execution failed: %s", err)}, nil
		}

		text := extractTextContent(result)
		if b.masker != nil {
			text = b.masker.MaskToolResult(text, b.serverID)
		}

		return Result{Output: text, Success: !result.IsError}, nil
	}
}

// extractTextContent concatenates TextContent items, skipping non-text
// content (images, embedded resources) — mirrors pkg/mcp/executor.go.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("mcp tool returned non-text content, skipping", "type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// schemaFromMCP adapts an MCP tool's raw input schema (a *jsonschema.Schema
// in the go-sdk, not a map) into this package's Schema for LLM seeding.
// It round-trips through JSON rather than type-asserting raw directly
// into map[string]any, since raw's concrete type is the SDK's struct,
// not a map (mirrors pkg/mcp/executor.go's marshalSchema, which
// json.Marshals the same InputSchema field unconditionally for the
// same reason). Anything that doesn't fit the object/properties/
// required shape degrades to an empty object schema rather than
// failing registration.
func schemaFromMCP(raw any) Schema {
	empty := Schema{Type: "object"}
	if raw == nil {
		return empty
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return empty
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return empty
	}

	schema := Schema{Type: "object", Properties: map[string]SchemaField{}}
	if props, ok := m["properties"].(map[string]any); ok {
		for name, v := range props {
			field := SchemaField{Type: "string"}
			if pm, ok := v.(map[string]any); ok {
				if t, ok := pm["type"].(string); ok {
					field.Type = t
				}
				if d, ok := pm["description"].(string); ok {
					field.Description = d
				}
			}
			schema.Properties[name] = field
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}
