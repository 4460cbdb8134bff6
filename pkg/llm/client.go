// Package llm defines the model-provider abstraction used by the
// specialist agent runtime (C5) and the supervisor orchestrator (C6): a
// streaming chat-completion call that yields a channel of typed chunks.
package llm

import "context"

// Conversation message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation fed to a model provider.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // set on assistant messages that requested tool calls
	ToolCallID string     // set on tool-result messages
	ToolName   string     // set on tool-result messages
}

// ToolCall is a model's request to invoke a named tool with JSON arguments.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON object
}

// ToolDefinition describes one tool available to the model for this call.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema, as a string
}

// GenerateInput is one streaming chat-completion request.
type GenerateInput struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition // nil means no tool use offered
	MaxTokens   int
	Temperature float64
}

// Client is the model-provider abstraction. Generate starts a streaming
// call and returns a channel of Chunks; the channel closes when the
// stream ends, whether normally or via a terminal ErrorChunk.
type Client interface {
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
}

// Chunk is the interface for every streaming chunk type a Client can emit.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a fragment of the assistant's visible reply.
type TextChunk struct{ Content string }

// ThinkingChunk is a fragment of the model's extended-thinking output.
type ThinkingChunk struct{ Content string }

// ToolCallChunk signals a completed tool call request from the model.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for the call that just completed.
type UsageChunk struct{ InputTokens, OutputTokens int }

// ErrorChunk signals a provider-side error. Retryable distinguishes
// transient failures (rate limit, 5xx) from ones the caller should not
// retry (bad request, auth failure).
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }
