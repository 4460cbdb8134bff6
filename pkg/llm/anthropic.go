package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client by calling the Anthropic Messages API
// in streaming mode.
type AnthropicClient struct {
	messages *sdk.MessageService
}

// NewAnthropicClient builds a Client from an API key and base URL. baseURL
// may be empty to use the SDK's default endpoint (per-provider base URL
// resolution is the caller's job — see pkg/config.LLMProviderConfig).
func NewAnthropicClient(apiKey, baseURL string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(opts...)
	return &AnthropicClient{messages: &client.Messages}
}

// Generate starts a streaming Messages call and adapts its SSE events into
// a channel of Chunks.
func (c *AnthropicClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	params, err := buildParams(input)
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}

	stream := c.messages.NewStreaming(ctx, *params)

	ch := make(chan Chunk, 32)
	go runAnthropicStream(ctx, stream, ch)
	return ch, nil
}

func buildParams(input *GenerateInput) (*sdk.MessageNewParams, error) {
	if len(input.Messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}
	if input.MaxTokens <= 0 {
		return nil, fmt.Errorf("max_tokens must be positive")
	}

	var system string
	var msgs []sdk.MessageParam
	for _, m := range input.Messages {
		switch m.Role {
		case RoleSystem:
			system += m.Content
		case RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						args = map[string]any{}
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		case RoleTool:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(input.Model),
		MaxTokens: int64(input.MaxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if input.Temperature > 0 {
		params.Temperature = sdk.Float(input.Temperature)
	}
	if len(input.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(input.Tools))
		for _, t := range input.Tools {
			var schema sdk.ToolInputSchemaParam
			if t.ParametersSchema != "" {
				var raw map[string]any
				if err := json.Unmarshal([]byte(t.ParametersSchema), &raw); err == nil {
					if props, ok := raw["properties"]; ok {
						schema.Properties = props
					}
					if req, ok := raw["required"].([]any); ok {
						for _, r := range req {
							if s, ok := r.(string); ok {
								schema.Required = append(schema.Required, s)
							}
						}
					}
				}
			}
			tools = append(tools, sdk.ToolUnionParamOfTool(schema, t.Name).OfTool.ToParam())
		}
		params.Tools = tools
	}
	return params, nil
}

// runAnthropicStream drains the SSE stream, converting each event into a
// Chunk, and closes ch when the stream ends.
func runAnthropicStream(ctx context.Context, stream interface {
	Next() bool
	Current() sdk.MessageStreamEventUnion
	Err() error
	Close() error
}, ch chan<- Chunk) {
	defer close(ch)
	defer func() { _ = stream.Close() }()

	toolBlocks := make(map[int64]*toolBuffer)

	send := func(c Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[ev.Index] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" && !send(&TextChunk{Content: delta.Text}) {
					return
				}
			case sdk.ThinkingDelta:
				if delta.Thinking != "" && !send(&ThinkingChunk{Content: delta.Thinking}) {
					return
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[ev.Index]; tb != nil && delta.PartialJSON != "" {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb := toolBlocks[ev.Index]; tb != nil {
				delete(toolBlocks, ev.Index)
				if !send(&ToolCallChunk{CallID: tb.id, Name: tb.name, Arguments: tb.joined()}) {
					return
				}
			}
		case sdk.MessageDeltaEvent:
			if !send(&UsageChunk{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
			}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		send(&ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)})
	}
}

type toolBuffer struct {
	id, name  string
	fragments []string
}

func (tb *toolBuffer) joined() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

func isRetryable(err error) bool {
	var apiErr *sdk.Error
	if ok := asAPIError(err, &apiErr); ok {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func asAPIError(err error, target **sdk.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*sdk.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
