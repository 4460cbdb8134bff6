package llm

import "context"

// FakeClient is a scripted Client used by tests that drive the specialist
// agent runtime and supervisor orchestrator without a live model provider.
// Script is consumed one Turn per Generate call; calling Generate more
// times than there are turns returns an error chunk.
type FakeClient struct {
	Script []Turn
	calls  int
	Seen   []*GenerateInput
}

// Turn is one scripted response: either a sequence of chunks, or (if
// ToolCall is set) a single tool-call chunk followed by a UsageChunk.
type Turn struct {
	Chunks []Chunk
}

// Text is a convenience constructor for a turn that streams plain text and
// ends without a tool call.
func Text(s string) Turn {
	return Turn{Chunks: []Chunk{&TextChunk{Content: s}, &UsageChunk{InputTokens: 1, OutputTokens: 1}}}
}

// ToolCall is a convenience constructor for a turn that requests one tool
// call.
func ToolCallTurn(callID, name, argsJSON string) Turn {
	return Turn{Chunks: []Chunk{&ToolCallChunk{CallID: callID, Name: name, Arguments: argsJSON}, &UsageChunk{InputTokens: 1, OutputTokens: 1}}}
}

func (f *FakeClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	f.Seen = append(f.Seen, input)

	ch := make(chan Chunk, 8)
	if f.calls >= len(f.Script) {
		go func() {
			defer close(ch)
			ch <- &ErrorChunk{Message: "fake client script exhausted", Retryable: false}
		}()
		return ch, nil
	}

	turn := f.Script[f.calls]
	f.calls++
	go func() {
		defer close(ch)
		for _, c := range turn.Chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
