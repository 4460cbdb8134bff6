// Package summarizer implements C10, the Title/Metadata Summarizer: a
// short, bounded LLM call that turns an investigation's user prompt (and,
// once available, its root cause) into a title and a handful of tags.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tarsy-labs/kopsy/pkg/llm"
)

const maxTitleLen = 60

const systemPrompt = `You are an assistant that produces short, scannable titles and tags for Kubernetes incident investigations. Always respond with a single JSON object: {"title": "...", "tags": ["...", "..."]}. The title must be under 60 characters and must not end in punctuation. Tags are lowercase, one or two words each, at most 5 of them. No prose outside the JSON object.`

const prePassTemplate = `Investigation request:
%s

The investigation has not started yet. Produce a working title and any tags you can infer from the request alone.`

const postPassTemplate = `Investigation request:
%s

Root cause / summary:
%s

Produce a final title and tags that reflect what was actually found.`

// Metadata is the {title, tags} pair a pass produces.
type Metadata struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

// Summarizer drives the bounded metadata LLM call. It is intentionally
// stateless: both the pre-pass and post-pass invocations share Generate,
// differing only in prompt and in whether a root cause is available.
type Summarizer struct {
	client llm.Client
	model  string
}

// New builds a Summarizer using client for its (short, low-temperature)
// completions and model as the model identifier to request.
func New(client llm.Client, model string) *Summarizer {
	return &Summarizer{client: client, model: model}
}

// PrePass produces a working title from the user's prompt alone, before
// any investigation work has happened.
func (s *Summarizer) PrePass(ctx context.Context, userPrompt string) (Metadata, error) {
	return s.generate(ctx, fmt.Sprintf(prePassTemplate, userPrompt))
}

// PostPass produces a final title and tags once a root cause / summary is
// known, refining whatever the pre-pass guessed.
func (s *Summarizer) PostPass(ctx context.Context, userPrompt, rootCause string) (Metadata, error) {
	return s.generate(ctx, fmt.Sprintf(postPassTemplate, userPrompt, rootCause))
}

func (s *Summarizer) generate(ctx context.Context, userContent string) (Metadata, error) {
	ch, err := s.client.Generate(ctx, &llm.GenerateInput{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userContent},
		},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("summarizer generate: %w", err)
	}

	var text strings.Builder
	for chunk := range ch {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text.WriteString(c.Content)
		case *llm.ErrorChunk:
			return Metadata{}, fmt.Errorf("summarizer stream: %s", c.Message)
		}
	}

	meta, err := parseMetadata(text.String())
	if err != nil {
		// Fail-open with a truncated-prompt title rather than block the
		// investigation on a cosmetic failure.
		return fallbackMetadata(userContent), nil
	}
	return meta, nil
}

// parseMetadata extracts the {title, tags} JSON object from the model's
// response, tolerating surrounding prose or a fenced code block.
func parseMetadata(raw string) (Metadata, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return Metadata{}, fmt.Errorf("summarizer: no JSON object in response")
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &meta); err != nil {
		return Metadata{}, fmt.Errorf("summarizer: decode metadata: %w", err)
	}
	meta.Title = truncateTitle(meta.Title)
	return meta, nil
}

func truncateTitle(title string) string {
	title = strings.TrimSpace(title)
	if len(title) <= maxTitleLen {
		return title
	}
	return strings.TrimSpace(title[:maxTitleLen])
}

func fallbackMetadata(userContent string) Metadata {
	title := strings.TrimSpace(userContent)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	return Metadata{Title: truncateTitle(title)}
}
