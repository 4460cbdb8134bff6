package summarizer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/kopsy/pkg/llm"
	"github.com/tarsy-labs/kopsy/pkg/summarizer"
)

func TestSummarizer_PrePassParsesJSONResponse(t *testing.T) {
	fake := &llm.FakeClient{Script: []llm.Turn{
		llm.Text(`{"title": "CrashLoopBackOff in checkout-api", "tags": ["kubernetes", "crash"]}`),
	}}
	s := summarizer.New(fake, "claude")

	meta, err := s.PrePass(context.Background(), "checkout-api pods keep restarting")
	require.NoError(t, err)
	assert.Equal(t, "CrashLoopBackOff in checkout-api", meta.Title)
	assert.Equal(t, []string{"kubernetes", "crash"}, meta.Tags)
}

func TestSummarizer_PostPassToleratesFencedJSON(t *testing.T) {
	fake := &llm.FakeClient{Script: []llm.Turn{
		llm.Text("```json\n{\"title\": \"OOMKilled due to missing memory limit\", \"tags\": [\"oom\"]}\n```"),
	}}
	s := summarizer.New(fake, "claude")

	meta, err := s.PostPass(context.Background(), "pods failing", "container exceeded memory limit")
	require.NoError(t, err)
	assert.Equal(t, "OOMKilled due to missing memory limit", meta.Title)
}

func TestSummarizer_TruncatesOverlongTitle(t *testing.T) {
	long := `{"title": "This title is deliberately written to be far longer than sixty characters so it gets truncated", "tags": []}`
	fake := &llm.FakeClient{Script: []llm.Turn{llm.Text(long)}}
	s := summarizer.New(fake, "claude")

	meta, err := s.PrePass(context.Background(), "investigate")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(meta.Title), 60)
}

func TestSummarizer_UnparsableResponseFallsBackRatherThanErrors(t *testing.T) {
	fake := &llm.FakeClient{Script: []llm.Turn{llm.Text("not json at all")}}
	s := summarizer.New(fake, "claude")

	meta, err := s.PrePass(context.Background(), "pods are crashing\nmore detail")
	require.NoError(t, err)
	assert.Equal(t, "pods are crashing", meta.Title)
}
