package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/kopsy/pkg/abort"
	"github.com/tarsy-labs/kopsy/pkg/agentrt"
	"github.com/tarsy-labs/kopsy/pkg/approval"
	"github.com/tarsy-labs/kopsy/pkg/llm"
	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/orchestrator"
	"github.com/tarsy-labs/kopsy/pkg/store"
	"github.com/tarsy-labs/kopsy/pkg/stream"
	"github.com/tarsy-labs/kopsy/pkg/summarizer"
	"github.com/tarsy-labs/kopsy/pkg/todo"
	"github.com/tarsy-labs/kopsy/pkg/tools"
)

type testHarness struct {
	sup     *orchestrator.Supervisor
	store   store.EventStore
	mux     *stream.Multiplexer
	signals *abort.Registry
}

func newTestHarness(t *testing.T, agentScript []llm.Turn) *testHarness {
	t.Helper()
	s := store.NewMemoryStore()
	mux := stream.New(s)
	registry := tools.NewRegistry()
	signals := abort.NewRegistry()
	broker := approval.New(mux, signals)

	agentFake := &llm.FakeClient{Script: agentScript}
	runtime := agentrt.New(agentFake, registry, broker, mux, signals)

	board := todo.NewBoard(t.TempDir())
	orchestrator.RegisterTodoTools(registry, board)
	orchestrator.RegisterDirectTools(registry)

	orchestrator.RegisterSpecialists(registry, runtime, s, mux, []orchestrator.SpecialistSpec{
		{ToolName: "log_analysis", AgentName: "log-analysis-specialist", Description: "logs", Model: "claude", MaxTurns: 5},
		{ToolName: "resource_discovery", AgentName: "resource-discovery-specialist", Description: "discovery", Model: "claude", MaxTurns: 5},
		{ToolName: "metrics_analysis", AgentName: "metrics-analysis-specialist", Description: "metrics", Model: "claude", MaxTurns: 5},
	})

	summFake := &llm.FakeClient{Script: []llm.Turn{
		llm.Text(`{"title": "Investigating checkout-api crashes", "tags": ["kubernetes"]}`),
		llm.Text(`{"title": "CrashLoopBackOff from OOM", "tags": ["oom", "kubernetes"]}`),
	}}
	summ := summarizer.New(summFake, "claude")

	sup := orchestrator.New(s, mux, runtime, broker, signals, summ, board, "claude", 10)
	return &testHarness{sup: sup, store: s, mux: mux, signals: signals}
}

func waitForTerminal(t *testing.T, st store.EventStore, taskID string) *models.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := st.ReadTask(context.Background(), taskID)
		require.NoError(t, err)
		if task.Status.IsTerminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for task to reach a terminal status")
	return nil
}

func TestSupervisor_HappyPathDelegatesAndSynthesizesReport(t *testing.T) {
	h := newTestHarness(t, []llm.Turn{
		llm.ToolCallTurn("call-1", "log_analysis", `{"question":"why is checkout-api crashing?"}`),
		llm.Text("checkout-api is OOMKilled repeatedly"),
		llm.Text("## Summary\ncheckout-api was OOMKilled because its memory limit is too low.\n\n## Remediation\nRaise the memory limit to 512Mi and redeploy."),
	})

	req := models.InvestigateRequest{Prompt: "checkout-api pods keep restarting"}
	taskID, traceID, err := h.sup.Prepare(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, traceID)

	ch, unsubscribe := h.mux.Subscribe(taskID)
	defer unsubscribe()

	h.sup.Run(context.Background(), taskID, traceID, req)

	task := waitForTerminal(t, h.store, taskID)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Contains(t, task.Summary, "OOMKilled")
	assert.Contains(t, task.Remediation, "memory limit")
	assert.Equal(t, "CrashLoopBackOff from OOM", task.Title)
	assert.Len(t, task.SubTasks, 1)
	assert.Equal(t, models.SubTaskCompleted, task.SubTasks[0].Status)

	var kinds []models.EventKind
	for {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
			if ev.Kind == models.EventKindDone {
				goto drained
			}
		case <-time.After(time.Second):
			t.Fatal("timed out draining events")
		}
	}
drained:
	assert.Contains(t, kinds, models.EventKindTraceStarted)
	assert.Contains(t, kinds, models.EventKindSubtaskAdded)
	assert.Contains(t, kinds, models.EventKindInvestigationCompleted)
	assert.Equal(t, models.EventKindDone, kinds[len(kinds)-1])
}

func TestSupervisor_AbortDuringRunCancelsInvestigation(t *testing.T) {
	h := newTestHarness(t, []llm.Turn{llm.Text("should not be reached")})

	req := models.InvestigateRequest{Prompt: "investigate something"}
	taskID, traceID, err := h.sup.Prepare(context.Background(), req)
	require.NoError(t, err)

	require.True(t, h.signals.Fire(traceID))

	h.sup.Run(context.Background(), taskID, traceID, req)

	task := waitForTerminal(t, h.store, taskID)
	assert.Equal(t, models.TaskStatusCancelled, task.Status)
}
