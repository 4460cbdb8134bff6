package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/kopsy/pkg/abort"
	"github.com/tarsy-labs/kopsy/pkg/agentrt"
	"github.com/tarsy-labs/kopsy/pkg/api"
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

// harness wires a full, in-memory stack (mirroring
// pkg/orchestrator's own test harness) behind a real *httptest.Server, so
// these tests exercise the gateway the way a real client would: over
// HTTP, reading SSE frames off the wire.
type harness struct {
	ts  *httptest.Server
	sup *orchestrator.Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	mux := stream.New(st)
	registry := tools.NewRegistry()
	signals := abort.NewRegistry()
	broker := approval.New(mux, signals)

	agentFake := &llm.FakeClient{Script: []llm.Turn{
		llm.Text("## Summary\nPod is fine.\n\n## Remediation\nNo action needed."),
	}}
	runtime := agentrt.New(agentFake, registry, broker, mux, signals)

	board := todo.NewBoard(t.TempDir())
	orchestrator.RegisterTodoTools(registry, board)
	orchestrator.RegisterDirectTools(registry)

	summFake := &llm.FakeClient{Script: []llm.Turn{
		llm.Text(`{"title": "Routine check", "tags": []}`),
		llm.Text(`{"title": "All clear", "tags": []}`),
	}}
	summ := summarizer.New(summFake, "claude")

	sup := orchestrator.New(st, mux, runtime, broker, signals, summ, board, "claude", 10)
	server := api.NewServer(st, mux, sup, broker, signals, nil)

	router := gin.New()
	server.RegisterRoutes(router)
	return &harness{ts: httptest.NewServer(router), sup: sup}
}

// readSSE posts body to /investigate and collects every event kind seen
// on the wire until `done`, with a hard deadline so a stuck handler fails
// the test instead of hanging the suite.
func readSSE(t *testing.T, ts *httptest.Server, body []byte) []models.Event {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/investigate", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []models.Event
	scanner := bufio.NewScanner(resp.Body)
	deadline := time.Now().Add(5 * time.Second)
	for scanner.Scan() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for done event")
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
		if ev.Kind == models.EventKindDone {
			break
		}
	}
	return events
}

func TestHandleInvestigate_StreamsEventsToDone(t *testing.T) {
	h := newHarness(t)
	defer h.ts.Close()

	body, _ := json.Marshal(models.InvestigateRequest{Prompt: "is the pod healthy?"})
	events := readSSE(t, h.ts, body)

	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, string(ev.Kind))
	}
	require.Contains(t, kinds, string(models.EventKindTraceStarted))
	require.Contains(t, kinds, string(models.EventKindInvestigationCompleted))
	require.Equal(t, string(models.EventKindDone), kinds[len(kinds)-1])
}

func TestHandleInvestigate_RejectsMissingPrompt(t *testing.T) {
	h := newHarness(t)
	defer h.ts.Close()

	resp, err := http.Post(h.ts.URL+"/investigate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleAbort_UnknownTaskReturns404(t *testing.T) {
	h := newHarness(t)
	defer h.ts.Close()

	resp, err := http.Post(h.ts.URL+"/investigate/does-not-exist/abort", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleApproval_UnknownTaskReturns404(t *testing.T) {
	h := newHarness(t)
	defer h.ts.Close()

	body, _ := json.Marshal(models.ApprovalRequest{CallID: "call-1", Decision: models.DecisionApprove})
	resp, err := http.Post(h.ts.URL+"/investigate/does-not-exist/approval", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleGetTask_UnknownTaskReturns404(t *testing.T) {
	h := newHarness(t)
	defer h.ts.Close()

	resp, err := http.Get(h.ts.URL + "/investigate/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleEventStream_ReplaysPersistedEvents(t *testing.T) {
	h := newHarness(t)
	defer h.ts.Close()

	// Drive one investigation to completion directly through the
	// supervisor so the task's task_id is known up front, without
	// depending on the gateway echoing it anywhere in the SSE frames.
	ctx := context.Background()
	req := models.InvestigateRequest{Prompt: "check disk usage"}
	taskID, traceID, err := h.sup.Prepare(ctx, req)
	require.NoError(t, err)
	h.sup.Run(ctx, taskID, traceID, req)

	resp, err := http.Get(h.ts.URL + "/investigate/" + taskID + "/event?after=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var kinds []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		kinds = append(kinds, string(ev.Kind))
		if ev.Kind == models.EventKindDone {
			break
		}
	}
	require.Contains(t, kinds, string(models.EventKindInvestigationCompleted))
	require.Equal(t, string(models.EventKindDone), kinds[len(kinds)-1])

	taskResp, err := http.Get(h.ts.URL + "/investigate/" + taskID)
	require.NoError(t, err)
	defer taskResp.Body.Close()
	require.Equal(t, http.StatusOK, taskResp.StatusCode)
}
