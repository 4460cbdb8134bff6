package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-labs/kopsy/pkg/models"
)

// setSSEHeaders configures the response for a Server-Sent Events stream
// (spec.md §4.8: "frames of `data: <json>`" is the fixed wire format).
func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// writeEvent marshals event and writes it as one SSE frame, flushing
// immediately so the client sees it without buffering delay.
func writeEvent(c *gin.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// handleInvestigate implements POST /investigate: creates the task,
// subscribes to its event stream before the investigation starts (so no
// event races ahead of this handler's own subscription), spawns the
// supervisor run in the background, and streams every event it produces
// as SSE frames until `done`.
func (s *Server) handleInvestigate(c *gin.Context) {
	var req models.InvestigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID, traceID, err := s.sup.Prepare(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.rememberTrace(taskID, traceID)

	ch, unsubscribe := s.mux.Subscribe(taskID)
	defer unsubscribe()

	go s.runInvestigation(taskID, traceID, req)

	setSSEHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	streamLive(c, taskID, ch, 0)
}

// handleEventStream implements GET /investigate/{task_id}/event: replays
// persisted events after ?after=<step_index> (default 0), then attaches
// to the live channel if the task is still processing.
func (s *Server) handleEventStream(c *gin.Context) {
	taskID := c.Param("task_id")
	after := 0
	if v := c.Query("after"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &after); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be an integer step index"})
			return
		}
	}

	task, err := s.store.ReadTask(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	// Subscribe before reading the replay window. If the read happened
	// first, any event the multiplexer persists-and-publishes between
	// that read and this subscribe would land in neither the replay nor
	// the live tail — a hole in the reconnected stream. Subscribing first
	// means the live channel catches anything in that window; duplicates
	// against the replay are dropped below by step_index.
	var ch <-chan models.Event
	var unsubscribe func()
	if !task.Status.IsTerminal() {
		ch, unsubscribe = s.mux.Subscribe(taskID)
		defer unsubscribe()
	}

	events, err := s.store.ReadEventsSince(c.Request.Context(), taskID, after)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	setSSEHeaders(c)
	c.Status(http.StatusOK)

	lastReplayed := after
	for _, ev := range events {
		if err := writeEvent(c, ev); err != nil {
			logStreamWriteError(taskID, err)
			return
		}
		lastReplayed = ev.StepIndex
	}
	c.Writer.Flush()

	if task.Status.IsTerminal() {
		return
	}

	streamLive(c, taskID, ch, lastReplayed)
}

// streamLive drains ch, writing each event as an SSE frame, until the
// client disconnects or a `done` event is observed. Events whose
// step_index is at or before after are dropped: they were already
// written during replay, or subscribed to but raced ahead of it, and
// either way the client has already seen them.
func streamLive(c *gin.Context, taskID string, ch <-chan models.Event, after int) {
	clientGone := c.Request.Context().Done()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.StepIndex <= after {
				continue
			}
			if err := writeEvent(c, ev); err != nil {
				logStreamWriteError(taskID, err)
				return
			}
			if ev.Kind == models.EventKindDone {
				return
			}
		case <-clientGone:
			return
		}
	}
}
