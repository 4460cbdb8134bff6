// Package api implements C8, the SSE Gateway: the HTTP surface that
// starts investigations, streams their event timelines as Server-Sent
// Events, and accepts abort/approval decisions from the client.
package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-labs/kopsy/pkg/abort"
	"github.com/tarsy-labs/kopsy/pkg/approval"
	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/notify"
	"github.com/tarsy-labs/kopsy/pkg/orchestrator"
	"github.com/tarsy-labs/kopsy/pkg/store"
	"github.com/tarsy-labs/kopsy/pkg/stream"
)

// Server is the process-wide C8 instance.
type Server struct {
	store   store.EventStore
	mux     *stream.Multiplexer
	sup     *orchestrator.Supervisor
	broker  *approval.Broker
	signals *abort.Registry
	notify  *notify.Service

	tracesMu sync.Mutex
	// traces maps task_id -> trace_id for in-flight investigations. Per
	// spec.md §9's design note, the trace_id registry is process-lifetime
	// state that legitimately lives at the HTTP boundary rather than
	// threaded through every component; a task's entry is removed once its
	// investigation reaches done.
	traces map[string]string
}

// NewServer builds the gateway. notifier may be nil (Slack disabled).
func NewServer(st store.EventStore, mux *stream.Multiplexer, sup *orchestrator.Supervisor, broker *approval.Broker, signals *abort.Registry, notifier *notify.Service) *Server {
	return &Server{
		store:   st,
		mux:     mux,
		sup:     sup,
		broker:  broker,
		signals: signals,
		notify:  notifier,
		traces:  make(map[string]string),
	}
}

// RegisterRoutes wires every C8 endpoint onto router (spec.md §4.8).
func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", s.handleHealth)
	router.POST("/investigate", s.handleInvestigate)
	router.GET("/investigate/:task_id/event", s.handleEventStream)
	router.POST("/investigate/:task_id/abort", s.handleAbort)
	router.POST("/investigate/:task_id/approval", s.handleApproval)
	router.GET("/investigate/:task_id", s.handleGetTask)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) traceFor(taskID string) (string, bool) {
	s.tracesMu.Lock()
	defer s.tracesMu.Unlock()
	traceID, ok := s.traces[taskID]
	return traceID, ok
}

func (s *Server) rememberTrace(taskID, traceID string) {
	s.tracesMu.Lock()
	s.traces[taskID] = traceID
	s.tracesMu.Unlock()
}

func (s *Server) forgetTrace(taskID string) {
	s.tracesMu.Lock()
	delete(s.traces, taskID)
	s.tracesMu.Unlock()
}

// runInvestigation drives Run to completion in the background (detached
// from the originating request's context, since the SSE handler for
// POST /investigate may have already disconnected by the time the
// investigation actually finishes) and cleans up the trace registry and
// optional Slack watcher once done.
func (s *Server) runInvestigation(taskID, traceID string, req models.InvestigateRequest) {
	defer s.forgetTrace(taskID)

	var wg sync.WaitGroup
	if s.notify != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.notify.Watch(context.Background(), s.mux, s.store, taskID)
		}()
	}

	s.sup.Run(context.Background(), taskID, traceID, req)
	wg.Wait()

	// The investigation is terminal and every subscriber this function
	// spawned has drained, so the per-task step counter and subscriber map
	// can go. Reconnecting SSE clients read the terminal state straight
	// from the store; nothing needs the in-memory state anymore.
	s.mux.Forget(taskID)
}

func logStreamWriteError(taskID string, err error) {
	if err != nil {
		slog.Warn("sse write failed, client likely disconnected", "task_id", taskID, "error", err)
	}
}
