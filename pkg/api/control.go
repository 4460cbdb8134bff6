package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/store"
)

// handleAbort implements POST /investigate/{task_id}/abort: fires the
// trace's abort signal and returns immediately (spec.md §4.8 — the
// resulting `error(cancelled)` and `done` arrive asynchronously on the
// live stream).
func (s *Server) handleAbort(c *gin.Context) {
	taskID := c.Param("task_id")
	traceID, ok := s.traceFor(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task is not in-flight on this process"})
		return
	}

	if !s.signals.Fire(traceID) {
		c.JSON(http.StatusConflict, gin.H{"error": "investigation already finished"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "aborting"})
}

// handleApproval implements POST /investigate/{task_id}/approval.
func (s *Server) handleApproval(c *gin.Context) {
	taskID := c.Param("task_id")
	traceID, ok := s.traceFor(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task is not in-flight on this process"})
		return
	}

	var req models.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Decision {
	case models.DecisionApprove, models.DecisionApproveForSession, models.DecisionReject:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be approve, approve_for_session, or reject"})
		return
	}

	if !s.broker.Decide(traceID, req) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending call with that call_id"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "delivered"})
}

// handleGetTask implements GET /investigate/{task_id}: returns the full
// Task record (status, events, subtasks, summary, remediation).
func (s *Server) handleGetTask(c *gin.Context) {
	taskID := c.Param("task_id")

	task, err := s.store.ReadTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskMissing) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}
