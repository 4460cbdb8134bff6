// Package approval implements C3, the Approval Broker: gates gated tool
// calls behind a user decision delivered asynchronously from the SSE
// gateway, while auto tools and session-memoized tools execute
// immediately.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tarsy-labs/kopsy/pkg/abort"
	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/stream"
	"github.com/tarsy-labs/kopsy/pkg/tools"
)

// ErrCancelled is returned by Gate when the trace's abort signal fires
// while a call is pending approval.
var ErrCancelled = errors.New("approval: cancelled")

// ErrRejected is returned by Gate when the user rejects the call. The
// caller (pkg/agentrt) is expected to feed a synthetic "user rejected
// execution" tool response back to the model rather than treat this as
// fatal.
var ErrRejected = errors.New("approval: rejected by user")

// Outcome reports what Gate decided for one call.
type Outcome struct {
	// Proceed is true if the call should be invoked.
	Proceed bool
	// UserNote carries the optional note the user attached to reject/approve.
	UserNote string
}

// traceState is the per-trace session memoization set plus the pending
// approvals currently awaiting a decision.
type traceState struct {
	mu              sync.Mutex
	sessionApproved map[string]bool
	pending         map[string]chan decisionMsg
}

type decisionMsg struct {
	kind models.ApprovalDecisionKind
	note string
}

// Broker is the process-wide C3 instance.
type Broker struct {
	emit    stream.Emitter
	signals *abort.Registry

	mu     sync.Mutex
	traces map[string]*traceState
}

// New builds a Broker that emits lifecycle events through emit and
// observes cancellation through signals.
func New(emit stream.Emitter, signals *abort.Registry) *Broker {
	return &Broker{emit: emit, signals: signals, traces: make(map[string]*traceState)}
}

// Forget drops per-trace state once an investigation reaches done/abort.
func (b *Broker) Forget(traceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.traces, traceID)
}

func (b *Broker) stateFor(traceID string) *traceState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.traces[traceID]
	if !ok {
		ts = &traceState{sessionApproved: make(map[string]bool), pending: make(map[string]chan decisionMsg)}
		b.traces[traceID] = ts
	}
	return ts
}

// Gate runs the full approval decision tree for one tool call and emits
// the lifecycle events (tool_call_requested always; tool_call_approved /
// tool_call_rejected only when an explicit decision was made). It blocks
// until the call may proceed, is rejected, or the trace's abort signal
// fires.
func (b *Broker) Gate(ctx context.Context, taskID, traceID, callID, toolName string, arguments map[string]any, title string, safety tools.SafetyClass) (Outcome, error) {
	ts := b.stateFor(traceID)

	ts.mu.Lock()
	memoized := ts.sessionApproved[toolName]
	ts.mu.Unlock()

	needsApproval := safety == tools.SafetyGated && !memoized

	if _, err := b.emit.Emit(ctx, taskID, models.EventKindToolCallRequested, models.ToolCallRequestedPayload{
		CallID:           callID,
		ToolName:         toolName,
		Arguments:        arguments,
		Title:            title,
		ApprovalRequired: needsApproval,
	}); err != nil {
		return Outcome{}, fmt.Errorf("emit tool_call_requested: %w", err)
	}

	if !needsApproval {
		return Outcome{Proceed: true}, nil
	}

	decisionCh := make(chan decisionMsg, 1)
	ts.mu.Lock()
	ts.pending[callID] = decisionCh
	ts.mu.Unlock()
	defer func() {
		ts.mu.Lock()
		delete(ts.pending, callID)
		ts.mu.Unlock()
	}()

	signal := b.signals.Get(traceID)
	var doneCh <-chan struct{}
	if signal != nil {
		doneCh = signal.Done()
	}

	select {
	case decision := <-decisionCh:
		return b.applyDecision(ctx, taskID, traceID, callID, toolName, decision)
	case <-doneCh:
		return Outcome{}, ErrCancelled
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (b *Broker) applyDecision(ctx context.Context, taskID, traceID, callID, toolName string, decision decisionMsg) (Outcome, error) {
	switch decision.kind {
	case models.DecisionApprove, models.DecisionApproveForSession:
		if decision.kind == models.DecisionApproveForSession {
			ts := b.stateFor(traceID)
			ts.mu.Lock()
			ts.sessionApproved[toolName] = true
			ts.mu.Unlock()
		}
		if _, err := b.emit.Emit(ctx, taskID, models.EventKindToolCallApproved, models.ToolCallApprovedPayload{
			CallID: callID, UserNote: decision.note,
		}); err != nil {
			return Outcome{}, fmt.Errorf("emit tool_call_approved: %w", err)
		}
		return Outcome{Proceed: true, UserNote: decision.note}, nil

	case models.DecisionReject:
		if _, err := b.emit.Emit(ctx, taskID, models.EventKindToolCallRejected, models.ToolCallRejectedPayload{
			CallID: callID, UserNote: decision.note,
		}); err != nil {
			return Outcome{}, fmt.Errorf("emit tool_call_rejected: %w", err)
		}
		return Outcome{Proceed: false, UserNote: decision.note}, ErrRejected

	default:
		return Outcome{}, fmt.Errorf("approval: unknown decision kind %q", decision.kind)
	}
}

// Decide delivers a user decision for a pending call. Returns false if no
// call with that call_id is currently pending on this trace (it may have
// already been decided, timed out, or the trace may be unknown) so the
// HTTP handler can return 404/409 appropriately.
func (b *Broker) Decide(traceID string, req models.ApprovalRequest) bool {
	b.mu.Lock()
	ts, ok := b.traces[traceID]
	b.mu.Unlock()
	if !ok {
		return false
	}

	ts.mu.Lock()
	ch, ok := ts.pending[req.CallID]
	ts.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- decisionMsg{kind: req.Decision, note: req.Note}:
		return true
	default:
		// Already delivered (racing abort or a second POST); treat as not found.
		return false
	}
}
