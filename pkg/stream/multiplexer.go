// Package stream implements C7, the Stream Multiplexer: the single
// serialization point through which every component emits events. It
// assigns dense per-task step indices, persists each event via the Event
// Store, and fans it out to that task's live subscribers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/store"
)

// subscriberBufferSize bounds each subscriber channel. A slow subscriber
// that falls behind has events dropped rather than blocking the producer;
// the replay path (read_events_since) recovers it on reconnect.
const subscriberBufferSize = 64

// Emitter is the narrow surface the rest of the system depends on, kept
// separate from *Multiplexer so pkg/agentrt, pkg/approval, and
// pkg/orchestrator don't need to import pkg/store directly and risk an
// import cycle.
type Emitter interface {
	Emit(ctx context.Context, taskID string, kind models.EventKind, payload any) (models.Event, error)
}

// taskState holds the per-task step counter and subscriber set.
type taskState struct {
	mu          sync.Mutex
	nextStep    int
	subscribers map[int]chan models.Event
	nextSubID   int
}

// Multiplexer is the process-wide C7 instance, shared by every in-flight
// investigation.
type Multiplexer struct {
	store store.EventStore

	mu    sync.Mutex
	tasks map[string]*taskState
}

// New builds a Multiplexer backed by the given Event Store.
func New(eventStore store.EventStore) *Multiplexer {
	return &Multiplexer{store: eventStore, tasks: make(map[string]*taskState)}
}

// Emit assigns the next step_index for taskID, persists the event, and
// publishes it to live subscribers. A store write failure is returned to
// the caller but does not stop the stream — per spec.md §4.1, callers
// (the supervisor's error handling) are expected to surface it as an
// `error` event and keep running best-effort.
func (m *Multiplexer) Emit(ctx context.Context, taskID string, kind models.EventKind, payload any) (models.Event, error) {
	ts, err := m.stateFor(ctx, taskID)
	if err != nil {
		return models.Event{}, err
	}

	ts.mu.Lock()
	step := ts.nextStep
	ts.nextStep++
	ts.mu.Unlock()

	event := models.Event{
		StepIndex: step,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	if err := m.store.AppendEvent(ctx, taskID, event); err != nil && !errors.Is(err, store.ErrDuplicateStep) {
		return event, fmt.Errorf("persist event: %w", err)
	}

	m.publish(ts, event)
	return event, nil
}

// stateFor returns the in-memory counter state for taskID, initializing
// it from the persisted tail on first use (reconciling the in-memory
// counter with the store, per spec.md §4.7).
func (m *Multiplexer) stateFor(ctx context.Context, taskID string) (*taskState, error) {
	m.mu.Lock()
	ts, ok := m.tasks[taskID]
	m.mu.Unlock()
	if ok {
		return ts, nil
	}

	existing, err := m.store.ReadEventsSince(ctx, taskID, -1)
	if err != nil && !errors.Is(err, store.ErrTaskMissing) {
		return nil, fmt.Errorf("read event tail: %w", err)
	}

	ts = &taskState{nextStep: len(existing), subscribers: make(map[int]chan models.Event)}

	m.mu.Lock()
	if prior, ok := m.tasks[taskID]; ok {
		ts = prior
	} else {
		m.tasks[taskID] = ts
	}
	m.mu.Unlock()

	return ts, nil
}

func (m *Multiplexer) publish(ts *taskState, event models.Event) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, ch := range ts.subscribers {
		select {
		case ch <- event:
		default:
			// Drop: subscriber is behind. Reconnect replay covers it.
		}
	}
}

// Subscribe attaches a live-tail channel for taskID. Callers must call
// the returned unsubscribe function when done to release the channel.
func (m *Multiplexer) Subscribe(taskID string) (<-chan models.Event, func()) {
	m.mu.Lock()
	ts, ok := m.tasks[taskID]
	if !ok {
		ts = &taskState{subscribers: make(map[int]chan models.Event)}
		m.tasks[taskID] = ts
	}
	m.mu.Unlock()

	ch := make(chan models.Event, subscriberBufferSize)

	ts.mu.Lock()
	id := ts.nextSubID
	ts.nextSubID++
	ts.subscribers[id] = ch
	ts.mu.Unlock()

	unsubscribe := func() {
		ts.mu.Lock()
		delete(ts.subscribers, id)
		ts.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// Forget drops the in-memory counter/subscriber state for taskID. Called
// once the task reaches a terminal state and all subscribers have
// disconnected, so long-lived processes don't accumulate finished tasks.
func (m *Multiplexer) Forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
}
