// Package notify implements the Slack notification sink: a subscriber of
// the Stream Multiplexer (C7) that posts a terminal-status message once
// an investigation reaches investigation_completed or fails.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/tarsy-labs/kopsy/pkg/models"
	"github.com/tarsy-labs/kopsy/pkg/store"
	"github.com/tarsy-labs/kopsy/pkg/stream"
)

// terminalPollInterval bounds how long Watch can be stuck behind a
// dropped `done` frame: the subscriber channel mux hands out is bounded
// (pkg/stream/multiplexer.go's subscriberBufferSize) and events are
// dropped, not blocked, when it's full, so a burst that drops the one
// `done` frame Watch cares about would otherwise leave it (and the
// WaitGroup its caller waits on) parked forever.
var terminalPollInterval = 5 * time.Second

// TerminalPollIntervalForTest and SetTerminalPollIntervalForTest let tests
// shrink the poll fallback's interval instead of waiting out the real one.
func TerminalPollIntervalForTest() time.Duration     { return terminalPollInterval }
func SetTerminalPollIntervalForTest(d time.Duration) { terminalPollInterval = d }

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service posts investigation results to a Slack channel. Nil-safe: every
// method is a no-op when the receiver is nil, so callers can wire
// notify.NewService(cfg) straight into the supervisor's startup path
// without an extra "if slack enabled" branch at every call site.
type Service struct {
	api          *goslack.Client
	channel      string
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a Service, or returns nil if Token or Channel is
// empty (Slack notifications are an optional feature, spec.md's
// FeatureFlags.SlackEnabled).
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		api:          goslack.New(cfg.Token),
		channel:      cfg.Channel,
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify"),
	}
}

// Watch subscribes to taskID's event stream and posts a Slack
// notification once the investigation reaches a terminal state. It
// returns as soon as any of three things happens, whichever comes
// first: the stream emits `done` live, a periodic poll of the task's
// stored status finds it already terminal (the fallback for a dropped
// `done` frame), or ctx is cancelled. Callers run it in its own
// goroutine alongside the SSE subscriber for the same task.
func (s *Service) Watch(ctx context.Context, mux *stream.Multiplexer, st store.EventStore, taskID string) {
	if s == nil {
		return
	}

	ch, unsubscribe := mux.Subscribe(taskID)
	defer unsubscribe()

	poll := time.NewTicker(terminalPollInterval)
	defer poll.Stop()

	var lastError *models.ErrorPayload
	var completed bool

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Kind {
			case models.EventKindInvestigationCompleted:
				if payload, ok := ev.Payload.(models.InvestigationCompletedPayload); ok {
					completed = true
					s.postCompleted(ctx, taskID, payload)
				}
			case models.EventKindError:
				if payload, ok := ev.Payload.(models.ErrorPayload); ok {
					lastError = &payload
				}
			case models.EventKindDone:
				if !completed && lastError != nil {
					s.postFailed(ctx, taskID, *lastError)
				}
				return
			}
		case <-poll.C:
			task, err := st.ReadTask(ctx, taskID)
			if err != nil || !task.Status.IsTerminal() {
				continue
			}
			if !completed {
				s.postFromTask(ctx, taskID, task)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// postFromTask is the fallback path when the live `done` frame was
// dropped: it builds a notification straight from the task's persisted
// status/summary rather than from the timeline, since events re-read
// from the store decode into generic maps, not the original typed
// payloads (pkg/store/postgres.go JSON round trip).
func (s *Service) postFromTask(ctx context.Context, taskID string, task *models.Task) {
	if task.Status == models.TaskStatusCompleted {
		s.postCompleted(ctx, taskID, models.InvestigationCompletedPayload{
			Summary:     task.Summary,
			Remediation: task.Remediation,
			Title:       task.Title,
			Tags:        task.Tags,
		})
		return
	}
	s.postFailed(ctx, taskID, models.ErrorPayload{
		ErrorKind: models.ErrorKindStoreError,
		Message:   fmt.Sprintf("investigation ended with status %q; the terminal event was not observed live", task.Status),
	})
}

func (s *Service) postCompleted(ctx context.Context, taskID string, payload models.InvestigationCompletedPayload) {
	blocks := BuildCompletedMessage(taskID, payload, s.dashboardURL)
	s.post(ctx, blocks)
}

func (s *Service) postFailed(ctx context.Context, taskID string, payload models.ErrorPayload) {
	blocks := BuildFailedMessage(taskID, payload, s.dashboardURL)
	s.post(ctx, blocks)
}

func (s *Service) post(ctx context.Context, blocks []goslack.Block) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, _, err := s.api.PostMessageContext(ctx, s.channel, goslack.MsgOptionBlocks(blocks...)); err != nil {
		s.logger.Error("failed to post Slack notification", "channel", s.channel, "error", err)
	}
}
