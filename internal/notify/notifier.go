// Package notify delivers simulation lifecycle alerts to chat webhooks.
// Events are filtered by type so operators receive only what they asked
// for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
)

// Event types.
const (
	EventSimulationStarted = "simulation_started"
	EventSimulationPaused  = "simulation_paused"
	EventSimulationStopped = "simulation_stopped"
	EventSimulationError   = "simulation_error"
)

const sendTimeout = 15 * time.Second

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans notifications out to its senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotifier forwards only the listed event types. An empty list allows
// every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// FromConfig builds a Notifier with a sender per configured channel. It
// returns nil when no channel is configured.
func FromConfig(c config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if c.TelegramToken != "" && c.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(c.TelegramToken, c.TelegramChatID))
	}
	if c.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(c.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return NewNotifier(senders, c.Events, logger)
}

// Allowed reports whether event passes the filter.
func (n *Notifier) Allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers to every sender if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allowed(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// StateHook returns a simulator state-change hook for runID. Deliveries run
// in the background; Wait blocks until they finish.
func (n *Notifier) StateHook(runID string) func(from, to domain.SimulationState, err error) {
	return func(from, to domain.SimulationState, err error) {
		event, title, ok := stateEvent(to)
		if !ok || !n.Allowed(event) {
			return
		}
		msg := fmt.Sprintf("run %s: %s -> %s", runID, from, to)
		if err != nil {
			msg += "\n" + err.Error()
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			_ = n.Notify(ctx, event, title, msg)
		}()
	}
}

// Wait blocks until background deliveries have finished.
func (n *Notifier) Wait() { n.wg.Wait() }

func stateEvent(to domain.SimulationState) (event, title string, ok bool) {
	switch to {
	case domain.StateRunning:
		return EventSimulationStarted, "Simulation running", true
	case domain.StatePaused:
		return EventSimulationPaused, "Simulation paused", true
	case domain.StateStopped:
		return EventSimulationStopped, "Simulation stopped", true
	case domain.StateError:
		return EventSimulationError, "Simulation failed", true
	default:
		return "", "", false
	}
}
