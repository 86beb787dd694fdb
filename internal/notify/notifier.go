// Package notify delivers operator alerts for staking events to chat
// channels. Each Notify call fans out to every registered Sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultEvents are the event types forwarded when none are configured.
var DefaultEvents = []string{
	"REWARD_CLAIMED",
	"POSITION_COMPLETED",
	"POSITION_WITHDRAWN",
	"POSITION_CANCELLED",
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to its Senders, dropping event types
// outside the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events slice allows DefaultEvents;
// a single "*" allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		e = strings.ToUpper(strings.TrimSpace(e))
		if e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is registered.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Allows reports whether event passes the filter.
func (n *Notifier) Allows(event string) bool {
	return n.events["*"] || n.events[event]
}

// Notify sends title and message to every sender if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allows(event) {
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
			n.logger.WarnContext(ctx, "sender failed",
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
