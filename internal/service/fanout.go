package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// Notifier is the subset of notify.Notifier the services use.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Fanout delivers committed events to the event bus and operator
// notifications. Failures are logged and never fail the operation.
type Fanout struct {
	publisher domain.EventPublisher
	notifier  Notifier
	logger    *slog.Logger
}

// NewFanout creates a Fanout. Either sink may be nil.
func NewFanout(publisher domain.EventPublisher, notifier Notifier, logger *slog.Logger) *Fanout {
	return &Fanout{
		publisher: publisher,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "fanout")),
	}
}

// Publish forwards events that have already been committed.
func (f *Fanout) Publish(ctx context.Context, events []domain.Event) {
	if f == nil || len(events) == 0 {
		return
	}

	if f.publisher != nil {
		if err := f.publisher.PublishEvents(ctx, events); err != nil {
			f.logger.WarnContext(ctx, "publish events failed",
				slog.Int("count", len(events)),
				slog.String("error", err.Error()),
			)
		}
	}

	if f.notifier == nil {
		return
	}
	for _, e := range events {
		title, message, ok := describeEvent(e)
		if !ok {
			continue
		}
		if err := f.notifier.Notify(ctx, string(e.Type), title, message); err != nil {
			f.logger.WarnContext(ctx, "notify failed",
				slog.String("event", string(e.Type)),
				slog.String("position_id", e.PositionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// describeEvent renders the operator-facing message for notable events.
func describeEvent(e domain.Event) (title, message string, ok bool) {
	amount := "0"
	if e.Amount != nil {
		amount = domain.FormatAmount(*e.Amount)
	}
	switch e.Type {
	case domain.EventRewardClaimed:
		return "Reward claimed",
			fmt.Sprintf("Position %s (owner %s) claimed %s", e.PositionID, e.Owner, amount), true
	case domain.EventPositionCompleted:
		return "Position matured",
			fmt.Sprintf("Position %s (owner %s) reached maturity", e.PositionID, e.Owner), true
	case domain.EventPositionWithdrawn, domain.EventPositionCancelled:
		return "Position closed",
			fmt.Sprintf("Position %s (owner %s) %s: principal %s, penalty %v",
				e.PositionID, e.Owner, e.Type, amount, e.Details["penalty"]), true
	default:
		return "", "", false
	}
}

// eventLog appends events inside a unit of work and remembers them so they
// can be fanned out after commit.
type eventLog struct {
	events []domain.Event
}

func (l *eventLog) append(ctx context.Context, tx domain.StakingTx, e domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := tx.InsertEvent(ctx, e); err != nil {
		return err
	}
	l.events = append(l.events, e)
	return nil
}
