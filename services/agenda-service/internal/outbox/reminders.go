package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

// ReminderEvents writes reminder dispatch outcomes to the outbox for
// downstream consumers. Insert failures are logged and dropped; the
// delivery itself has already been recorded on the reminder row.
type ReminderEvents struct {
	repo   *Repository
	logger *slog.Logger
}

func NewReminderEvents(repo *Repository, logger *slog.Logger) *ReminderEvents {
	return &ReminderEvents{repo: repo, logger: logger}
}

func (e *ReminderEvents) ReminderSent(ctx context.Context, rem *model.Reminder) {
	e.emit(ctx, EventReminderSent, rem)
}

func (e *ReminderEvents) ReminderFailed(ctx context.Context, rem *model.Reminder) {
	e.emit(ctx, EventReminderFailed, rem)
}

func (e *ReminderEvents) emit(ctx context.Context, eventType string, rem *model.Reminder) {
	payload, err := json.Marshal(map[string]any{
		"reminder_id":    rem.ID,
		"appointment_id": rem.AppointmentID,
		"reminder_type":  string(rem.Type),
		"recipient_id":   rem.RecipientID,
		"scheduled_for":  rem.ScheduledFor.UTC().Format(time.RFC3339),
		"attempts":       rem.Attempts,
	})
	if err != nil {
		e.logger.Error("reminder event payload marshal failed", "reminder_id", rem.ID, "err", err)
		return
	}
	if err := e.repo.Insert(ctx, Event{
		AggregateType: "reminder",
		AggregateID:   rem.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		e.logger.Error("reminder event insert failed", "reminder_id", rem.ID, "event_type", eventType, "err", err)
	}
}
