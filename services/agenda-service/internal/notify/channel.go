package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

// Payload carries the appointment data a notification is rendered from.
// Markup is the channel's concern; this layer only decides what is sent
// and to whom.
type Payload struct {
	AppointmentID string
	ProviderName  string
	RequesterName string
	StartTime     time.Time
	EndTime       time.Time
	Modality      model.Modality
	VideoLink     string
	CustomMessage string
}

// Delivery reports a successful send.
type Delivery struct {
	ChannelMessageID string
}

// Channel delivers one notification. Implementations are black boxes; a
// returned error means the message did not go out.
type Channel interface {
	Send(ctx context.Context, recipientEmail string, kind model.ReminderType, p Payload) (Delivery, error)
}

// NoopChannel logs instead of delivering. Used in dev environments
// without an SMTP relay.
type NoopChannel struct {
	Logger *slog.Logger
}

func (c *NoopChannel) Send(_ context.Context, recipientEmail string, kind model.ReminderType, p Payload) (Delivery, error) {
	id := uuid.NewString()
	if c.Logger != nil {
		c.Logger.Info("notification suppressed (noop channel)",
			"recipient", recipientEmail,
			"kind", string(kind),
			"appointment_id", p.AppointmentID,
			"channel_message_id", id,
		)
	}
	return Delivery{ChannelMessageID: id}, nil
}
