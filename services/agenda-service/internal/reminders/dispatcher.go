package reminders

import (
	"context"
	"errors"
	"time"

	"github.com/practicehq/agendly/services/agenda-service/internal/model"
	"github.com/practicehq/agendly/services/agenda-service/internal/notify"
)

// Outcome is the result of one dispatch attempt. Process never returns an
// error; every failure mode collapses into an outcome plus a stored
// delivery status and a log line.
type Outcome string

const (
	// OutcomeSent means the channel accepted the message and the row is
	// marked sent.
	OutcomeSent Outcome = "sent"
	// OutcomeAlreadySent means the row was sent earlier; the channel was
	// not contacted again.
	OutcomeAlreadySent Outcome = "already_sent"
	// OutcomeSkipped means the appointment is no longer active so the
	// reminder was suppressed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeNotFound means the reminder, its appointment, or its
	// recipient could not be resolved.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeFailed means delivery was attempted and failed; the sweep
	// retries failed rows.
	OutcomeFailed Outcome = "failed"
)

// Process delivers exactly one reminder and records the outcome. It is
// safe to call concurrently for different reminder ids; each call touches
// only its own row. Calling it for a row already marked sent is an
// idempotent no-op.
func (s *Service) Process(ctx context.Context, reminderID string) Outcome {
	rem, err := s.store.Get(ctx, reminderID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.logger.Warn("reminder missing", "reminder_id", reminderID)
			return OutcomeNotFound
		}
		s.logger.Error("reminder load failed", "reminder_id", reminderID, "err", err)
		return OutcomeFailed
	}
	if rem.Status == model.DeliverySent {
		return OutcomeAlreadySent
	}

	appt, err := s.appointments.Get(ctx, rem.AppointmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.logger.Warn("reminder references missing appointment", "reminder_id", rem.ID, "appointment_id", rem.AppointmentID)
			s.markOutcome(ctx, rem.ID, model.DeliveryFailed, nil)
			s.emitFailed(ctx, rem)
			return OutcomeNotFound
		}
		s.logger.Error("appointment load failed", "reminder_id", rem.ID, "err", err)
		return OutcomeFailed
	}

	// Cancellation can leave future reminders behind. Re-check the live
	// status just before sending and suppress rather than remind about a
	// session that will not happen.
	if rem.Type.RequiresActiveAppointment() && appt.Status.IsTerminal() {
		s.markOutcome(ctx, rem.ID, model.DeliverySkipped, nil)
		s.logger.Info("reminder skipped for inactive appointment",
			"reminder_id", rem.ID, "appointment_id", appt.ID, "appointment_status", string(appt.Status))
		return OutcomeSkipped
	}

	recipient, err := s.resolver.GetContact(ctx, rem.RecipientID)
	if err != nil {
		s.logger.Warn("reminder recipient unresolved", "reminder_id", rem.ID, "recipient_id", rem.RecipientID, "err", err)
		s.markOutcome(ctx, rem.ID, model.DeliveryFailed, nil)
		s.emitFailed(ctx, rem)
		return OutcomeNotFound
	}

	payload := s.buildPayload(ctx, rem, appt, recipient.DisplayName)
	if _, err := s.channel.Send(ctx, recipient.Email, rem.Type, payload); err != nil {
		s.logger.Warn("reminder delivery failed", "reminder_id", rem.ID, "kind", string(rem.Type), "err", err)
		s.markOutcome(ctx, rem.ID, model.DeliveryFailed, nil)
		s.emitFailed(ctx, rem)
		return OutcomeFailed
	}

	sentAt := s.now()
	s.markOutcome(ctx, rem.ID, model.DeliverySent, &sentAt)
	if s.events != nil {
		s.events.ReminderSent(ctx, rem)
	}
	return OutcomeSent
}

func (s *Service) emitFailed(ctx context.Context, rem *model.Reminder) {
	if s.events != nil {
		s.events.ReminderFailed(ctx, rem)
	}
}

func (s *Service) buildPayload(ctx context.Context, rem *model.Reminder, appt *model.Appointment, recipientName string) notify.Payload {
	p := notify.Payload{
		AppointmentID: appt.ID,
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
		Modality:      appt.Modality,
		VideoLink:     appt.VideoLink,
		CustomMessage: rem.Message,
	}

	// Display names for both sides; the counterpart is best effort and
	// falls back to the raw id.
	if rem.RecipientID == appt.ProviderID {
		p.ProviderName = recipientName
		p.RequesterName = appt.RequesterID
		if c, err := s.resolver.GetContact(ctx, appt.RequesterID); err == nil {
			p.RequesterName = c.DisplayName
		}
	} else {
		p.RequesterName = recipientName
		p.ProviderName = appt.ProviderID
		if c, err := s.resolver.GetContact(ctx, appt.ProviderID); err == nil {
			p.ProviderName = c.DisplayName
		}
	}
	return p
}

func (s *Service) markOutcome(ctx context.Context, id string, status model.DeliveryStatus, sentAt *time.Time) {
	if err := s.store.MarkOutcome(ctx, id, status, sentAt); err != nil {
		s.logger.Error("reminder outcome write failed", "reminder_id", id, "status", string(status), "err", err)
	}
}
