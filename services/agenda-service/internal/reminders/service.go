package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/practicehq/agendly/services/agenda-service/internal/model"
	"github.com/practicehq/agendly/services/agenda-service/internal/notify"
	"github.com/practicehq/agendly/services/agenda-service/internal/profile"
)

// ReminderStore is the persistence boundary for reminders. ClaimDue
// returns ids of rows whose due time has passed and whose status still
// allows a delivery attempt, claiming each id for this caller so
// concurrent sweeps do not double-dispatch.
type ReminderStore interface {
	Create(ctx context.Context, r *model.Reminder) (*model.Reminder, error)
	Get(ctx context.Context, id string) (*model.Reminder, error)
	MarkOutcome(ctx context.Context, id string, status model.DeliveryStatus, sentAt *time.Time) error
	ClaimDue(ctx context.Context, limit int, retryAfter time.Duration, maxAttempts int) ([]string, error)
}

// AppointmentGetter loads the appointment a reminder belongs to.
type AppointmentGetter interface {
	Get(ctx context.Context, id string) (*model.Appointment, error)
}

// EventSink records terminal dispatch outcomes for downstream consumers.
// A nil sink disables emission.
type EventSink interface {
	ReminderSent(ctx context.Context, rem *model.Reminder)
	ReminderFailed(ctx context.Context, rem *model.Reminder)
}

// Service computes the reminder set for bookings and dispatches individual
// reminders. It implements the lifecycle notices the agenda controller
// emits.
type Service struct {
	store        ReminderStore
	appointments AppointmentGetter
	resolver     profile.Resolver
	channel      notify.Channel
	events       EventSink
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(store ReminderStore, appointments AppointmentGetter, resolver profile.Resolver, channel notify.Channel, events EventSink, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:        store,
		appointments: appointments,
		resolver:     resolver,
		channel:      channel,
		events:       events,
		logger:       logger,
		now:          now,
	}
}

// BookingPlaced persists the reminder set for a new appointment and
// dispatches the immediately-due pieces. Offset reminders whose due time
// is already in the past are never created. The returned error covers
// persistence only; dispatch failures are logged and repaired by the
// sweep.
func (s *Service) BookingPlaced(ctx context.Context, a *model.Appointment) error {
	now := s.now()

	var errs []error
	received, err := s.store.Create(ctx, &model.Reminder{
		AppointmentID: a.ID,
		Type:          model.ReminderBookingReceived,
		RecipientID:   a.RequesterID,
		ScheduledFor:  now,
		Status:        model.DeliveryPending,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("create booking_received: %w", err))
	}

	if due := a.StartTime.Add(-24 * time.Hour); due.After(now) {
		if _, err := s.store.Create(ctx, &model.Reminder{
			AppointmentID: a.ID,
			Type:          model.Reminder24h,
			RecipientID:   a.RequesterID,
			ScheduledFor:  due,
			Status:        model.DeliveryPending,
		}); err != nil {
			errs = append(errs, fmt.Errorf("create reminder_24h: %w", err))
		}
	}
	if due := a.StartTime.Add(-time.Hour); due.After(now) {
		if _, err := s.store.Create(ctx, &model.Reminder{
			AppointmentID: a.ID,
			Type:          model.Reminder1h,
			RecipientID:   a.RequesterID,
			ScheduledFor:  due,
			Status:        model.DeliveryPending,
		}); err != nil {
			errs = append(errs, fmt.Errorf("create reminder_1h: %w", err))
		}
	}

	if received != nil {
		if outcome := s.Process(ctx, received.ID); outcome != OutcomeSent {
			s.logger.Warn("booking_received dispatch deferred to sweep", "reminder_id", received.ID, "outcome", string(outcome))
		}
	}

	// The provider learns about the booking right away. This is a direct
	// send, not a stored reminder row.
	s.notifyProviderDirect(ctx, a)

	return errors.Join(errs...)
}

// BookingConfirmed stores and immediately dispatches a confirmation notice
// to the requester.
func (s *Service) BookingConfirmed(ctx context.Context, a *model.Appointment) error {
	rem, err := s.store.Create(ctx, &model.Reminder{
		AppointmentID: a.ID,
		Type:          model.ReminderConfirmation,
		RecipientID:   a.RequesterID,
		ScheduledFor:  s.now(),
		Status:        model.DeliveryPending,
	})
	if err != nil {
		return fmt.Errorf("create confirmation: %w", err)
	}
	if outcome := s.Process(ctx, rem.ID); outcome != OutcomeSent {
		s.logger.Warn("confirmation dispatch deferred to sweep", "reminder_id", rem.ID, "outcome", string(outcome))
	}
	return nil
}

// BookingCancelled stores and immediately dispatches a cancellation notice
// to the counterpart of whoever cancelled. The stored row deliberately
// survives the appointment's terminal status; cancellation is the one
// reminder type dispatched for a dead appointment.
func (s *Service) BookingCancelled(ctx context.Context, a *model.Appointment, cancelledBy string, reason string) error {
	recipient := a.RequesterID
	if cancelledBy == a.RequesterID {
		recipient = a.ProviderID
	}
	rem, err := s.store.Create(ctx, &model.Reminder{
		AppointmentID: a.ID,
		Type:          model.ReminderCancellation,
		RecipientID:   recipient,
		ScheduledFor:  s.now(),
		Message:       reason,
		Status:        model.DeliveryPending,
	})
	if err != nil {
		return fmt.Errorf("create cancellation: %w", err)
	}
	if outcome := s.Process(ctx, rem.ID); outcome != OutcomeSent {
		s.logger.Warn("cancellation dispatch deferred to sweep", "reminder_id", rem.ID, "outcome", string(outcome))
	}
	return nil
}

func (s *Service) notifyProviderDirect(ctx context.Context, a *model.Appointment) {
	contact, err := s.resolver.GetContact(ctx, a.ProviderID)
	if err != nil {
		s.logger.Warn("provider contact unresolved, booking notice dropped", "provider_id", a.ProviderID, "err", err)
		return
	}
	requesterName := a.RequesterID
	if rc, err := s.resolver.GetContact(ctx, a.RequesterID); err == nil {
		requesterName = rc.DisplayName
	}

	if _, err := s.channel.Send(ctx, contact.Email, model.ReminderBookingReceived, notify.Payload{
		AppointmentID: a.ID,
		ProviderName:  contact.DisplayName,
		RequesterName: requesterName,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Modality:      a.Modality,
		VideoLink:     a.VideoLink,
	}); err != nil {
		s.logger.Warn("provider booking notice failed", "appointment_id", a.ID, "err", err)
	}
}
