package model

import "time"

// ReminderType says what the notification is about and anchors when it is
// due relative to the appointment.
type ReminderType string

const (
	ReminderBookingReceived ReminderType = "booking_received"
	ReminderConfirmation    ReminderType = "confirmation"
	Reminder24h             ReminderType = "reminder_24h"
	Reminder1h              ReminderType = "reminder_1h"
	ReminderCancellation    ReminderType = "cancellation"
)

// DeliveryStatus tracks the outcome of dispatching one reminder.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	// DeliverySkipped records that the appointment was no longer active when
	// the reminder came due. Terminal: the sweep does not retry skipped rows.
	DeliverySkipped DeliveryStatus = "skipped"
)

// Reminder is a scheduled notification tied to one appointment and one
// recipient. Rows are kept forever as the delivery audit trail.
type Reminder struct {
	ID            string
	AppointmentID string
	Type          ReminderType
	RecipientID   string
	ScheduledFor  time.Time
	Message       string
	Status        DeliveryStatus
	SentAt        *time.Time
	Attempts      int
	CreatedAt     time.Time
}

// RequiresActiveAppointment reports whether dispatching this reminder type
// only makes sense while the session is still expected to happen.
// Cancellation notices are the exception: they describe a dead appointment.
func (t ReminderType) RequiresActiveAppointment() bool {
	return t != ReminderCancellation
}
