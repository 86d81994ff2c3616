package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (production-style: event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventAppointmentBooked        = "agenda.appointment.booked.v1"
	EventAppointmentStatusChanged = "agenda.appointment.status_changed.v1"
	EventReminderSent             = "agenda.reminder.sent.v1"
	EventReminderFailed           = "agenda.reminder.failed.v1"
)
