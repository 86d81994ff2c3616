package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

// EmailChannel sends plain-text email via unauthenticated SMTP
// (Mailpit-compatible).
type EmailChannel struct {
	addr string
	from string
}

func NewEmailChannel(host, port, from string) *EmailChannel {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@agendly.local"
	}
	return &EmailChannel{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (c *EmailChannel) Send(_ context.Context, recipientEmail string, kind model.ReminderType, p Payload) (Delivery, error) {
	subject, body := renderEmail(kind, p)
	msgID := uuid.NewString()
	msg := buildMessage(c.from, recipientEmail, subject, body, msgID)
	if err := smtp.SendMail(c.addr, nil, c.from, []string{recipientEmail}, []byte(msg)); err != nil {
		return Delivery{}, err
	}
	return Delivery{ChannelMessageID: msgID}, nil
}

func renderEmail(kind model.ReminderType, p Payload) (subject, body string) {
	when := p.StartTime.Format("Mon, 02 Jan 2006 at 15:04")

	switch kind {
	case model.ReminderBookingReceived:
		subject = "Booking received"
		body = fmt.Sprintf("Your session with %s on %s has been requested and is awaiting confirmation.", p.ProviderName, when)
	case model.ReminderConfirmation:
		subject = "Appointment confirmed"
		body = fmt.Sprintf("%s confirmed your session on %s.", p.ProviderName, when)
	case model.Reminder24h:
		subject = "Appointment tomorrow"
		body = fmt.Sprintf("Reminder: your session with %s is on %s.", p.ProviderName, when)
	case model.Reminder1h:
		subject = "Appointment in one hour"
		body = fmt.Sprintf("Your session with %s starts at %s.", p.ProviderName, p.StartTime.Format("15:04"))
	case model.ReminderCancellation:
		subject = "Appointment cancelled"
		body = fmt.Sprintf("Your session with %s on %s has been cancelled.", p.ProviderName, when)
	default:
		subject = "Appointment update"
		body = fmt.Sprintf("There is an update for your session with %s on %s.", p.ProviderName, when)
	}

	if p.Modality == model.ModalityOnline && p.VideoLink != "" && kind != model.ReminderCancellation {
		body += fmt.Sprintf("\n\nJoin online: %s", p.VideoLink)
	}
	if p.CustomMessage != "" {
		body += fmt.Sprintf("\n\n%s", p.CustomMessage)
	}
	return subject, body
}

func buildMessage(from, to, subject, body, msgID string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: <%s@agendly.local>\r\nDate: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		msgID,
		time.Now().UTC().Format(time.RFC1123Z),
		body,
	)
}
