package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/practicehq/agendly/libs/db"
	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

// ReminderRepository backs reminders.ReminderStore with postgres. Rows are
// never deleted; the table is the delivery audit trail.
type ReminderRepository struct {
	pool *db.Pool
}

func NewReminderRepository(pool *db.Pool) *ReminderRepository {
	return &ReminderRepository{pool: pool}
}

const reminderColumns = `id, appointment_id, type, recipient_id, scheduled_for,
	COALESCE(message, ''), status, sent_at, attempts, created_at`

func (r *ReminderRepository) Create(ctx context.Context, rem *model.Reminder) (*model.Reminder, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO reminders (appointment_id, type, recipient_id, scheduled_for, message, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+reminderColumns,
		rem.AppointmentID, string(rem.Type), rem.RecipientID, rem.ScheduledFor, rem.Message, string(rem.Status))

	created, err := scanReminder(row)
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	return created, nil
}

func (r *ReminderRepository) Get(ctx context.Context, id string) (*model.Reminder, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE id = $1
	`, id)

	rem, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("load reminder: %w", err)
	}
	return rem, nil
}

// MarkOutcome records a dispatch result. Attempts count only real delivery
// attempts; a skipped row keeps its attempt counter.
func (r *ReminderRepository) MarkOutcome(ctx context.Context, id string, status model.DeliveryStatus, sentAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET status = $2,
			sent_at = $3,
			attempts = attempts + CASE WHEN $2 IN ('sent', 'failed') THEN 1 ELSE 0 END
		WHERE id = $1
	`, id, string(status), sentAt)
	if err != nil {
		return fmt.Errorf("mark reminder outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ClaimDue picks due pending/failed rows and stamps last_attempt_at so a
// concurrent sweep skips them. Failed rows are retried only after
// retryAfter has elapsed since the previous attempt, and a row that has
// exhausted maxAttempts stays failed for good.
func (r *ReminderRepository) ClaimDue(ctx context.Context, limit int, retryAfter time.Duration, maxAttempts int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	cutoff := time.Now().UTC().Add(-retryAfter)

	rows, err := r.pool.Query(ctx, `
		UPDATE reminders
		SET last_attempt_at = now()
		WHERE id IN (
			SELECT id
			FROM reminders
			WHERE status IN ('pending', 'failed')
				AND scheduled_for <= now()
				AND attempts < $3
				AND (last_attempt_at IS NULL OR last_attempt_at < $2)
			ORDER BY scheduled_for ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, limit, cutoff, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim due reminders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

// ListByAppointment returns an appointment's reminders oldest first.
func (r *ReminderRepository) ListByAppointment(ctx context.Context, appointmentID string) ([]model.Reminder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE appointment_id = $1
		ORDER BY scheduled_for ASC
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var rems []model.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		rems = append(rems, *rem)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rems, nil
}

func scanReminder(row rowScanner) (*model.Reminder, error) {
	var rem model.Reminder
	var typ, status string
	var sentAt *time.Time
	if err := row.Scan(
		&rem.ID,
		&rem.AppointmentID,
		&typ,
		&rem.RecipientID,
		&rem.ScheduledFor,
		&rem.Message,
		&status,
		&sentAt,
		&rem.Attempts,
		&rem.CreatedAt,
	); err != nil {
		return nil, err
	}
	rem.Type = model.ReminderType(typ)
	rem.Status = model.DeliveryStatus(status)
	rem.SentAt = sentAt
	return &rem, nil
}
