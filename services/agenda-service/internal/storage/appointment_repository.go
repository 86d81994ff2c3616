package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/practicehq/agendly/libs/db"
	"github.com/practicehq/agendly/services/agenda-service/internal/agenda"
	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

// AppointmentRepository backs agenda.AppointmentStore with postgres. An
// exclusion constraint on (provider_id, tstzrange(start_time, end_time))
// over active statuses rejects double bookings at the database.
type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

const appointmentColumns = `id, provider_id, requester_id, start_time, end_time, status, modality,
	COALESCE(video_link, ''), COALESCE(price, ''), COALESCE(notes, ''), COALESCE(cancel_reason, ''),
	created_at, updated_at`

func (r *AppointmentRepository) Create(ctx context.Context, a *model.Appointment) (*model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(provider_id, requester_id, start_time, end_time, status, modality, video_link, price, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+appointmentColumns,
		a.ProviderID, a.RequesterID, a.StartTime, a.EndTime, string(a.Status), string(a.Modality),
		a.VideoLink, a.Price, a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		if isExclusionViolation(err) {
			return nil, model.ErrConflict
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (*model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (r *AppointmentRepository) List(ctx context.Context, f agenda.Filter) ([]model.Appointment, error) {
	conds := []string{"provider_id = $1"}
	args := []any{f.ProviderID}

	if f.RequesterID != "" {
		args = append(args, f.RequesterID)
		conds = append(conds, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, fmt.Sprintf("start_time >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conds = append(conds, fmt.Sprintf("start_time < $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		args = append(args, statusStrings(f.Statuses))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY start_time ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// UpdateStatus writes the new status only while the row's current status is
// still one of expectedFrom. Losing the race surfaces as model.ErrConflict,
// a missing row as model.ErrNotFound.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, expectedFrom []model.Status, to model.Status, change agenda.StatusChange) (*model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			cancel_reason = CASE WHEN $3 <> '' THEN $3 ELSE cancel_reason END,
			notes = CASE WHEN $4 <> '' THEN $4 ELSE notes END,
			updated_at = now()
		WHERE id = $1 AND status = ANY($5)
		RETURNING `+appointmentColumns,
		id, string(to), change.CancelReason, change.Notes, statusStrings(expectedFrom))

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	// Zero rows: tell a lost race apart from a missing appointment.
	var exists bool
	if probeErr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); probeErr != nil {
		return nil, fmt.Errorf("probe appointment: %w", probeErr)
	}
	if exists {
		return nil, model.ErrConflict
	}
	return nil, model.ErrNotFound
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*model.Appointment, error) {
	var a model.Appointment
	var status, modality string
	if err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.RequesterID,
		&a.StartTime,
		&a.EndTime,
		&status,
		&modality,
		&a.VideoLink,
		&a.Price,
		&a.Notes,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = model.Status(status)
	a.Modality = model.Modality(modality)
	return &a, nil
}

func statusStrings(in []model.Status) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, model.ErrNotFound)
}
