package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/practicehq/agendly/libs/db"
	"github.com/practicehq/agendly/services/agenda-service/internal/agenda"
	"github.com/practicehq/agendly/services/agenda-service/internal/availability"
)

// ScheduleRepository resolves a provider's configured availability:
// weekday windows, explicit blocks, and slot settings. It backs
// agenda.ScheduleSource. The tables are maintained by the directory
// service; this side only reads them.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

// DayPlan assembles the plan for one calendar day. A provider with no
// window row for the weekday gets weekday defaults (Mon-Fri 09:00-17:00);
// an explicit is_available=false row yields an empty plan.
func (r *ScheduleRepository) DayPlan(ctx context.Context, providerID string, date time.Time) (agenda.DayPlan, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	weekday := int(date.Weekday())

	plan := agenda.DayPlan{}

	var available bool
	var startMinute, endMinute int
	err := r.pool.QueryRow(ctx, `
		SELECT is_available, start_minute, end_minute
		FROM availability_windows
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, weekday).Scan(&available, &startMinute, &endMinute)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		available = weekday >= 1 && weekday <= 5
		startMinute, endMinute = 9*60, 17*60
	case err != nil:
		return agenda.DayPlan{}, fmt.Errorf("load availability window: %w", err)
	}
	if !available || endMinute <= startMinute {
		return plan, nil
	}
	plan.Windows = []availability.Interval{{
		Start: dayStart.Add(time.Duration(startMinute) * time.Minute),
		End:   dayStart.Add(time.Duration(endMinute) * time.Minute),
	}}

	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM availability_blocks
		WHERE provider_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, dayStart, dayEnd)
	if err != nil {
		return agenda.DayPlan{}, fmt.Errorf("load availability blocks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b availability.Interval
		if err := rows.Scan(&b.Start, &b.End); err != nil {
			return agenda.DayPlan{}, err
		}
		plan.Blocks = append(plan.Blocks, b)
	}
	if rows.Err() != nil {
		return agenda.DayPlan{}, rows.Err()
	}

	var sessionMinutes, stepMinutes int
	err = r.pool.QueryRow(ctx, `
		SELECT session_minutes, slot_step_minutes
		FROM provider_settings
		WHERE provider_id = $1
	`, providerID).Scan(&sessionMinutes, &stepMinutes)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		sessionMinutes, stepMinutes = 50, 15
	case err != nil:
		return agenda.DayPlan{}, fmt.Errorf("load provider settings: %w", err)
	}
	plan.SessionLength = time.Duration(sessionMinutes) * time.Minute
	plan.SlotStep = time.Duration(stepMinutes) * time.Minute

	return plan, nil
}
