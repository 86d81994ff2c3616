package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/practicehq/agendly/libs/db"
)

// Window is a provider's recurring weekday availability. Minutes are
// offsets from local midnight.
type Window struct {
	Weekday     int
	Available   bool
	StartMinute int
	EndMinute   int
}

// Block is a one-off unavailable interval overriding the weekday window.
type Block struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Reason    string
	CreatedAt time.Time
}

// AvailabilityRepository owns the write side of provider availability.
// Agenda reads the same tables when computing free slots.
type AvailabilityRepository struct {
	pool *db.Pool
}

func NewAvailabilityRepository(pool *db.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{pool: pool}
}

func (r *AvailabilityRepository) UpsertWindow(ctx context.Context, providerID string, w Window) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_windows (provider_id, weekday, is_available, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, weekday) DO UPDATE
		SET is_available = EXCLUDED.is_available,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute
	`, providerID, w.Weekday, w.Available, w.StartMinute, w.EndMinute)
	if err != nil {
		return fmt.Errorf("upsert availability window: %w", err)
	}
	return nil
}

func (r *AvailabilityRepository) ListWindows(ctx context.Context, providerID string) ([]Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, is_available, start_minute, end_minute
		FROM availability_windows
		WHERE provider_id = $1
		ORDER BY weekday ASC
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	defer rows.Close()

	var windows []Window
	for rows.Next() {
		var w Window
		if err := rows.Scan(&w.Weekday, &w.Available, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return windows, nil
}

func (r *AvailabilityRepository) AddBlock(ctx context.Context, providerID string, start, end time.Time, reason string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO availability_blocks (provider_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, providerID, start, end, reason).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert availability block: %w", err)
	}
	return id, nil
}

func (r *AvailabilityRepository) ListBlocks(ctx context.Context, providerID string, from, to time.Time) ([]Block, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, start_time, end_time, COALESCE(reason, ''), created_at
		FROM availability_blocks
		WHERE provider_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list availability blocks: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.ID, &b.StartTime, &b.EndTime, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blocks, nil
}

// UpsertSettings stores a provider's default session length and the step
// between offered slot starts.
func (r *AvailabilityRepository) UpsertSettings(ctx context.Context, providerID string, sessionMinutes, stepMinutes int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_settings (provider_id, session_minutes, slot_step_minutes)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_id) DO UPDATE
		SET session_minutes = EXCLUDED.session_minutes,
			slot_step_minutes = EXCLUDED.slot_step_minutes
	`, providerID, sessionMinutes, stepMinutes)
	if err != nil {
		return fmt.Errorf("upsert provider settings: %w", err)
	}
	return nil
}

// RemoveBlock deletes a provider's own block. Blocks belonging to another
// provider are invisible to the caller.
func (r *AvailabilityRepository) RemoveBlock(ctx context.Context, providerID, blockID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_blocks
		WHERE id = $1 AND provider_id = $2
	`, blockID, providerID)
	if err != nil {
		return fmt.Errorf("delete availability block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
