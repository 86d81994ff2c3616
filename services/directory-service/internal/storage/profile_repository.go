package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/practicehq/agendly/libs/db"
)

var ErrNotFound = errors.New("profile not found")

// Profile holds a participant's directory record. The same table serves
// providers and requesters; role tells them apart.
type Profile struct {
	ParticipantID string
	Role          string
	Email         string
	DisplayName   string
	Phone         string
	Timezone      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ProfileRepository struct {
	pool *db.Pool
}

func NewProfileRepository(pool *db.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

const profileColumns = `participant_id, role, email, display_name,
	COALESCE(phone, ''), COALESCE(timezone, 'UTC'), created_at, updated_at`

func (r *ProfileRepository) Get(ctx context.Context, participantID string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE participant_id = $1
	`, participantID).Scan(
		&p.ParticipantID, &p.Role, &p.Email, &p.DisplayName, &p.Phone, &p.Timezone, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

func (r *ProfileRepository) Upsert(ctx context.Context, p Profile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (participant_id, role, email, display_name, phone, timezone)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (participant_id) DO UPDATE
		SET email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			phone = EXCLUDED.phone,
			timezone = EXCLUDED.timezone,
			updated_at = now()
	`, p.ParticipantID, p.Role, p.Email, p.DisplayName, p.Phone, p.Timezone)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *ProfileRepository) ListByRole(ctx context.Context, role string, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE role = $1
		ORDER BY display_name ASC
		LIMIT $2
	`, role, limit)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ParticipantID, &p.Role, &p.Email, &p.DisplayName, &p.Phone, &p.Timezone, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
