package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/practicehq/agendly/libs/db"
	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

// PGResolver reads contacts from the profiles table that directory-service
// maintains in the shared cluster.
type PGResolver struct {
	pool *db.Pool
}

func NewPGResolver(pool *db.Pool) *PGResolver {
	return &PGResolver{pool: pool}
}

func (r *PGResolver) GetContact(ctx context.Context, participantID string) (Contact, error) {
	const q = `
		SELECT email, display_name
		FROM profiles
		WHERE participant_id = $1`

	var c Contact
	err := r.pool.QueryRow(ctx, q, participantID).Scan(&c.Email, &c.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, model.ErrNotFound
		}
		return Contact{}, fmt.Errorf("load contact: %w", err)
	}
	return c, nil
}
