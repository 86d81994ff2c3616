package profile

import (
	"context"

	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

// Contact is the display and delivery data needed to notify a participant.
type Contact struct {
	Email       string
	DisplayName string
}

// Resolver maps a participant id to contact info. Implementations return
// model.ErrNotFound when the participant is unknown under either role.
type Resolver interface {
	GetContact(ctx context.Context, participantID string) (Contact, error)
}

type staticResolver struct {
	contacts map[string]Contact
}

// NewStaticResolver serves contacts from a fixed map. Used as the dev
// fallback and in tests.
func NewStaticResolver(contacts map[string]Contact) Resolver {
	return &staticResolver{contacts: contacts}
}

func (r *staticResolver) GetContact(_ context.Context, participantID string) (Contact, error) {
	c, ok := r.contacts[participantID]
	if !ok {
		return Contact{}, model.ErrNotFound
	}
	return c, nil
}
