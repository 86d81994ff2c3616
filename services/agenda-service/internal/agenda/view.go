package agenda

import (
	"time"

	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

// ViewKind tags the two read scopes a controller can be built with.
type ViewKind string

const (
	// ViewOwner is the provider looking at their own agenda. Every
	// appointment for that provider is visible, all statuses.
	ViewOwner ViewKind = "owner"
	// ViewParticipant is a requester looking at one provider's calendar.
	// Only the requester's own appointments with that provider are visible.
	ViewParticipant ViewKind = "participant"
)

// Scope fixes the viewer identity for the lifetime of a controller. It is
// resolved once at construction and drives every read predicate and
// authorization check; handlers never re-derive ownership per call.
type Scope struct {
	kind        ViewKind
	providerID  string
	requesterID string
}

// OwnerView scopes the controller to a provider viewing their own agenda.
func OwnerView(providerID string) Scope {
	return Scope{kind: ViewOwner, providerID: providerID}
}

// ParticipantView scopes the controller to a requester viewing one
// provider's calendar.
func ParticipantView(providerID, requesterID string) Scope {
	return Scope{kind: ViewParticipant, providerID: providerID, requesterID: requesterID}
}

func (s Scope) Kind() ViewKind     { return s.kind }
func (s Scope) ProviderID() string { return s.providerID }

// ActorID is the identity acting through this scope: the provider for an
// owner view, the requester for a participant view.
func (s Scope) ActorID() string {
	if s.kind == ViewOwner {
		return s.providerID
	}
	return s.requesterID
}

// Filter is the read predicate handed to the appointment store.
type Filter struct {
	ProviderID  string
	RequesterID string
	Statuses    []model.Status
	From        time.Time
	To          time.Time
	Limit       int
}

// filter returns the base read predicate for this scope. Date bounds and
// status restrictions are layered on by the caller.
func (s Scope) filter() Filter {
	f := Filter{ProviderID: s.providerID}
	if s.kind == ViewParticipant {
		f.RequesterID = s.requesterID
	}
	return f
}

// canView reports whether an appointment is visible under this scope.
func (s Scope) canView(a *model.Appointment) bool {
	if a.ProviderID != s.providerID {
		return false
	}
	if s.kind == ViewParticipant && a.RequesterID != s.requesterID {
		return false
	}
	return true
}
