package model

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
	StatusNoShow     Status = "no_show"
)

// Modality is how the session is held.
type Modality string

const (
	ModalityOnline   Modality = "online"
	ModalityInPerson Modality = "in_person"
	ModalityPhone    Modality = "phone"
)

// Role identifies which side of an appointment an actor is on.
type Role string

const (
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
)

// transitions is the full edge set of the lifecycle graph. Terminal statuses
// have no entry.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusRejected, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// IsTerminal reports whether the status has no outgoing edges.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusNoShow:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle graph has an edge s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusRejected, StatusNoShow:
		return true
	default:
		return false
	}
}

// ActiveStatuses are the statuses under which the session is still expected
// to happen.
func ActiveStatuses() []Status {
	return []Status{StatusScheduled, StatusConfirmed, StatusInProgress}
}

func (m Modality) valid() bool {
	switch m {
	case ModalityOnline, ModalityInPerson, ModalityPhone:
		return true
	default:
		return false
	}
}

// Appointment is one negotiated session between a provider and a requester.
// Rows are never deleted; a terminal status ends the lifecycle.
type Appointment struct {
	ID           string
	ProviderID   string
	RequesterID  string
	StartTime    time.Time
	EndTime      time.Time
	Status       Status
	Modality     Modality
	VideoLink    string
	Price        string
	Notes        string
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks the record boundary invariants before persistence.
func (a *Appointment) Validate() error {
	if a.ProviderID == "" {
		return errors.New("provider id is required")
	}
	if a.RequesterID == "" {
		return errors.New("requester id is required")
	}
	if a.StartTime.IsZero() || a.EndTime.IsZero() {
		return errors.New("start and end times are required")
	}
	if !a.EndTime.After(a.StartTime) {
		return errors.New("end time must be after start time")
	}
	if !a.Status.valid() {
		return fmt.Errorf("unknown status %q", a.Status)
	}
	if !a.Modality.valid() {
		return fmt.Errorf("unknown modality %q", a.Modality)
	}
	return nil
}
