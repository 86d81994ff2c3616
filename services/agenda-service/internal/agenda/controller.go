package agenda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/practicehq/agendly/services/agenda-service/internal/availability"
	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

// AppointmentStore is the persistence boundary for appointments. List
// returns rows ordered by start time ascending. UpdateStatus applies a
// compare-and-swap: the row is updated only while its status is still one of
// expectedFrom, so of two racing transitions exactly one wins.
type AppointmentStore interface {
	Create(ctx context.Context, a *model.Appointment) (*model.Appointment, error)
	Get(ctx context.Context, id string) (*model.Appointment, error)
	List(ctx context.Context, f Filter) ([]model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, expectedFrom []model.Status, to model.Status, change StatusChange) (*model.Appointment, error)
}

// StatusChange carries the optional fields a transition writes alongside the
// new status.
type StatusChange struct {
	CancelReason string
	Notes        string
}

// Notices receives booking lifecycle events so reminders can be scheduled
// and counterparts notified. Implementations must tolerate being called
// after the appointment row is already committed; a notice failure never
// rolls back the transition that triggered it.
type Notices interface {
	BookingPlaced(ctx context.Context, a *model.Appointment) error
	BookingConfirmed(ctx context.Context, a *model.Appointment) error
	BookingCancelled(ctx context.Context, a *model.Appointment, cancelledBy string, reason string) error
}

// DayPlan is a provider's configured availability for one calendar day.
type DayPlan struct {
	Windows       []availability.Interval
	Blocks        []availability.Interval
	SessionLength time.Duration
	SlotStep      time.Duration
}

// ScheduleSource resolves a provider's availability configuration.
type ScheduleSource interface {
	DayPlan(ctx context.Context, providerID string, date time.Time) (DayPlan, error)
}

// Result is the uniform outcome of every controller operation. Errors from
// the store, the reminder pipeline, and authorization checks are normalized
// here; nothing propagates past the controller as a raw error.
type Result struct {
	Success     bool
	Message     string
	Code        int
	Appointment *model.Appointment
}

func failure(code int, msg string) Result {
	return Result{Success: false, Message: msg, Code: code}
}

// Controller enforces the appointment lifecycle for one viewer scope.
type Controller struct {
	scope    Scope
	store    AppointmentStore
	notices  Notices
	schedule ScheduleSource
	logger   *slog.Logger
	now      func() time.Time
}

// NewController builds a controller bound to a scope. notices and schedule
// may be nil when the corresponding feature is not wired (tests, read-only
// callers). The clock is injectable; pass nil for the wall clock.
func NewController(scope Scope, store AppointmentStore, notices Notices, schedule ScheduleSource, logger *slog.Logger, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		scope:    scope,
		store:    store,
		notices:  notices,
		schedule: schedule,
		logger:   logger,
		now:      now,
	}
}

func (c *Controller) Scope() Scope { return c.scope }

// BookRequest is a validated booking action. The requester is taken from
// the scope for participant views; owner views may book on behalf of a
// requester by setting RequesterID.
type BookRequest struct {
	RequesterID string
	StartTime   time.Time
	EndTime     time.Time
	Modality    model.Modality
	VideoLink   string
	Price       string
	Notes       string
}

// Book creates an appointment in status scheduled and hands it to the
// reminder pipeline. A reminder-scheduling failure does not fail the
// booking; it is surfaced as a warning on an otherwise successful result.
func (c *Controller) Book(ctx context.Context, req BookRequest) Result {
	requesterID := strings.TrimSpace(req.RequesterID)
	if c.scope.kind == ViewParticipant {
		requesterID = c.scope.requesterID
	}

	appt := &model.Appointment{
		ProviderID:  c.scope.providerID,
		RequesterID: requesterID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Status:      model.StatusScheduled,
		Modality:    req.Modality,
		VideoLink:   strings.TrimSpace(req.VideoLink),
		Price:       strings.TrimSpace(req.Price),
		Notes:       strings.TrimSpace(req.Notes),
	}
	if err := appt.Validate(); err != nil {
		return failure(http.StatusBadRequest, err.Error())
	}
	if !appt.StartTime.After(c.now()) {
		return failure(http.StatusBadRequest, "start time must be in the future")
	}

	// Reject overlapping requests before touching storage. The lookback
	// bounds the scan; anything still running at our start began within it.
	// The store's exclusion constraint remains the authority under races.
	existing, err := c.store.List(ctx, Filter{
		ProviderID: c.scope.providerID,
		Statuses:   model.ActiveStatuses(),
		From:       appt.StartTime.Add(-24 * time.Hour),
		To:         appt.EndTime,
	})
	if err != nil {
		c.logger.Error("overlap check failed", "provider_id", appt.ProviderID, "err", err)
		return failure(http.StatusInternalServerError, "failed to create appointment")
	}
	busy := make([]availability.Interval, 0, len(existing))
	for _, e := range existing {
		busy = append(busy, availability.Interval{Start: e.StartTime, End: e.EndTime})
	}
	if availability.Overlaps(appt.StartTime, appt.EndTime, busy) {
		return failure(http.StatusConflict, "requested time overlaps an existing appointment")
	}

	created, err := c.store.Create(ctx, appt)
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			return failure(http.StatusConflict, "requested time overlaps an existing appointment")
		}
		c.logger.Error("appointment create failed", "provider_id", appt.ProviderID, "err", err)
		return failure(http.StatusInternalServerError, "failed to create appointment")
	}

	msg := "appointment booked"
	if c.notices != nil {
		if err := c.notices.BookingPlaced(ctx, created); err != nil {
			// Decoupled failure domain: the booking stands, reminders are
			// repaired later by the sweep.
			c.logger.Warn("reminder scheduling failed for new booking", "appointment_id", created.ID, "err", err)
			msg = "appointment booked; reminder scheduling failed and will be retried"
		}
	}
	return Result{Success: true, Message: msg, Code: http.StatusCreated, Appointment: created}
}

type transitionSpec struct {
	verb            string
	from            []model.Status
	to              model.Status
	requesterMayAct bool
}

var (
	confirmSpec = transitionSpec{verb: "confirm", from: []model.Status{model.StatusScheduled}, to: model.StatusConfirmed}
	rejectSpec  = transitionSpec{verb: "reject", from: []model.Status{model.StatusScheduled}, to: model.StatusRejected}
	startSpec   = transitionSpec{verb: "start", from: []model.Status{model.StatusConfirmed}, to: model.StatusInProgress}
	finishSpec  = transitionSpec{verb: "finish", from: []model.Status{model.StatusInProgress}, to: model.StatusCompleted}
	noShowSpec  = transitionSpec{verb: "mark no-show", from: []model.Status{model.StatusScheduled, model.StatusConfirmed}, to: model.StatusNoShow}
	cancelSpec  = transitionSpec{
		verb:            "cancel",
		from:            []model.Status{model.StatusScheduled, model.StatusConfirmed, model.StatusInProgress},
		to:              model.StatusCancelled,
		requesterMayAct: true,
	}
)

// Confirm moves a scheduled appointment to confirmed. Provider only.
func (c *Controller) Confirm(ctx context.Context, appointmentID string) Result {
	return c.transition(ctx, appointmentID, confirmSpec, StatusChange{})
}

// Reject declines a scheduled appointment. Provider only.
func (c *Controller) Reject(ctx context.Context, appointmentID, reason string) Result {
	return c.transition(ctx, appointmentID, rejectSpec, StatusChange{CancelReason: strings.TrimSpace(reason)})
}

// Start begins a confirmed session. Provider only. An unconfirmed
// appointment must be confirmed first; there is no scheduled to in_progress
// shortcut.
func (c *Controller) Start(ctx context.Context, appointmentID string) Result {
	return c.transition(ctx, appointmentID, startSpec, StatusChange{})
}

// Finish completes an in-progress session, optionally recording notes.
// Provider only.
func (c *Controller) Finish(ctx context.Context, appointmentID, notes string) Result {
	return c.transition(ctx, appointmentID, finishSpec, StatusChange{Notes: strings.TrimSpace(notes)})
}

// MarkNoShow records that the requester did not attend. Provider only,
// from scheduled or confirmed.
func (c *Controller) MarkNoShow(ctx context.Context, appointmentID string) Result {
	return c.transition(ctx, appointmentID, noShowSpec, StatusChange{})
}

// Cancel terminates any non-terminal appointment. Either participant may
// cancel their own appointment.
func (c *Controller) Cancel(ctx context.Context, appointmentID, reason string) Result {
	return c.transition(ctx, appointmentID, cancelSpec, StatusChange{CancelReason: strings.TrimSpace(reason)})
}

func (c *Controller) transition(ctx context.Context, appointmentID string, spec transitionSpec, change StatusChange) Result {
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return failure(http.StatusBadRequest, "appointment id required")
	}

	appt, err := c.store.Get(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return failure(http.StatusNotFound, "appointment not found")
		}
		c.logger.Error("appointment load failed", "appointment_id", appointmentID, "err", err)
		return failure(http.StatusInternalServerError, "failed to load appointment")
	}
	// Out-of-scope rows read as missing rather than forbidden so a
	// participant cannot probe another requester's bookings.
	if !c.scope.canView(appt) {
		return failure(http.StatusNotFound, "appointment not found")
	}

	if c.scope.kind == ViewParticipant && !spec.requesterMayAct {
		return failure(http.StatusForbidden, fmt.Sprintf("only the provider may %s an appointment", spec.verb))
	}

	if !statusIn(appt.Status, spec.from) {
		if appt.Status.IsTerminal() {
			return failure(http.StatusUnprocessableEntity, fmt.Sprintf("cannot %s an appointment in terminal status %s", spec.verb, appt.Status))
		}
		return failure(http.StatusUnprocessableEntity, fmt.Sprintf("cannot %s an appointment in status %s", spec.verb, appt.Status))
	}

	// CAS on the exact status observed above, not the whole allowed source
	// set. A concurrent transition that lands in another allowed source
	// (confirm racing cancel) must surface as a conflict, never apply
	// silently on top.
	updated, err := c.store.UpdateStatus(ctx, appointmentID, []model.Status{appt.Status}, spec.to, change)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrConflict):
			return failure(http.StatusConflict, "appointment was changed concurrently; reload and retry")
		case errors.Is(err, model.ErrNotFound):
			return failure(http.StatusNotFound, "appointment not found")
		default:
			c.logger.Error("status update failed", "appointment_id", appointmentID, "to", spec.to, "err", err)
			return failure(http.StatusInternalServerError, "failed to update appointment")
		}
	}

	if c.notices != nil {
		switch spec.to {
		case model.StatusConfirmed:
			if err := c.notices.BookingConfirmed(ctx, updated); err != nil {
				c.logger.Warn("confirmation notice failed", "appointment_id", updated.ID, "err", err)
			}
		case model.StatusCancelled:
			if err := c.notices.BookingCancelled(ctx, updated, c.scope.ActorID(), change.CancelReason); err != nil {
				c.logger.Warn("cancellation notice failed", "appointment_id", updated.ID, "err", err)
			}
		}
	}

	return Result{
		Success:     true,
		Message:     fmt.Sprintf("appointment %s", updated.Status),
		Code:        http.StatusOK,
		Appointment: updated,
	}
}

func statusIn(s model.Status, set []model.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// AppointmentsOnDate lists the scope's appointments whose start falls on the
// given calendar day, in start-time order.
func (c *Controller) AppointmentsOnDate(ctx context.Context, date time.Time) ([]model.Appointment, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	f := c.scope.filter()
	f.From = dayStart
	f.To = dayStart.AddDate(0, 0, 1)
	return c.store.List(ctx, f)
}

// NextAppointment returns the scope's earliest upcoming active appointment,
// or nil when there is none.
func (c *Controller) NextAppointment(ctx context.Context) (*model.Appointment, error) {
	f := c.scope.filter()
	f.From = c.now()
	f.Statuses = model.ActiveStatuses()
	f.Limit = 1
	appts, err := c.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return nil, nil
	}
	return &appts[0], nil
}

// FreeSlotsOnDate computes the provider's open slots for a day: configured
// availability windows minus booked appointments minus explicit blocks.
func (c *Controller) FreeSlotsOnDate(ctx context.Context, date time.Time) ([]availability.Slot, error) {
	if c.schedule == nil {
		return nil, errors.New("no schedule source configured")
	}
	plan, err := c.schedule.DayPlan(ctx, c.scope.providerID, date)
	if err != nil {
		return nil, fmt.Errorf("load day plan: %w", err)
	}
	if len(plan.Windows) == 0 {
		return nil, nil
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	booked, err := c.store.List(ctx, Filter{
		ProviderID: c.scope.providerID,
		Statuses:   model.ActiveStatuses(),
		From:       dayStart,
		To:         dayStart.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("load booked intervals: %w", err)
	}

	busy := make([]availability.Interval, 0, len(booked)+len(plan.Blocks))
	for _, a := range booked {
		busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}
	busy = append(busy, plan.Blocks...)

	length := plan.SessionLength
	if length <= 0 {
		length = 50 * time.Minute
	}
	step := plan.SlotStep
	if step <= 0 {
		step = 15 * time.Minute
	}

	var slots []availability.Slot
	for _, win := range plan.Windows {
		slots = append(slots, availability.FreeSlots(win.Start, win.End, length, step, busy, c.now())...)
	}
	return slots, nil
}
