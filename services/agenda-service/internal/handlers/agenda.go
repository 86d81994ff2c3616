package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/practicehq/agendly/services/agenda-service/internal/agenda"
	"github.com/practicehq/agendly/services/agenda-service/internal/model"
	"github.com/practicehq/agendly/services/agenda-service/internal/outbox"
)

// ReminderLister exposes an appointment's reminder audit trail to the
// owner view.
type ReminderLister interface {
	ListByAppointment(ctx context.Context, appointmentID string) ([]model.Reminder, error)
}

// AgendaHandler serves the appointment lifecycle API. The gateway
// authenticates callers and injects X-Actor-Id and X-Actor-Role; handlers
// build a scoped controller per request from those headers.
type AgendaHandler struct {
	store      agenda.AppointmentStore
	notices    agenda.Notices
	schedule   agenda.ScheduleSource
	reminders  ReminderLister
	outboxRepo *outbox.Repository
	logger     *slog.Logger
	now        func() time.Time
}

func NewAgendaHandler(store agenda.AppointmentStore, notices agenda.Notices, schedule agenda.ScheduleSource, reminders ReminderLister, outboxRepo *outbox.Repository, logger *slog.Logger, now func() time.Time) *AgendaHandler {
	if now == nil {
		now = time.Now
	}
	return &AgendaHandler{
		store:      store,
		notices:    notices,
		schedule:   schedule,
		reminders:  reminders,
		outboxRepo: outboxRepo,
		logger:     logger,
		now:        now,
	}
}

type actor struct {
	ID   string
	Role model.Role
}

func actorFrom(r *http.Request) (actor, bool) {
	id := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
	role := model.Role(strings.TrimSpace(r.Header.Get("X-Actor-Role")))
	if id == "" || (role != model.RoleProvider && role != model.RoleRequester) {
		return actor{}, false
	}
	return actor{ID: id, Role: role}, true
}

// controllerFor resolves the viewer scope once per request. Providers act
// on their own agenda; requesters act on a named provider's calendar.
func (h *AgendaHandler) controllerFor(w http.ResponseWriter, r *http.Request, providerID string) (*agenda.Controller, bool) {
	act, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing or invalid actor identity", http.StatusUnauthorized)
		return nil, false
	}

	var scope agenda.Scope
	switch act.Role {
	case model.RoleProvider:
		scope = agenda.OwnerView(act.ID)
	default:
		providerID = strings.TrimSpace(providerID)
		if providerID == "" {
			http.Error(w, "provider_id required", http.StatusBadRequest)
			return nil, false
		}
		scope = agenda.ParticipantView(providerID, act.ID)
	}
	return agenda.NewController(scope, h.store, h.notices, h.schedule, h.logger, h.now), true
}

type appointmentView struct {
	ID           string `json:"id"`
	ProviderID   string `json:"provider_id"`
	RequesterID  string `json:"requester_id"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Status       string `json:"status"`
	Modality     string `json:"modality"`
	VideoLink    string `json:"video_link,omitempty"`
	Price        string `json:"price,omitempty"`
	Notes        string `json:"notes,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toView(a *model.Appointment) *appointmentView {
	if a == nil {
		return nil
	}
	return &appointmentView{
		ID:           a.ID,
		ProviderID:   a.ProviderID,
		RequesterID:  a.RequesterID,
		StartTime:    a.StartTime.UTC().Format(time.RFC3339),
		EndTime:      a.EndTime.UTC().Format(time.RFC3339),
		Status:       string(a.Status),
		Modality:     string(a.Modality),
		VideoLink:    a.VideoLink,
		Price:        a.Price,
		Notes:        a.Notes,
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type resultResponse struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	Appointment *appointmentView `json:"appointment,omitempty"`
}

func (h *AgendaHandler) writeResult(w http.ResponseWriter, res agenda.Result) {
	body, err := json.Marshal(resultResponse{
		Success:     res.Success,
		Message:     res.Message,
		Appointment: toView(res.Appointment),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Code)
	_, _ = w.Write(body)
}

type bookRequest struct {
	ProviderID  string `json:"provider_id"`
	RequesterID string `json:"requester_id"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Modality    string `json:"modality"`
	VideoLink   string `json:"video_link"`
	Price       string `json:"price"`
	Notes       string `json:"notes"`
}

func (h *AgendaHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	ctrl, ok := h.controllerFor(w, r, req.ProviderID)
	if !ok {
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	res := ctrl.Book(r.Context(), agenda.BookRequest{
		RequesterID: req.RequesterID,
		StartTime:   startTime,
		EndTime:     endTime,
		Modality:    model.Modality(strings.TrimSpace(req.Modality)),
		VideoLink:   req.VideoLink,
		Price:       req.Price,
		Notes:       req.Notes,
	})
	if res.Success {
		h.emitEvent(r.Context(), outbox.EventAppointmentBooked, res.Appointment)
	}
	h.writeResult(w, res)
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	ProviderID    string `json:"provider_id"`
	Reason        string `json:"reason"`
	Notes         string `json:"notes"`
}

func (h *AgendaHandler) transition(w http.ResponseWriter, r *http.Request, apply func(*agenda.Controller, context.Context, transitionRequest) agenda.Result) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	ctrl, ok := h.controllerFor(w, r, req.ProviderID)
	if !ok {
		return
	}

	res := apply(ctrl, r.Context(), req)
	if res.Success {
		h.emitEvent(r.Context(), outbox.EventAppointmentStatusChanged, res.Appointment)
	}
	h.writeResult(w, res)
}

func (h *AgendaHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(c *agenda.Controller, ctx context.Context, req transitionRequest) agenda.Result {
		return c.Confirm(ctx, req.AppointmentID)
	})
}

func (h *AgendaHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(c *agenda.Controller, ctx context.Context, req transitionRequest) agenda.Result {
		return c.Reject(ctx, req.AppointmentID, req.Reason)
	})
}

func (h *AgendaHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(c *agenda.Controller, ctx context.Context, req transitionRequest) agenda.Result {
		return c.Start(ctx, req.AppointmentID)
	})
}

func (h *AgendaHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(c *agenda.Controller, ctx context.Context, req transitionRequest) agenda.Result {
		return c.Finish(ctx, req.AppointmentID, req.Notes)
	})
}

func (h *AgendaHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(c *agenda.Controller, ctx context.Context, req transitionRequest) agenda.Result {
		return c.MarkNoShow(ctx, req.AppointmentID)
	})
}

func (h *AgendaHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(c *agenda.Controller, ctx context.Context, req transitionRequest) agenda.Result {
		return c.Cancel(ctx, req.AppointmentID, req.Reason)
	})
}

// Day lists the viewer's appointments on one calendar day.
func (h *AgendaHandler) Day(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctrl, ok := h.controllerFor(w, r, r.URL.Query().Get("provider_id"))
	if !ok {
		return
	}
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}

	appts, err := ctrl.AppointmentsOnDate(r.Context(), date)
	if err != nil {
		h.logger.Error("day listing failed", "err", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	views := make([]*appointmentView, 0, len(appts))
	for i := range appts {
		views = append(views, toView(&appts[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// Next returns the viewer's earliest upcoming active appointment.
func (h *AgendaHandler) Next(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctrl, ok := h.controllerFor(w, r, r.URL.Query().Get("provider_id"))
	if !ok {
		return
	}

	next, err := ctrl.NextAppointment(r.Context())
	if err != nil {
		h.logger.Error("next appointment lookup failed", "err", err)
		http.Error(w, "failed to load next appointment", http.StatusInternalServerError)
		return
	}
	if next == nil {
		writeJSON(w, http.StatusOK, map[string]any{"appointment": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": toView(next)})
}

type slotView struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Slots returns the provider's open slots for one day.
func (h *AgendaHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctrl, ok := h.controllerFor(w, r, r.URL.Query().Get("provider_id"))
	if !ok {
		return
	}
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}

	slots, err := ctrl.FreeSlotsOnDate(r.Context(), date)
	if err != nil {
		h.logger.Error("slot computation failed", "err", err)
		http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		return
	}
	views := make([]slotView, 0, len(slots))
	for _, s := range slots {
		views = append(views, slotView{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type reminderView struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	RecipientID  string `json:"recipient_id"`
	ScheduledFor string `json:"scheduled_for"`
	Status       string `json:"status"`
	SentAt       string `json:"sent_at,omitempty"`
	Attempts     int    `json:"attempts"`
}

// Reminders lists an appointment's reminder audit trail. Owner view only.
func (h *AgendaHandler) Reminders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	act, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing or invalid actor identity", http.StatusUnauthorized)
		return
	}
	if act.Role != model.RoleProvider {
		http.Error(w, "only the provider may view reminder history", http.StatusForbidden)
		return
	}
	appointmentID := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if appointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	appt, err := h.store.Get(r.Context(), appointmentID)
	if err != nil {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	if appt.ProviderID != act.ID {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}

	rems, err := h.reminders.ListByAppointment(r.Context(), appointmentID)
	if err != nil {
		h.logger.Error("reminder listing failed", "appointment_id", appointmentID, "err", err)
		http.Error(w, "failed to list reminders", http.StatusInternalServerError)
		return
	}
	views := make([]reminderView, 0, len(rems))
	for _, rem := range rems {
		v := reminderView{
			ID:           rem.ID,
			Type:         string(rem.Type),
			RecipientID:  rem.RecipientID,
			ScheduledFor: rem.ScheduledFor.UTC().Format(time.RFC3339),
			Status:       string(rem.Status),
			Attempts:     rem.Attempts,
		}
		if rem.SentAt != nil {
			v.SentAt = rem.SentAt.UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *AgendaHandler) parseDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		n := h.now()
		return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC), true
	}
	date, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return time.Time{}, false
	}
	return date, true
}

func (h *AgendaHandler) emitEvent(ctx context.Context, eventType string, a *model.Appointment) {
	if h.outboxRepo == nil || a == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": a.ID,
		"provider_id":    a.ProviderID,
		"requester_id":   a.RequesterID,
		"status":         string(a.Status),
		"start_time":     a.StartTime.UTC().Format(time.RFC3339),
		"end_time":       a.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("failed to build event payload", "err", err)
		return
	}
	if err := h.outboxRepo.Insert(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		h.logger.Error("failed to write outbox event", "event_type", eventType, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
