package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/practicehq/agendly/services/agenda-service/internal/agenda"
	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]*model.Appointment
	seq  int
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*model.Appointment{}}
}

func (s *memStore) Create(_ context.Context, a *model.Appointment) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	cp := *a
	cp.ID = fmt.Sprintf("appt-%d", s.seq)
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	s.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *memStore) Get(_ context.Context, id string) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) List(_ context.Context, f agenda.Filter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.rows {
		if f.ProviderID != "" && a.ProviderID != f.ProviderID {
			continue
		}
		if f.RequesterID != "" && a.RequesterID != f.RequesterID {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, expectedFrom []model.Status, to model.Status, change agenda.StatusChange) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	for _, from := range expectedFrom {
		if a.Status == from {
			a.Status = to
			if change.CancelReason != "" {
				a.CancelReason = change.CancelReason
			}
			cp := *a
			return &cp, nil
		}
	}
	return nil, model.ErrConflict
}

func newTestHandler(store *memStore) *AgendaHandler {
	now := func() time.Time { return time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC) }
	return NewAgendaHandler(store, nil, nil, nil, nil, slog.New(slog.DiscardHandler), now)
}

func seed(t *testing.T, store *memStore, status model.Status) *model.Appointment {
	t.Helper()
	appt, err := store.Create(context.Background(), &model.Appointment{
		ProviderID:  "prov-1",
		RequesterID: "req-1",
		StartTime:   time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 9, 3, 11, 0, 0, 0, time.UTC),
		Status:      status,
		Modality:    model.ModalityOnline,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return appt
}

func TestConfirmEndpoint(t *testing.T) {
	store := newMemStore()
	appt := seed(t, store, model.StatusScheduled)
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/confirm",
		strings.NewReader(fmt.Sprintf(`{"appointment_id":%q}`, appt.ID)))
	req.Header.Set("X-Actor-Id", "prov-1")
	req.Header.Set("X-Actor-Role", "provider")
	rec := httptest.NewRecorder()
	h.Confirm(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success     bool `json:"success"`
		Appointment struct {
			Status string `json:"status"`
		} `json:"appointment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Appointment.Status != "confirmed" {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}
}

func TestConfirmRequiresActorHeaders(t *testing.T) {
	store := newMemStore()
	appt := seed(t, store, model.StatusScheduled)
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/confirm",
		strings.NewReader(fmt.Sprintf(`{"appointment_id":%q}`, appt.ID)))
	rec := httptest.NewRecorder()
	h.Confirm(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without actor headers, got %d", rec.Code)
	}
}

func TestRequesterCannotConfirm(t *testing.T) {
	store := newMemStore()
	appt := seed(t, store, model.StatusScheduled)
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/confirm",
		strings.NewReader(fmt.Sprintf(`{"appointment_id":%q,"provider_id":"prov-1"}`, appt.ID)))
	req.Header.Set("X-Actor-Id", "req-1")
	req.Header.Set("X-Actor-Role", "requester")
	rec := httptest.NewRecorder()
	h.Confirm(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for requester confirm, got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := store.Get(context.Background(), appt.ID)
	if got.Status != model.StatusScheduled {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
}

func TestCancelEndpointAsRequester(t *testing.T) {
	store := newMemStore()
	appt := seed(t, store, model.StatusConfirmed)
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel",
		strings.NewReader(fmt.Sprintf(`{"appointment_id":%q,"provider_id":"prov-1","reason":"conflict"}`, appt.ID)))
	req.Header.Set("X-Actor-Id", "req-1")
	req.Header.Set("X-Actor-Role", "requester")
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := store.Get(context.Background(), appt.ID)
	if got.Status != model.StatusCancelled || got.CancelReason != "conflict" {
		t.Fatalf("unexpected row after cancel: %+v", got)
	}
}

func TestDayEndpointMethodGuard(t *testing.T) {
	h := newTestHandler(newMemStore())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agenda/day", nil)
	req.Header.Set("X-Actor-Id", "prov-1")
	req.Header.Set("X-Actor-Role", "provider")
	rec := httptest.NewRecorder()
	h.Day(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
