package agenda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/practicehq/agendly/services/agenda-service/internal/availability"
	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*model.Appointment
	seq  int

	failCreate bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]*model.Appointment{}}
}

func (s *fakeStore) Create(_ context.Context, a *model.Appointment) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return nil, errors.New("store down")
	}
	for _, existing := range s.rows {
		if existing.ProviderID != a.ProviderID || existing.Status.IsTerminal() {
			continue
		}
		if a.StartTime.Before(existing.EndTime) && existing.StartTime.Before(a.EndTime) {
			return nil, model.ErrConflict
		}
	}
	s.seq++
	cp := *a
	cp.ID = fmt.Sprintf("appt-%d", s.seq)
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	s.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) List(_ context.Context, f Filter) ([]model.Appointment, error) {
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
		if !f.From.IsZero() && a.StartTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.StartTime.Before(f.To) {
			continue
		}
		if len(f.Statuses) > 0 && !statusIn(a.Status, f.Statuses) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id string, expectedFrom []model.Status, to model.Status, change StatusChange) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if !statusIn(a.Status, expectedFrom) {
		return nil, model.ErrConflict
	}
	a.Status = to
	if change.CancelReason != "" {
		a.CancelReason = change.CancelReason
	}
	if change.Notes != "" {
		a.Notes = change.Notes
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

type fakeNotices struct {
	mu         sync.Mutex
	placed     int
	confirmed  int
	cancelled  int
	failPlaced bool
}

func (n *fakeNotices) BookingPlaced(context.Context, *model.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.placed++
	if n.failPlaced {
		return errors.New("smtp unreachable")
	}
	return nil
}

func (n *fakeNotices) BookingConfirmed(context.Context, *model.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed++
	return nil
}

func (n *fakeNotices) BookingCancelled(context.Context, *model.Appointment, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fixedNow() time.Time {
	return time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
}

func seedScheduled(t *testing.T, store *fakeStore) *model.Appointment {
	t.Helper()
	appt, err := store.Create(context.Background(), &model.Appointment{
		ProviderID:  "prov-1",
		RequesterID: "req-1",
		StartTime:   fixedNow().Add(48 * time.Hour),
		EndTime:     fixedNow().Add(49 * time.Hour),
		Status:      model.StatusScheduled,
		Modality:    model.ModalityOnline,
	})
	if err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
	return appt
}

func ownerController(store *fakeStore, notices Notices) *Controller {
	return NewController(OwnerView("prov-1"), store, notices, nil, testLogger(), fixedNow)
}

func TestConfirmFromScheduled(t *testing.T) {
	store := newFakeStore()
	appt := seedScheduled(t, store)
	ctrl := ownerController(store, nil)

	res := ctrl.Confirm(context.Background(), appt.ID)
	if !res.Success {
		t.Fatalf("confirm failed: %s", res.Message)
	}
	if res.Appointment.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", res.Appointment.Status)
	}
}

func TestFinishFromScheduledFails(t *testing.T) {
	store := newFakeStore()
	appt := seedScheduled(t, store)
	ctrl := ownerController(store, nil)

	res := ctrl.Finish(context.Background(), appt.ID, "session notes")
	if res.Success {
		t.Fatal("finish from scheduled must fail")
	}
	got, _ := store.Get(context.Background(), appt.ID)
	if got.Status != model.StatusScheduled {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
	if got.Notes != "" {
		t.Fatalf("failed transition must not write notes, got %q", got.Notes)
	}
}

func TestStartRequiresConfirmed(t *testing.T) {
	store := newFakeStore()
	appt := seedScheduled(t, store)
	ctrl := ownerController(store, nil)

	if res := ctrl.Start(context.Background(), appt.ID); res.Success {
		t.Fatal("start from scheduled must fail")
	}
	if res := ctrl.Confirm(context.Background(), appt.ID); !res.Success {
		t.Fatalf("confirm: %s", res.Message)
	}
	if res := ctrl.Start(context.Background(), appt.ID); !res.Success {
		t.Fatalf("start from confirmed: %s", res.Message)
	}
}

func TestCancelFromAnyNonTerminal(t *testing.T) {
	for _, setup := range []struct {
		name string
		prep func(ctrl *Controller, id string)
	}{
		{"scheduled", func(*Controller, string) {}},
		{"confirmed", func(ctrl *Controller, id string) {
			ctrl.Confirm(context.Background(), id)
		}},
		{"in_progress", func(ctrl *Controller, id string) {
			ctrl.Confirm(context.Background(), id)
			ctrl.Start(context.Background(), id)
		}},
	} {
		t.Run(setup.name, func(t *testing.T) {
			store := newFakeStore()
			appt := seedScheduled(t, store)
			notices := &fakeNotices{}
			ctrl := ownerController(store, notices)
			setup.prep(ctrl, appt.ID)

			res := ctrl.Cancel(context.Background(), appt.ID, "schedule change")
			if !res.Success {
				t.Fatalf("cancel from %s: %s", setup.name, res.Message)
			}
			if !res.Appointment.Status.IsTerminal() {
				t.Fatalf("cancelled must be terminal, got %s", res.Appointment.Status)
			}
			if notices.cancelled != 1 {
				t.Fatalf("expected 1 cancellation notice, got %d", notices.cancelled)
			}

			// Second cancel hits a terminal row and must fail.
			if res := ctrl.Cancel(context.Background(), appt.ID, ""); res.Success {
				t.Fatal("cancel on terminal status must fail")
			}
		})
	}
}

func TestParticipantMayCancelButNotConfirm(t *testing.T) {
	store := newFakeStore()
	appt := seedScheduled(t, store)
	ctrl := NewController(ParticipantView("prov-1", "req-1"), store, nil, nil, testLogger(), fixedNow)

	if res := ctrl.Confirm(context.Background(), appt.ID); res.Success || res.Code != http.StatusForbidden {
		t.Fatalf("requester confirm must be forbidden, got success=%v code=%d", res.Success, res.Code)
	}
	if res := ctrl.Cancel(context.Background(), appt.ID, "cannot make it"); !res.Success {
		t.Fatalf("requester cancel: %s", res.Message)
	}
}

func TestForeignAppointmentReadsAsNotFound(t *testing.T) {
	store := newFakeStore()
	appt := seedScheduled(t, store) // belongs to req-1
	ctrl := NewController(ParticipantView("prov-1", "req-2"), store, nil, nil, testLogger(), fixedNow)

	res := ctrl.Cancel(context.Background(), appt.ID, "")
	if res.Success || res.Code != http.StatusNotFound {
		t.Fatalf("foreign appointment must read as not found, got success=%v code=%d", res.Success, res.Code)
	}
}

func TestConcurrentConfirmAndCancel(t *testing.T) {
	store := newFakeStore()
	appt := seedScheduled(t, store)
	ctrl := ownerController(store, &fakeNotices{})

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = ctrl.Confirm(context.Background(), appt.ID)
	}()
	go func() {
		defer wg.Done()
		results[1] = ctrl.Cancel(context.Background(), appt.ID, "race")
	}()
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one of two racing transitions must win, got %d", succeeded)
	}
	got, _ := store.Get(context.Background(), appt.ID)
	if got.Status != model.StatusConfirmed && got.Status != model.StatusCancelled {
		t.Fatalf("final status must be confirmed or cancelled, got %s", got.Status)
	}
}

// staleReadStore serves Get from a fixed snapshot, modeling a read taken
// before a concurrent transition committed.
type staleReadStore struct {
	*fakeStore
	snapshot *model.Appointment
}

func (s *staleReadStore) Get(ctx context.Context, id string) (*model.Appointment, error) {
	if s.snapshot != nil && s.snapshot.ID == id {
		cp := *s.snapshot
		return &cp, nil
	}
	return s.fakeStore.Get(ctx, id)
}

func TestCancelLosesToInterleavedConfirm(t *testing.T) {
	store := newFakeStore()
	appt := seedScheduled(t, store)

	// Cancel saw the row while still scheduled; confirm commits before
	// cancel's conditional update runs.
	stale := *appt
	if res := ownerController(store, nil).Confirm(context.Background(), appt.ID); !res.Success {
		t.Fatalf("confirm: %s", res.Message)
	}

	ctrl := NewController(OwnerView("prov-1"), &staleReadStore{fakeStore: store, snapshot: &stale}, nil, nil, testLogger(), fixedNow)
	res := ctrl.Cancel(context.Background(), appt.ID, "race")
	if res.Success {
		t.Fatal("cancel working from a stale read must not apply on top of confirm")
	}
	if res.Code != http.StatusConflict {
		t.Fatalf("expected conflict, got %d (%s)", res.Code, res.Message)
	}
	got, _ := store.Get(context.Background(), appt.ID)
	if got.Status != model.StatusConfirmed {
		t.Fatalf("interleaved confirm must stand, got %s", got.Status)
	}
}

func TestNoShowLosesToInterleavedStart(t *testing.T) {
	store := newFakeStore()
	appt := seedScheduled(t, store)
	owner := ownerController(store, nil)
	if res := owner.Confirm(context.Background(), appt.ID); !res.Success {
		t.Fatalf("confirm: %s", res.Message)
	}

	stale, _ := store.Get(context.Background(), appt.ID) // confirmed
	if res := owner.Start(context.Background(), appt.ID); !res.Success {
		t.Fatalf("start: %s", res.Message)
	}

	ctrl := NewController(OwnerView("prov-1"), &staleReadStore{fakeStore: store, snapshot: stale}, nil, nil, testLogger(), fixedNow)
	if res := ctrl.MarkNoShow(context.Background(), appt.ID); res.Success || res.Code != http.StatusConflict {
		t.Fatalf("no-show over an interleaved start must conflict, got success=%v code=%d", res.Success, res.Code)
	}
	got, _ := store.Get(context.Background(), appt.ID)
	if got.Status != model.StatusInProgress {
		t.Fatalf("start must stand, got %s", got.Status)
	}
}

func TestBookReportsConflictOnOverlap(t *testing.T) {
	store := newFakeStore()
	seedScheduled(t, store)
	ctrl := ownerController(store, nil)

	res := ctrl.Book(context.Background(), BookRequest{
		RequesterID: "req-9",
		StartTime:   fixedNow().Add(48*time.Hour + 30*time.Minute),
		EndTime:     fixedNow().Add(49*time.Hour + 30*time.Minute),
		Modality:    model.ModalityOnline,
	})
	if res.Success || res.Code != http.StatusConflict {
		t.Fatalf("overlapping booking must conflict, got success=%v code=%d", res.Success, res.Code)
	}
}

func TestBookRejectsOverlapBeforeStorage(t *testing.T) {
	store := newFakeStore()
	seedScheduled(t, store)
	// A failing insert path proves the overlap is caught before Create runs.
	store.failCreate = true
	ctrl := ownerController(store, nil)

	res := ctrl.Book(context.Background(), BookRequest{
		RequesterID: "req-9",
		StartTime:   fixedNow().Add(48*time.Hour + 15*time.Minute),
		EndTime:     fixedNow().Add(48*time.Hour + 45*time.Minute),
		Modality:    model.ModalityOnline,
	})
	if res.Success || res.Code != http.StatusConflict {
		t.Fatalf("overlap must be rejected before storage, got success=%v code=%d (%s)", res.Success, res.Code, res.Message)
	}
}

func TestBookSurvivesReminderFailure(t *testing.T) {
	store := newFakeStore()
	notices := &fakeNotices{failPlaced: true}
	ctrl := ownerController(store, notices)

	res := ctrl.Book(context.Background(), BookRequest{
		RequesterID: "req-1",
		StartTime:   fixedNow().Add(24 * time.Hour),
		EndTime:     fixedNow().Add(25 * time.Hour),
		Modality:    model.ModalityPhone,
	})
	if !res.Success {
		t.Fatalf("booking must survive a reminder failure: %s", res.Message)
	}
	if res.Appointment == nil || res.Appointment.Status != model.StatusScheduled {
		t.Fatal("booked appointment must be persisted in scheduled status")
	}
	if res.Message == "appointment booked" {
		t.Fatal("expected a warning message when reminder scheduling fails")
	}
}

func TestNextAppointmentSkipsTerminal(t *testing.T) {
	store := newFakeStore()
	first := seedScheduled(t, store) // now+48h
	later, err := store.Create(context.Background(), &model.Appointment{
		ProviderID:  "prov-1",
		RequesterID: "req-1",
		StartTime:   fixedNow().Add(72 * time.Hour),
		EndTime:     fixedNow().Add(73 * time.Hour),
		Status:      model.StatusScheduled,
		Modality:    model.ModalityOnline,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	ctrl := ownerController(store, nil)

	if res := ctrl.Cancel(context.Background(), first.ID, ""); !res.Success {
		t.Fatalf("cancel: %s", res.Message)
	}
	next, err := ctrl.NextAppointment(context.Background())
	if err != nil {
		t.Fatalf("next appointment: %v", err)
	}
	if next == nil || next.ID != later.ID {
		t.Fatalf("expected %s as next appointment, got %+v", later.ID, next)
	}
}

type fakeSchedule struct {
	plan DayPlan
	err  error
}

func (f *fakeSchedule) DayPlan(context.Context, string, time.Time) (DayPlan, error) {
	return f.plan, f.err
}

func TestFreeSlotsOnDate(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)

	// One booked hour at 10:00 and an explicit block 14:00-17:00.
	if _, err := store.Create(context.Background(), &model.Appointment{
		ProviderID:  "prov-1",
		RequesterID: "req-1",
		StartTime:   day.Add(10 * time.Hour),
		EndTime:     day.Add(11 * time.Hour),
		Status:      model.StatusConfirmed,
		Modality:    model.ModalityInPerson,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	schedule := &fakeSchedule{plan: DayPlan{
		Windows:       []availability.Interval{{Start: day.Add(9 * time.Hour), End: day.Add(17 * time.Hour)}},
		Blocks:        []availability.Interval{{Start: day.Add(14 * time.Hour), End: day.Add(17 * time.Hour)}},
		SessionLength: time.Hour,
		SlotStep:      time.Hour,
	}}
	ctrl := NewController(OwnerView("prov-1"), store, nil, schedule, testLogger(), fixedNow)

	slots, err := ctrl.FreeSlotsOnDate(context.Background(), day)
	if err != nil {
		t.Fatalf("free slots: %v", err)
	}
	// 09:00 free, 10:00 booked, 11:00-13:00 free, 14:00+ blocked.
	want := []time.Time{day.Add(9 * time.Hour), day.Add(11 * time.Hour), day.Add(12 * time.Hour), day.Add(13 * time.Hour)}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, w := range want {
		if !slots[i].Start.Equal(w) {
			t.Fatalf("slot %d: expected %s, got %s", i, w.Format(time.RFC3339), slots[i].Start.Format(time.RFC3339))
		}
	}
}

func TestAppointmentsOnDateScopedToRequester(t *testing.T) {
	store := newFakeStore()
	mine := seedScheduled(t, store)
	if _, err := store.Create(context.Background(), &model.Appointment{
		ProviderID:  "prov-1",
		RequesterID: "req-2",
		StartTime:   mine.StartTime.Add(2 * time.Hour),
		EndTime:     mine.StartTime.Add(3 * time.Hour),
		Status:      model.StatusScheduled,
		Modality:    model.ModalityOnline,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctrl := NewController(ParticipantView("prov-1", "req-1"), store, nil, nil, testLogger(), fixedNow)
	appts, err := ctrl.AppointmentsOnDate(context.Background(), mine.StartTime)
	if err != nil {
		t.Fatalf("appointments on date: %v", err)
	}
	if len(appts) != 1 || appts[0].ID != mine.ID {
		t.Fatalf("participant view must only see own appointments, got %d rows", len(appts))
	}
}
