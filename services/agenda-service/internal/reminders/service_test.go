package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/practicehq/agendly/services/agenda-service/internal/model"
	"github.com/practicehq/agendly/services/agenda-service/internal/notify"
	"github.com/practicehq/agendly/services/agenda-service/internal/profile"
)

type fakeReminderStore struct {
	mu   sync.Mutex
	rows map[string]*model.Reminder
	seq  int
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{rows: map[string]*model.Reminder{}}
}

func (s *fakeReminderStore) Create(_ context.Context, r *model.Reminder) (*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	cp := *r
	cp.ID = fmt.Sprintf("rem-%d", s.seq)
	cp.CreatedAt = time.Now().UTC()
	s.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *fakeReminderStore) Get(_ context.Context, id string) (*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeReminderStore) MarkOutcome(_ context.Context, id string, status model.DeliveryStatus, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return model.ErrNotFound
	}
	r.Status = status
	r.SentAt = sentAt
	if status == model.DeliverySent || status == model.DeliveryFailed {
		r.Attempts++
	}
	return nil
}

func (s *fakeReminderStore) ClaimDue(_ context.Context, limit int, _ time.Duration, maxAttempts int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Add(365 * 24 * time.Hour) // everything is due in tests
	var ids []string
	for id, r := range s.rows {
		if len(ids) >= limit {
			break
		}
		if (r.Status == model.DeliveryPending || r.Status == model.DeliveryFailed) &&
			r.Attempts < maxAttempts && !r.ScheduledFor.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeReminderStore) byType(t model.ReminderType) *model.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Type == t {
			cp := *r
			return &cp
		}
	}
	return nil
}

func (s *fakeReminderStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeAppointments struct {
	mu   sync.Mutex
	rows map[string]*model.Appointment
}

func (f *fakeAppointments) Get(_ context.Context, id string) (*model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

type sentMessage struct {
	Recipient string
	Kind      model.ReminderType
	Payload   notify.Payload
}

type fakeChannel struct {
	mu       sync.Mutex
	sent     []sentMessage
	failNext bool
}

func (c *fakeChannel) Send(_ context.Context, recipient string, kind model.ReminderType, p notify.Payload) (notify.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return notify.Delivery{}, errors.New("smtp connect refused")
	}
	c.sent = append(c.sent, sentMessage{Recipient: recipient, Kind: kind, Payload: p})
	return notify.Delivery{ChannelMessageID: fmt.Sprintf("msg-%d", len(c.sent))}, nil
}

func (c *fakeChannel) sends() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

var testNow = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func newFixture(start time.Time) (*Service, *fakeReminderStore, *fakeChannel, *model.Appointment) {
	store := newFakeReminderStore()
	appt := &model.Appointment{
		ID:          "appt-1",
		ProviderID:  "prov-1",
		RequesterID: "req-1",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Status:      model.StatusScheduled,
		Modality:    model.ModalityOnline,
		VideoLink:   "https://meet.agendly.local/appt-1",
	}
	appointments := &fakeAppointments{rows: map[string]*model.Appointment{appt.ID: appt}}
	resolver := profile.NewStaticResolver(map[string]profile.Contact{
		"prov-1": {Email: "dr.lane@example.com", DisplayName: "Dr. Lane"},
		"req-1":  {Email: "sam@example.com", DisplayName: "Sam Ortiz"},
	})
	channel := &fakeChannel{}
	svc := NewService(store, appointments, resolver, channel, nil, slog.New(slog.DiscardHandler), func() time.Time { return testNow })
	return svc, store, channel, appt
}

type fakeEventSink struct {
	mu     sync.Mutex
	sent   []string
	failed []string
}

func (f *fakeEventSink) ReminderSent(_ context.Context, rem *model.Reminder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, rem.ID)
}

func (f *fakeEventSink) ReminderFailed(_ context.Context, rem *model.Reminder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, rem.ID)
}

func TestProcessReportsOutcomeEvents(t *testing.T) {
	svc, store, channel, appt := newFixture(testNow.Add(30 * time.Hour))
	sink := &fakeEventSink{}
	svc.events = sink

	rem, err := store.Create(context.Background(), &model.Reminder{
		AppointmentID: appt.ID,
		Type:          model.Reminder24h,
		RecipientID:   appt.RequesterID,
		ScheduledFor:  testNow,
		Status:        model.DeliveryPending,
	})
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	channel.failNext = true
	if got := svc.Process(context.Background(), rem.ID); got != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %q", got)
	}
	if len(sink.failed) != 1 || sink.failed[0] != rem.ID {
		t.Fatalf("expected one failed event for %s, got %v", rem.ID, sink.failed)
	}

	if got := svc.Process(context.Background(), rem.ID); got != OutcomeSent {
		t.Fatalf("expected sent outcome on retry, got %q", got)
	}
	if len(sink.sent) != 1 || sink.sent[0] != rem.ID {
		t.Fatalf("expected one sent event for %s, got %v", rem.ID, sink.sent)
	}

	// Idempotent redispatch stays silent.
	if got := svc.Process(context.Background(), rem.ID); got != OutcomeAlreadySent {
		t.Fatalf("expected already_sent, got %q", got)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected no extra sent events, got %v", sink.sent)
	}
}

func TestBookingPlacedFarFuture(t *testing.T) {
	svc, store, channel, appt := newFixture(testNow.Add(30 * time.Hour))

	if err := svc.BookingPlaced(context.Background(), appt); err != nil {
		t.Fatalf("booking placed: %v", err)
	}

	if got := store.count(); got != 3 {
		t.Fatalf("expected 3 reminders for a 30h-out booking, got %d", got)
	}
	received := store.byType(model.ReminderBookingReceived)
	if received == nil || !received.ScheduledFor.Equal(testNow) {
		t.Fatalf("booking_received must be due immediately, got %+v", received)
	}
	if received.Status != model.DeliverySent {
		t.Fatalf("booking_received must be dispatched synchronously, status %s", received.Status)
	}
	r24 := store.byType(model.Reminder24h)
	if r24 == nil || !r24.ScheduledFor.Equal(appt.StartTime.Add(-24*time.Hour)) {
		t.Fatalf("reminder_24h due time wrong: %+v", r24)
	}
	r1 := store.byType(model.Reminder1h)
	if r1 == nil || !r1.ScheduledFor.Equal(appt.StartTime.Add(-time.Hour)) {
		t.Fatalf("reminder_1h due time wrong: %+v", r1)
	}

	// Requester booking_received plus the direct provider notice.
	sends := channel.sends()
	if len(sends) != 2 {
		t.Fatalf("expected 2 immediate sends, got %d", len(sends))
	}
	recipients := map[string]bool{}
	for _, m := range sends {
		recipients[m.Recipient] = true
	}
	if !recipients["sam@example.com"] || !recipients["dr.lane@example.com"] {
		t.Fatalf("both participants must be notified immediately, got %v", recipients)
	}
}

func TestBookingPlacedImminentStart(t *testing.T) {
	svc, store, _, appt := newFixture(testNow.Add(30 * time.Minute))

	if err := svc.BookingPlaced(context.Background(), appt); err != nil {
		t.Fatalf("booking placed: %v", err)
	}
	if got := store.count(); got != 1 {
		t.Fatalf("a 30min-out booking gets only booking_received, got %d reminders", got)
	}
	if store.byType(model.Reminder24h) != nil || store.byType(model.Reminder1h) != nil {
		t.Fatal("offset reminders with past due times must never be created")
	}
}

func TestProcessIdempotentOnSent(t *testing.T) {
	svc, store, channel, appt := newFixture(testNow.Add(48 * time.Hour))
	sentAt := testNow.Add(-time.Minute)
	rem, err := store.Create(context.Background(), &model.Reminder{
		AppointmentID: appt.ID,
		Type:          model.Reminder24h,
		RecipientID:   appt.RequesterID,
		ScheduledFor:  testNow,
		Status:        model.DeliverySent,
		SentAt:        &sentAt,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if outcome := svc.Process(context.Background(), rem.ID); outcome != OutcomeAlreadySent {
		t.Fatalf("expected already_sent, got %s", outcome)
	}
	if len(channel.sends()) != 0 {
		t.Fatal("processing a sent reminder must not contact the channel")
	}
}

func TestProcessSkipsInactiveAppointment(t *testing.T) {
	svc, store, channel, appt := newFixture(testNow.Add(48 * time.Hour))
	appt.Status = model.StatusCancelled
	svc.appointments.(*fakeAppointments).rows[appt.ID] = appt

	rem, err := store.Create(context.Background(), &model.Reminder{
		AppointmentID: appt.ID,
		Type:          model.Reminder24h,
		RecipientID:   appt.RequesterID,
		ScheduledFor:  testNow,
		Status:        model.DeliveryPending,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if outcome := svc.Process(context.Background(), rem.ID); outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", outcome)
	}
	got, _ := store.Get(context.Background(), rem.ID)
	if got.Status != model.DeliverySkipped {
		t.Fatalf("expected stored status skipped, got %s", got.Status)
	}
	if len(channel.sends()) != 0 {
		t.Fatal("skipped reminder must not contact the channel")
	}
}

func TestProcessCancellationSentForDeadAppointment(t *testing.T) {
	svc, store, channel, appt := newFixture(testNow.Add(48 * time.Hour))
	appt.Status = model.StatusCancelled
	svc.appointments.(*fakeAppointments).rows[appt.ID] = appt

	rem, err := store.Create(context.Background(), &model.Reminder{
		AppointmentID: appt.ID,
		Type:          model.ReminderCancellation,
		RecipientID:   appt.RequesterID,
		ScheduledFor:  testNow,
		Message:       "provider unavailable",
		Status:        model.DeliveryPending,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if outcome := svc.Process(context.Background(), rem.ID); outcome != OutcomeSent {
		t.Fatalf("cancellation must go out for a cancelled appointment, got %s", outcome)
	}
	sends := channel.sends()
	if len(sends) != 1 || sends[0].Kind != model.ReminderCancellation {
		t.Fatalf("expected one cancellation send, got %+v", sends)
	}
	if sends[0].Payload.CustomMessage != "provider unavailable" {
		t.Fatalf("cancellation reason must ride along, got %q", sends[0].Payload.CustomMessage)
	}
}

func TestBookingCancelledNotifiesCounterpart(t *testing.T) {
	svc, store, channel, appt := newFixture(testNow.Add(48 * time.Hour))
	appt.Status = model.StatusCancelled
	svc.appointments.(*fakeAppointments).rows[appt.ID] = appt

	// Requester cancels; the provider gets the notice.
	if err := svc.BookingCancelled(context.Background(), appt, appt.RequesterID, "feeling better"); err != nil {
		t.Fatalf("booking cancelled: %v", err)
	}
	rem := store.byType(model.ReminderCancellation)
	if rem == nil || rem.RecipientID != appt.ProviderID {
		t.Fatalf("expected cancellation addressed to the provider, got %+v", rem)
	}
	sends := channel.sends()
	if len(sends) != 1 || sends[0].Recipient != "dr.lane@example.com" {
		t.Fatalf("expected one send to the provider, got %+v", sends)
	}
}

func TestProcessRecordsChannelFailure(t *testing.T) {
	svc, store, channel, appt := newFixture(testNow.Add(48 * time.Hour))
	channel.failNext = true

	rem, err := store.Create(context.Background(), &model.Reminder{
		AppointmentID: appt.ID,
		Type:          model.Reminder1h,
		RecipientID:   appt.RequesterID,
		ScheduledFor:  testNow,
		Status:        model.DeliveryPending,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if outcome := svc.Process(context.Background(), rem.ID); outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", outcome)
	}
	got, _ := store.Get(context.Background(), rem.ID)
	if got.Status != model.DeliveryFailed || got.Attempts != 1 {
		t.Fatalf("failure must be recorded with an attempt, got status=%s attempts=%d", got.Status, got.Attempts)
	}

	// The sweep retries failed rows; the second attempt succeeds.
	if outcome := svc.Process(context.Background(), rem.ID); outcome != OutcomeSent {
		t.Fatalf("retry should succeed, got %s", outcome)
	}
	got, _ = store.Get(context.Background(), rem.ID)
	if got.Status != model.DeliverySent || got.SentAt == nil {
		t.Fatalf("retry must mark sent with sent-at, got %+v", got)
	}
}

func TestProcessUnresolvableRecipient(t *testing.T) {
	svc, store, _, appt := newFixture(testNow.Add(48 * time.Hour))
	rem, err := store.Create(context.Background(), &model.Reminder{
		AppointmentID: appt.ID,
		Type:          model.Reminder24h,
		RecipientID:   "ghost-participant",
		ScheduledFor:  testNow,
		Status:        model.DeliveryPending,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if outcome := svc.Process(context.Background(), rem.ID); outcome != OutcomeNotFound {
		t.Fatalf("expected not_found for unresolvable recipient, got %s", outcome)
	}
	got, _ := store.Get(context.Background(), rem.ID)
	if got.Status != model.DeliveryFailed {
		t.Fatalf("unresolvable recipient must record failed, got %s", got.Status)
	}
}

func TestSweepBatchDispatchesDueRows(t *testing.T) {
	svc, store, channel, appt := newFixture(testNow.Add(48 * time.Hour))
	for i := 0; i < 3; i++ {
		if _, err := store.Create(context.Background(), &model.Reminder{
			AppointmentID: appt.ID,
			Type:          model.Reminder24h,
			RecipientID:   appt.RequesterID,
			ScheduledFor:  testNow.Add(-time.Minute),
			Status:        model.DeliveryPending,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	sweep := NewSweep(svc, store, slog.New(slog.DiscardHandler), SweepConfig{BatchSize: 10})
	sweep.runBatch(context.Background())

	if got := len(channel.sends()); got != 3 {
		t.Fatalf("expected 3 dispatches, got %d", got)
	}
	ids, err := store.ClaimDue(context.Background(), 10, time.Minute, 5)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("all rows should be sent after the sweep, %d still due", len(ids))
	}
}
