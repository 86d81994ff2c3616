package availability

import (
	"testing"
	"time"
)

func TestFreeSlots_Basic(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, loc)
	windowStart := time.Date(2026, 9, 2, 9, 0, 0, 0, loc)
	windowEnd := time.Date(2026, 9, 2, 11, 0, 0, 0, loc)

	busy := []Interval{
		{Start: day.Add(9*time.Hour + 30*time.Minute), End: day.Add(10*time.Hour + 30*time.Minute)},
	}

	slots := FreeSlots(windowStart, windowEnd, 30*time.Minute, 30*time.Minute, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start.Format(time.RFC3339))
	}
	if !slots[1].Start.Equal(day.Add(10*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected second slot 10:30, got %s", slots[1].Start.Format(time.RFC3339))
	}
	if !slots[1].End.Equal(day.Add(11 * time.Hour)) {
		t.Fatalf("expected second slot to end 11:00, got %s", slots[1].End.Format(time.RFC3339))
	}
}

func TestFreeSlots_SkipsPast(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, loc)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	now := day.Add(9*time.Hour + 31*time.Minute)
	slots := FreeSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, nil, now)
	// 09:00, 09:15, 09:30 are in the past (start < now). 09:45 is future.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Start.Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Start.Format(time.RFC3339))
	}
}

func TestFreeSlots_TooShortWindow(t *testing.T) {
	start := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	if slots := FreeSlots(start, start.Add(20*time.Minute), 30*time.Minute, 15*time.Minute, nil, start); slots != nil {
		t.Fatalf("expected no slots in a window shorter than the session, got %d", len(slots))
	}
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	existing := []Interval{{Start: base, End: base.Add(time.Hour)}}

	if !Overlaps(base.Add(30*time.Minute), base.Add(90*time.Minute), existing) {
		t.Fatal("expected overlap for a straddling interval")
	}
	// Half-open: back-to-back sessions do not collide.
	if Overlaps(base.Add(time.Hour), base.Add(2*time.Hour), existing) {
		t.Fatal("adjacent interval should not overlap")
	}
}
