package availability

import "time"

type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is a bookable stretch of a provider's day.
type Slot struct {
	Start time.Time
	End   time.Time
}

// FreeSlots returns slots within [windowStart, windowEnd) where a session of
// length duration would not overlap any of the busy intervals. Busy covers
// both booked appointments and availability blocks.
//
// All times are expected to be in the same location (timezone).
func FreeSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []Slot {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []Slot
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			slots = append(slots, Slot{Start: t, End: t.Add(duration)})
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// Overlaps reports whether [start,end) intersects any existing interval. The
// booking path uses it to reject double bookings before touching storage.
func Overlaps(start, end time.Time, existing []Interval) bool {
	return overlapsAny(start, end, existing)
}
