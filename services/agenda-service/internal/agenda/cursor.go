package agenda

import "time"

// Cursor tracks the date an agenda view is centered on. It only
// parameterizes date-scoped reads; moving it never touches storage.
type Cursor struct {
	current time.Time
	now     func() time.Time
}

// NewCursor starts a cursor at today's date. The clock is injectable for
// tests; pass nil for the wall clock.
func NewCursor(now func() time.Time) *Cursor {
	if now == nil {
		now = time.Now
	}
	c := &Cursor{now: now}
	c.Today()
	return c
}

// Current returns the date the cursor points at, truncated to midnight in
// the cursor's location.
func (c *Cursor) Current() time.Time { return c.current }

func (c *Cursor) Today() {
	n := c.now()
	c.current = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, n.Location())
}

func (c *Cursor) NextWeek() { c.current = c.current.AddDate(0, 0, 7) }
func (c *Cursor) PrevWeek() { c.current = c.current.AddDate(0, 0, -7) }

func (c *Cursor) NextMonth() { c.current = c.current.AddDate(0, 1, 0) }
func (c *Cursor) PrevMonth() { c.current = c.current.AddDate(0, -1, 0) }

// JumpTo moves the cursor to an arbitrary date.
func (c *Cursor) JumpTo(t time.Time) {
	c.current = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
