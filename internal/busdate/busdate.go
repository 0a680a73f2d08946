// Package busdate computes legally meaningful deadlines. It is pure and
// stateless: safe to share across requests without synchronization.
package busdate

import (
	"time"
)

const dayKey = "2006-01-02"

// Calendar knows which calendar days are non-working. Weekends are always
// non-working; holidays come from configuration.
type Calendar struct {
	holidays map[string]struct{}
}

// NewCalendar builds a calendar from holiday dates in YYYY-MM-DD form.
func NewCalendar(holidays []string) Calendar {
	m := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		m[h] = struct{}{}
	}
	return Calendar{holidays: m}
}

// IsWorking reports whether t falls on a working day in t's location.
func (c Calendar) IsWorking(t time.Time) bool {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[t.Format(dayKey)]
	return !holiday
}

// Days converts a whole number of days into a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// Deadline derives the instant at which a period of length d starting at
// start elapses.
//
// With accel > 0 the calendar is bypassed entirely and the result is
// start + d/accel; this is the test-only compression of real durations.
//
// With workingDays unset the result is the plain start + d.
//
// With workingDays set, the walk moves forward from start skipping weekends
// and holidays until d worth of working time has elapsed. A non-positive d
// returns start unchanged. A start on a non-working day is first advanced to
// the next working day's midnight.
func (c Calendar) Deadline(start time.Time, d time.Duration, workingDays bool, accel int) time.Time {
	if accel > 0 {
		return start.Add(d / time.Duration(accel))
	}
	if !workingDays {
		return start.Add(d)
	}
	if d <= 0 {
		return start
	}
	cur := start
	if !c.IsWorking(cur) {
		cur = c.nextWorkingMidnight(cur)
	}
	remaining := d
	for remaining > 0 {
		dayEnd := FloorDay(cur).Add(24 * time.Hour)
		span := dayEnd.Sub(cur)
		if span > remaining {
			span = remaining
		}
		cur = cur.Add(span)
		remaining -= span
		if !c.IsWorking(cur) {
			cur = c.nextWorkingMidnight(cur)
		}
	}
	return cur
}

func (c Calendar) nextWorkingMidnight(t time.Time) time.Time {
	next := FloorDay(t).Add(24 * time.Hour)
	for !c.IsWorking(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// FloorDay truncates t to midnight of its own day.
func FloorDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CeilDay rounds t up to the next midnight unless it already is one.
func CeilDay(t time.Time) time.Time {
	floored := FloorDay(t)
	if floored.Equal(t) {
		return t
	}
	return floored.Add(24 * time.Hour)
}

// NormalizeDay aligns a period boundary to a day boundary: up to the next
// midnight when the elapsed remainder is non-zero and the requested duration
// was strictly positive, down to the same day's midnight otherwise.
func NormalizeDay(t time.Time, d time.Duration) time.Time {
	if d > 0 {
		return CeilDay(t)
	}
	return FloorDay(t)
}
