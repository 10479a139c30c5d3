// Package timeutil provides school-timezone calendar helpers. Weekly and
// monthly house statistics reset at local midnight on Monday and on the 1st,
// so every boundary is computed in the school's location, not UTC.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// Clock is a source of time bound to a location.
type Clock struct {
	loc *time.Location

	mu  sync.RWMutex
	now func() time.Time
}

// NewClock returns a Clock for the IANA zone name ("" means UTC).
func NewClock(zone string) (*Clock, error) {
	if zone == "" {
		return &Clock{loc: time.UTC, now: time.Now}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// MustClock is NewClock that panics on an unknown zone.
func MustClock(zone string) *Clock {
	c, err := NewClock(zone)
	if err != nil {
		panic(err)
	}
	return c
}

// Fixed returns a Clock frozen at t, in t's location.
func Fixed(t time.Time) *Clock {
	return &Clock{loc: t.Location(), now: func() time.Time { return t }}
}

// Set replaces the time source. Tests use it to advance a fixed clock.
func (c *Clock) Set(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	now := c.now
	c.mu.RUnlock()
	return now().In(c.loc)
}

// StartOfDay returns local midnight of t's day.
func (c *Clock) StartOfDay(t time.Time) time.Time {
	l := t.In(c.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.loc)
}

// StartOfWeek returns local midnight of the Monday of t's week.
func (c *Clock) StartOfWeek(t time.Time) time.Time {
	day := c.StartOfDay(t)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// StartOfMonth returns local midnight of the 1st of t's month.
func (c *Clock) StartOfMonth(t time.Time) time.Time {
	l := t.In(c.loc)
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, c.loc)
}

// ThisWeek returns [Monday 00:00, next Monday 00:00) around now.
func (c *Clock) ThisWeek() (from, to time.Time) {
	from = c.StartOfWeek(c.Now())
	return from, from.AddDate(0, 0, 7)
}

// ThisMonth returns [1st 00:00, next 1st 00:00) around now.
func (c *Clock) ThisMonth() (from, to time.Time) {
	from = c.StartOfMonth(c.Now())
	return from, from.AddDate(0, 1, 0)
}

// FormatDate formats t as YYYY-MM-DD in the clock's location.
func (c *Clock) FormatDate(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}
