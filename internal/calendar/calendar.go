// Package calendar decides which dates are trading sessions.
package calendar

import (
	"fmt"
	"time"

	"TrendSentinel/internal/model"
)

// Calendar excludes weekends and an injectable set of market holidays.
type Calendar struct {
	holidays map[string]struct{}
}

// New builds a calendar from holiday dates.
func New(holidays ...time.Time) *Calendar {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[h.Format(model.DateLayout)] = struct{}{}
	}
	return c
}

// Parse builds a calendar from "YYYY-MM-DD" strings.
func Parse(holidays []string) (*Calendar, error) {
	dates := make([]time.Time, 0, len(holidays))
	for _, h := range holidays {
		d, err := time.Parse(model.DateLayout, h)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", h, err)
		}
		dates = append(dates, d)
	}
	return New(dates...), nil
}

// Day truncates t to its calendar date in t's own location, returned as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsHoliday reports whether date is a configured holiday.
func (c *Calendar) IsHoliday(date time.Time) bool {
	_, ok := c.holidays[date.Format(model.DateLayout)]
	return ok
}

// IsSession reports whether date is a trading session.
func (c *Calendar) IsSession(date time.Time) bool {
	return !weekend(date) && !c.IsHoliday(date)
}

// NextSessions returns count sessions strictly after the given date, ascending.
func (c *Calendar) NextSessions(after time.Time, count int) []time.Time {
	out := make([]time.Time, 0, max(count, 0))
	d := Day(after)
	for len(out) < count {
		d = d.AddDate(0, 0, 1)
		if c.IsSession(d) {
			out = append(out, d)
		}
	}
	return out
}

// PriorSessions returns count weekdays strictly before the given date, most recent first.
// Holidays are skipped only when excludeHolidays is set.
func (c *Calendar) PriorSessions(before time.Time, count int, excludeHolidays bool) []time.Time {
	out := make([]time.Time, 0, max(count, 0))
	d := Day(before)
	for len(out) < count {
		d = d.AddDate(0, 0, -1)
		if weekend(d) || (excludeHolidays && c.IsHoliday(d)) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// LatestSession returns date itself when it is a session, otherwise the closest earlier one.
func (c *Calendar) LatestSession(date time.Time) time.Time {
	d := Day(date)
	for !c.IsSession(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
