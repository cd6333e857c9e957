// Package market holds the exchange calendar used to gate the trading loop.
package market

import (
	"fmt"
	"time"
	_ "time/tzdata" // Embedded zone data so the calendar works in minimal containers.
)

// Calendar describes regular weekday trading hours in one timezone.
type Calendar struct {
	loc            *time.Location
	open           clock
	close          clock
	preCloseWindow time.Duration
	summaryCutoff  clock
}

type clock struct{ hour, minute int }

func (c clock) on(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.hour, c.minute, 0, 0, t.Location())
}

func parseClock(s string) (clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return clock{}, fmt.Errorf("invalid time of day %q (want HH:MM): %w", s, err)
	}
	return clock{hour: t.Hour(), minute: t.Minute()}, nil
}

// NewCalendar builds a calendar. open, close and summaryCutoff are "HH:MM" in timezone.
func NewCalendar(timezone, open, close string, preCloseWindow time.Duration, summaryCutoff string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone %q: %w", timezone, err)
	}
	o, err := parseClock(open)
	if err != nil {
		return nil, err
	}
	c, err := parseClock(close)
	if err != nil {
		return nil, err
	}
	s, err := parseClock(summaryCutoff)
	if err != nil {
		return nil, err
	}
	if o.hour*60+o.minute >= c.hour*60+c.minute {
		return nil, fmt.Errorf("market open %s must be before close %s", open, close)
	}
	if preCloseWindow < 0 {
		return nil, fmt.Errorf("pre-close window must not be negative, got %s", preCloseWindow)
	}
	return &Calendar{loc: loc, open: o, close: c, preCloseWindow: preCloseWindow, summaryCutoff: s}, nil
}

// USEquities returns the NYSE regular-session calendar.
func USEquities() *Calendar {
	cal, err := NewCalendar("America/New_York", "09:30", "16:00", 15*time.Minute, "16:30")
	if err != nil {
		panic(err)
	}
	return cal
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsOpen reports whether t falls inside regular hours, both ends inclusive.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	if !isWeekday(local) {
		return false
	}
	return !local.Before(c.open.on(local)) && !local.After(c.close.on(local))
}

// InPreCloseWindow reports whether t is within the configured window before the close.
func (c *Calendar) InPreCloseWindow(t time.Time) bool {
	if !c.IsOpen(t) {
		return false
	}
	local := t.In(c.loc)
	return !local.Before(c.close.on(local).Add(-c.preCloseWindow))
}

// PastSummaryCutoff reports whether t is on a weekday at or after the end-of-day summary time.
func (c *Calendar) PastSummaryCutoff(t time.Time) bool {
	local := t.In(c.loc)
	return isWeekday(local) && !local.Before(c.summaryCutoff.on(local))
}

// TradingDate returns t's calendar date in the market timezone as YYYY-MM-DD.
func (c *Calendar) TradingDate(t time.Time) string {
	return t.In(c.loc).Format(time.DateOnly)
}

// TimeToClose returns the time left in today's session, or zero when closed.
func (c *Calendar) TimeToClose(t time.Time) time.Duration {
	if !c.IsOpen(t) {
		return 0
	}
	local := t.In(c.loc)
	return c.close.on(local).Sub(local)
}
