// Package clock provides market session awareness: trading days, holidays,
// early closes, and time until close. All inputs and outputs are UTC; the
// session math happens in America/New_York.
package clock

import (
	"time"
)

// Calendar lists the non-trading and shortened days for one or more years.
// Dates are keyed by "2006-01-02" in New York time.
type Calendar struct {
	Holidays       map[string]bool
	EarlyCloses    map[string]bool
	EarlyCloseHour int // NY hour of the shortened close
	EarlyCloseMin  int
}

// DefaultCalendar2026 is the NYSE calendar for 2026.
func DefaultCalendar2026() Calendar {
	return Calendar{
		Holidays: map[string]bool{
			"2026-01-01": true, // New Year's
			"2026-01-19": true, // MLK Day
			"2026-02-16": true, // Presidents' Day
			"2026-04-03": true, // Good Friday
			"2026-05-25": true, // Memorial Day
			"2026-07-03": true, // Independence Day (observed)
			"2026-09-07": true, // Labor Day
			"2026-11-26": true, // Thanksgiving
			"2026-12-25": true, // Christmas
		},
		EarlyCloses: map[string]bool{
			"2026-07-03": true,
			"2026-11-27": true, // day after Thanksgiving
			"2026-12-24": true, // Christmas Eve
		},
		EarlyCloseHour: 13,
		EarlyCloseMin:  0,
	}
}

// Session answers market-hours questions against a calendar.
type Session struct {
	calendar Calendar
	loc      *time.Location
}

func NewSession(calendar Calendar) (*Session, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	if calendar.EarlyCloseHour == 0 && calendar.EarlyCloseMin == 0 {
		calendar.EarlyCloseHour = 13
	}
	return &Session{calendar: calendar, loc: loc}, nil
}

// IsTradingDay reports whether the NY date of t is a weekday and not a
// holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	ny := t.In(s.loc)
	if wd := ny.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !s.calendar.Holidays[ny.Format("2006-01-02")]
}

// IsMarketOpen reports whether the market is open at t. The open and close
// boundaries are inclusive, matching the session bounds.
func (s *Session) IsMarketOpen(t time.Time) bool {
	open, close, ok := s.SessionBounds(t)
	if !ok {
		return false
	}
	return !t.Before(open) && !t.After(close)
}

// SessionBounds returns the UTC open and close of the session containing t's
// NY date. ok is false on weekends and holidays.
func (s *Session) SessionBounds(t time.Time) (open, close time.Time, ok bool) {
	if !s.IsTradingDay(t) {
		return time.Time{}, time.Time{}, false
	}

	ny := t.In(s.loc)
	y, m, d := ny.Date()

	openNY := time.Date(y, m, d, 9, 30, 0, 0, s.loc)
	closeNY := time.Date(y, m, d, 16, 0, 0, 0, s.loc)
	if s.calendar.EarlyCloses[ny.Format("2006-01-02")] {
		closeNY = time.Date(y, m, d, s.calendar.EarlyCloseHour, s.calendar.EarlyCloseMin, 0, 0, s.loc)
	}

	return openNY.UTC(), closeNY.UTC(), true
}

// MinutesUntilClose returns minutes to the session close, negative after
// close, zero on non-trading days.
func (s *Session) MinutesUntilClose(t time.Time) float64 {
	_, close, ok := s.SessionBounds(t)
	if !ok {
		return 0
	}
	return close.Sub(t).Minutes()
}

// IsPreCloseWindow reports whether t falls within windowMinutes of close.
func (s *Session) IsPreCloseWindow(t time.Time, windowMinutes float64) bool {
	mins := s.MinutesUntilClose(t)
	return mins > 0 && mins <= windowMinutes
}

// UTCMidnight returns the start of t's UTC day.
func UTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
