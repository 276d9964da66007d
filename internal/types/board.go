package types

import (
	"time"
)

// LessOneDay is the last representable time of day: one tick before midnight.
const LessOneDay = 24*time.Hour - time.Nanosecond

// TimeRange is a [Min, Max) time-of-day interval. Values outside [0, 24h)
// are legal: converting a board-local session to UTC may roll a boundary
// before midnight (negative) or past it (above 24h).
type TimeRange struct {
	Min time.Duration
	Max time.Duration
}

// Contains reports whether r fully contains other.
func (r TimeRange) Contains(other TimeRange) bool {
	return r.Min <= other.Min && other.Max <= r.Max
}

// Intersects reports whether r and other share at least one point.
func (r TimeRange) Intersects(other TimeRange) bool {
	return r.Min <= other.Max && other.Min <= r.Max
}

// Board is an exchange or trading venue with its own session calendar and
// time zone. Sessions are board-local time-of-day ranges; a board with no
// sessions is treated as trading the full day.
type Board struct {
	Code     string
	Location *time.Location
	Sessions []TimeRange
	// Holidays are non-trading dates that would otherwise be working days.
	Holidays []time.Time
	// SpecialWorkingDays are trading dates that would otherwise be weekends
	// or holidays.
	SpecialWorkingDays []time.Time
}

// IsTradeDate reports whether the board trades on the given calendar date.
func (b *Board) IsTradeDate(date time.Time) bool {
	for _, d := range b.SpecialWorkingDays {
		if sameDate(d, date) {
			return true
		}
	}

	for _, d := range b.Holidays {
		if sameDate(d, date) {
			return false
		}
	}

	wd := date.Weekday()

	return wd != time.Saturday && wd != time.Sunday
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return ay == by && am == bm && ad == bd
}
