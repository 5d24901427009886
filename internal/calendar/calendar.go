// Package calendar provides trading-calendar awareness for China A-shares:
// session windows, period grid alignment, and annualization factors.
//
// Holidays are not modelled explicitly. A non-trading day simply has no bars
// in the store, so consumers treat absence as a gap rather than expecting a
// zero-filled record.
package calendar

import (
	"time"

	"backlab/internal/domain"
)

// China has no daylight saving, so a fixed offset is sufficient.
var cst = time.FixedZone("CST", 8*60*60)

// Session boundaries in minutes from local midnight.
const (
	morningOpen    = 9*60 + 30  // 09:30
	morningClose   = 11*60 + 30 // 11:30
	afternoonOpen  = 13 * 60    // 13:00
	afternoonClose = 15 * 60    // 15:00

	sessionMinutes = (morningClose - morningOpen) + (afternoonClose - afternoonOpen) // 240

	// TradingDaysPerYear is the A-share convention used for annualization.
	TradingDaysPerYear = 244
)

// Calendar answers trading-time questions for the A-share market.
type Calendar struct {
	loc *time.Location
}

// New returns an A-share trading calendar.
func New() *Calendar {
	return &Calendar{loc: cst}
}

// IsTradingDay reports whether t falls on a weekday. Exchange holidays are
// weekdays too; they show up as days with no bars and are handled by the
// absence convention, not by this check.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// InSession reports whether t falls inside a trading session, with the bar
// convention that a period-start timestamp at session close belongs to the
// previous bar and is therefore out of session.
func (c *Calendar) InSession(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	m := minuteOfDay(t.In(c.loc))
	return (m >= morningOpen && m < morningClose) || (m >= afternoonOpen && m < afternoonClose)
}

// BucketStart returns the period-aligned bucket start containing t.
// Intraday buckets are anchored at each session open and returned as UTC
// instants. Daily and coarser buckets are date-stamps: UTC midnight of the
// local trading day, week-start Monday, or first of month — the same
// convention remote sources use for trade dates. The second return value is
// false when t falls outside any bucket (intraday timestamps outside trading
// sessions).
func (c *Calendar) BucketStart(t time.Time, p domain.Period) (time.Time, bool) {
	local := t.In(c.loc)

	switch {
	case p.Intraday():
		if !c.InSession(t) {
			return time.Time{}, false
		}
		m := minuteOfDay(local)
		width := int(p.Duration() / time.Minute)
		open := morningOpen
		if m >= afternoonOpen {
			open = afternoonOpen
		}
		aligned := open + (m-open)/width*width
		return midnight(local).Add(time.Duration(aligned) * time.Minute).UTC(), true

	case p == domain.PeriodDaily:
		return dateStamp(local), true

	case p == domain.PeriodWeekly:
		// Weeks start on Monday.
		back := (int(local.Weekday()) + 6) % 7
		return dateStamp(local.AddDate(0, 0, -back)), true

	case p == domain.PeriodMonthly:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC), true
	}

	return time.Time{}, false
}

// BarsPerDay returns how many bars of the given intraday period fit into one
// full trading day, or zero for daily and coarser periods.
func (c *Calendar) BarsPerDay(p domain.Period) int {
	if !p.Intraday() {
		return 0
	}
	return sessionMinutes / int(p.Duration()/time.Minute)
}

// PeriodsPerYear returns the annualization factor for the given bar period.
func (c *Calendar) PeriodsPerYear(p domain.Period) float64 {
	switch p {
	case domain.PeriodDaily:
		return TradingDaysPerYear
	case domain.PeriodWeekly:
		return 52
	case domain.PeriodMonthly:
		return 12
	default:
		return float64(TradingDaysPerYear * c.BarsPerDay(p))
	}
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// dateStamp maps a local time to UTC midnight of its calendar date.
func dateStamp(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
