package domain

import (
	"fmt"
	"time"
)

// Period is the fixed time-window granularity of a bar series.
type Period string

// Supported periods, from finest to coarsest.
const (
	Period1Min    Period = "1min"
	Period5Min    Period = "5min"
	Period10Min   Period = "10min"
	Period15Min   Period = "15min"
	Period30Min   Period = "30min"
	Period60Min   Period = "60min"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// AllPeriods lists every supported period in ascending coarseness.
var AllPeriods = []Period{
	Period1Min, Period5Min, Period10Min, Period15Min, Period30Min,
	Period60Min, PeriodDaily, PeriodWeekly, PeriodMonthly,
}

var minuteDurations = map[Period]time.Duration{
	Period1Min:  time.Minute,
	Period5Min:  5 * time.Minute,
	Period10Min: 10 * time.Minute,
	Period15Min: 15 * time.Minute,
	Period30Min: 30 * time.Minute,
	Period60Min: 60 * time.Minute,
}

// ParsePeriod converts a period tag into a Period, or ErrInvalidPeriod for
// unknown tags.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return p, nil
}

// Valid reports whether p is one of the supported period tags.
func (p Period) Valid() bool {
	if _, ok := minuteDurations[p]; ok {
		return true
	}
	return p == PeriodDaily || p == PeriodWeekly || p == PeriodMonthly
}

// Intraday reports whether p is a sub-daily period.
func (p Period) Intraday() bool {
	_, ok := minuteDurations[p]
	return ok
}

// Duration returns the wall-clock width of an intraday period, or zero for
// daily and coarser periods whose width follows the calendar.
func (p Period) Duration() time.Duration {
	return minuteDurations[p]
}

// Coarser reports whether p is a strictly coarser granularity than other.
func (p Period) Coarser(other Period) bool {
	return p.rank() > other.rank()
}

func (p Period) rank() int {
	for i, q := range AllPeriods {
		if p == q {
			return i
		}
	}
	return -1
}

// GridStep returns the minimal spacing between consecutive grid points for
// the period: the bar width for intraday periods, one day otherwise. Used by
// coverage arithmetic when splitting and merging date ranges.
func (p Period) GridStep() time.Duration {
	if d, ok := minuteDurations[p]; ok {
		return d
	}
	return 24 * time.Hour
}
