// Package domain defines the core market-data types shared across the
// platform: bars, periods, date ranges, and the common error taxonomy.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across storage and sync layers.
var (
	// ErrInvalidPeriod indicates an unsupported period tag.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrCorruptStore indicates persisted data that cannot be parsed back
	// into valid bars. It is fatal for the affected (symbol, period) only.
	ErrCorruptStore = errors.New("corrupt store")
)

// Bar is one OHLCV record for a fixed time window. Timestamp is the bar's
// period start in UTC.
type Bar struct {
	Symbol    string
	Period    Period
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Amount    float64
}

// Validate checks the OHLC invariants: all prices positive,
// low <= open,close <= high, and a non-negative volume.
func (b Bar) Validate() error {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("bar %s %s: non-positive price", b.Symbol, b.Timestamp.Format(time.RFC3339))
	}
	if b.Low > b.High {
		return fmt.Errorf("bar %s %s: low %.4f > high %.4f", b.Symbol, b.Timestamp.Format(time.RFC3339), b.Low, b.High)
	}
	if b.Open < b.Low || b.Open > b.High {
		return fmt.Errorf("bar %s %s: open %.4f outside [low, high]", b.Symbol, b.Timestamp.Format(time.RFC3339), b.Open)
	}
	if b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("bar %s %s: close %.4f outside [low, high]", b.Symbol, b.Timestamp.Format(time.RFC3339), b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s %s: negative volume %d", b.Symbol, b.Timestamp.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// ValidateSeries checks every bar in the slice and verifies that timestamps
// are strictly increasing. Bars absent from the period grid (holidays,
// suspensions) are allowed; duplicates and reordering are not.
func ValidateSeries(bars []Bar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
		if i > 0 && !bars[i-1].Timestamp.Before(b.Timestamp) {
			return fmt.Errorf("bar %s: timestamp %s not after previous %s",
				b.Symbol, b.Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// DateRange is an inclusive [Start, End] time range.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the range, inclusive on both ends.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Covers reports whether r fully contains other.
func (r DateRange) Covers(other DateRange) bool {
	return !other.Start.Before(r.Start) && !other.End.After(r.End)
}

// String formats the range as "2006-01-02..2006-01-02".
func (r DateRange) String() string {
	return r.Start.Format("2006-01-02") + ".." + r.End.Format("2006-01-02")
}

// MergeRanges collapses overlapping or adjacent ranges into a minimal sorted
// set. Two ranges are adjacent when the gap between them is below step.
func MergeRanges(ranges []DateRange, step time.Duration) []DateRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]DateRange, len(ranges))
	copy(sorted, ranges)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Start.Before(sorted[j-1].Start); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	merged := []DateRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !r.Start.After(last.End.Add(step)) {
			if r.End.After(last.End) {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// SubtractRanges returns the parts of req not covered by any range in
// covered. The covered set does not need to be sorted or disjoint. step is
// the grid spacing used to split at covered-range boundaries.
func SubtractRanges(req DateRange, covered []DateRange, step time.Duration) []DateRange {
	missing := []DateRange{req}
	for _, c := range MergeRanges(covered, step) {
		var next []DateRange
		for _, m := range missing {
			if c.End.Before(m.Start) || c.Start.After(m.End) {
				next = append(next, m)
				continue
			}
			if c.Start.After(m.Start) {
				next = append(next, DateRange{Start: m.Start, End: c.Start.Add(-step)})
			}
			if c.End.Before(m.End) {
				next = append(next, DateRange{Start: c.End.Add(step), End: m.End})
			}
		}
		missing = next
	}
	var out []DateRange
	for _, m := range missing {
		if !m.Start.After(m.End) {
			out = append(out, m)
		}
	}
	return out
}
