// Package resample derives coarser-period bar series from finer ones using
// calendar-aware bucketing. It is how 10min data exists at all (the remote
// source has no 10min feed) and how daily bars can be rebuilt from minutes.
package resample

import (
	"context"
	"fmt"
	"time"

	"backlab/internal/calendar"
	"backlab/internal/domain"
	"backlab/internal/store"
)

// InsufficientDataError reports that the fine series does not cover the
// requested window at its native resolution, so resampled bars would be
// built from partial buckets.
type InsufficientDataError struct {
	Symbol  string
	Period  domain.Period
	Missing []domain.DateRange
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient %s data for %s: missing %v", e.Period, e.Symbol, e.Missing)
}

// Resample buckets a fine-period series into target-period bars. Within each
// bucket: open is the first bar's open, close the last bar's close, high and
// low the extrema, volume and amount the sums. Buckets with no constituent
// bars are omitted. The input must be a valid ascending series of a single
// symbol and period strictly finer than target.
func Resample(cal *calendar.Calendar, fine []domain.Bar, target domain.Period) ([]domain.Bar, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, target)
	}
	if len(fine) == 0 {
		return nil, nil
	}
	src := fine[0].Period
	if !target.Coarser(src) {
		return nil, fmt.Errorf("cannot resample %s into %s: target must be coarser", src, target)
	}
	if err := domain.ValidateSeries(fine); err != nil {
		return nil, err
	}

	var out []domain.Bar
	for _, b := range fine {
		bucket, ok := cal.BucketStart(b.Timestamp, target)
		if !ok {
			return nil, fmt.Errorf("bar %s %s falls outside the %s grid",
				b.Symbol, b.Timestamp.Format(time.RFC3339), target)
		}

		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(bucket) {
			cur := &out[n-1]
			if b.High > cur.High {
				cur.High = b.High
			}
			if b.Low < cur.Low {
				cur.Low = b.Low
			}
			cur.Close = b.Close
			cur.Volume += b.Volume
			cur.Amount += b.Amount
			continue
		}

		out = append(out, domain.Bar{
			Symbol:    b.Symbol,
			Period:    target,
			Timestamp: bucket,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Amount:    b.Amount,
		})
	}
	return out, nil
}

// Service resamples on top of the store, refusing to build coarse bars from
// windows the fine series does not fully cover.
type Service struct {
	bars     store.BarStore
	coverage store.CoverageStore
	cal      *calendar.Calendar
}

// NewService creates a store-backed resampler.
func NewService(bars store.BarStore, coverage store.CoverageStore, cal *calendar.Calendar) *Service {
	return &Service{bars: bars, coverage: coverage, cal: cal}
}

// sourceFor picks the fine period a target is derived from. 10min comes from
// 5min; everything else from the finest sensible feed.
func sourceFor(target domain.Period) domain.Period {
	switch target {
	case domain.Period10Min:
		return domain.Period5Min
	case domain.PeriodWeekly, domain.PeriodMonthly:
		return domain.PeriodDaily
	default:
		return domain.Period1Min
	}
}

// Derive reads the fine series for [start, end] and resamples it to target.
// It returns InsufficientDataError when coverage metadata shows holes in the
// fine series over the window.
func (s *Service) Derive(ctx context.Context, symbol string, target domain.Period, start, end time.Time) ([]domain.Bar, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, target)
	}
	src := sourceFor(target)

	covered, err := s.coverage.Coverage(ctx, symbol, src)
	if err != nil {
		return nil, fmt.Errorf("reading %s coverage for %s: %w", src, symbol, err)
	}
	req := domain.DateRange{Start: start.UTC(), End: end.UTC()}
	if missing := domain.SubtractRanges(req, covered, src.GridStep()); len(missing) > 0 {
		return nil, &InsufficientDataError{Symbol: symbol, Period: src, Missing: missing}
	}

	fine, err := s.bars.ReadBars(ctx, symbol, src, start, end)
	if err != nil {
		return nil, err
	}
	return Resample(s.cal, fine, target)
}
