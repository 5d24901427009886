// Package syncer reconciles locally stored bars against a remote source,
// fetching only the missing sub-ranges of a requested window and committing
// each one independently so partial progress is durable and retryable.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"backlab/internal/domain"
	"backlab/internal/fetch"
	"backlab/internal/store"
	"backlab/internal/util"
)

// Options tunes sync behaviour.
type Options struct {
	// FetchTimeout bounds one remote call, retries included per attempt.
	FetchTimeout time.Duration
	// MaxRetries is the attempt count per missing sub-range.
	MaxRetries int
	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration
	// MaxConcurrent bounds parallel symbols in EnsureBatch.
	MaxConcurrent int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.FetchTimeout == 0 {
		out.FetchTimeout = 30 * time.Second
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 3
	}
	if out.RetryDelay == 0 {
		out.RetryDelay = time.Second
	}
	if out.MaxConcurrent == 0 {
		out.MaxConcurrent = 4
	}
	return out
}

// Engine fills gaps between what the store has and what a requested window
// should contain.
type Engine struct {
	bars     store.BarStore
	coverage store.CoverageStore
	fetcher  fetch.Fetcher
	opts     Options
	log      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a sync engine over the given stores and remote fetcher.
func New(bars store.BarStore, coverage store.CoverageStore, fetcher fetch.Fetcher, opts Options) *Engine {
	return &Engine{
		bars:     bars,
		coverage: coverage,
		fetcher:  fetcher,
		opts:     (&opts).withDefaults(),
		log:      slog.Default().With("component", "syncer"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// RangeError records one failed sub-range within an Ensure call.
type RangeError struct {
	Range domain.DateRange
	Err   error
}

// Report summarizes one Ensure call. Failed sub-ranges do not roll back
// successful ones; re-running Ensure retries only what is still missing.
type Report struct {
	Symbol    string
	Period    domain.Period
	Requested domain.DateRange
	Missing   []domain.DateRange
	Synced    []domain.DateRange
	Failed    []RangeError
	Bars      int
}

// Err returns the aggregate of all failed sub-ranges, or nil when every
// missing range synced.
func (r *Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("range %s: %w", f.Range, f.Err))
	}
	return fmt.Errorf("sync %s %s: %w", r.Symbol, r.Period, errors.Join(errs...))
}

// Ensure makes the store cover [start, end] for (symbol, period). It
// computes the missing sub-ranges from coverage metadata, fetches each one
// with retry and timeout, validates the returned series, and commits bars
// plus coverage per sub-range. Calls for the same key are serialized, so a
// concurrent duplicate request cannot double-fetch. A fully covered window
// issues zero fetches.
func (e *Engine) Ensure(ctx context.Context, symbol string, period domain.Period, start, end time.Time) (*Report, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, period)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	unlock := e.lockKey(symbol, period)
	defer unlock()

	req := domain.DateRange{Start: start.UTC(), End: end.UTC()}
	report := &Report{Symbol: symbol, Period: period, Requested: req}

	covered, err := e.coverage.Coverage(ctx, symbol, period)
	if err != nil {
		return nil, fmt.Errorf("reading coverage for %s %s: %w", symbol, period, err)
	}
	report.Missing = domain.SubtractRanges(req, covered, period.GridStep())
	if len(report.Missing) == 0 {
		e.log.Debug("already covered", "symbol", symbol, "period", period, "range", req.String())
		return report, nil
	}

	for _, missing := range report.Missing {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, RangeError{Range: missing, Err: err})
			continue
		}

		n, err := e.syncRange(ctx, symbol, period, missing)
		if err != nil {
			e.log.Warn("sub-range failed", "symbol", symbol, "period", period, "range", missing.String(), "err", err)
			report.Failed = append(report.Failed, RangeError{Range: missing, Err: err})
			continue
		}
		report.Synced = append(report.Synced, missing)
		report.Bars += n
	}

	e.log.Info("ensure done",
		"symbol", symbol,
		"period", period,
		"range", req.String(),
		"fetched", len(report.Synced),
		"failed", len(report.Failed),
		"bars", report.Bars,
	)
	return report, nil
}

// syncRange fetches one missing sub-range, validates it, and commits bars
// and coverage. Zero returned bars is a valid outcome (holidays, suspension)
// and still marks the range covered.
func (e *Engine) syncRange(ctx context.Context, symbol string, period domain.Period, r domain.DateRange) (int, error) {
	var bars []domain.Bar
	err := util.Retry(ctx, e.opts.MaxRetries, e.opts.RetryDelay, func() error {
		fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
		defer cancel()

		fetched, err := e.fetcher.Fetch(fctx, symbol, period, r.Start, r.End)
		if err != nil {
			return err
		}
		bars = fetched
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Drop anything outside the requested sub-range so coverage claims stay
	// honest, then validate what remains.
	kept := bars[:0]
	for _, b := range bars {
		if r.Contains(b.Timestamp) {
			kept = append(kept, b)
		}
	}
	bars = kept
	if err := domain.ValidateSeries(bars); err != nil {
		return 0, fmt.Errorf("remote series invalid: %w", err)
	}

	if err := e.bars.WriteBars(ctx, bars); err != nil {
		return 0, err
	}
	if err := e.coverage.AddCoverage(ctx, symbol, period, r); err != nil {
		return 0, fmt.Errorf("recording coverage: %w", err)
	}
	return len(bars), nil
}

// EnsureBatch runs Ensure for each symbol over the same period and window,
// at most MaxConcurrent symbols in flight. The returned reports are in
// symbol order; per-symbol failures do not stop the batch.
func (e *Engine) EnsureBatch(ctx context.Context, symbols []string, period domain.Period, start, end time.Time) ([]*Report, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, period)
	}

	reports := make([]*Report, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrent)

	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			rep, err := e.Ensure(gctx, symbol, period, start, end)
			if err != nil {
				rep = &Report{
					Symbol:    symbol,
					Period:    period,
					Requested: domain.DateRange{Start: start.UTC(), End: end.UTC()},
					Failed: []RangeError{{
						Range: domain.DateRange{Start: start.UTC(), End: end.UTC()},
						Err:   err,
					}},
				}
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

func (e *Engine) lockKey(symbol string, period domain.Period) func() {
	k := symbol + "/" + string(period)
	e.mu.Lock()
	l, ok := e.locks[k]
	if !ok {
		l = &sync.Mutex{}
		e.locks[k] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}
