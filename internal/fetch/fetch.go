// Package fetch defines the remote bar-source contract consumed by the sync
// engine and provides implementations for the TuShare (A-share) and Alpaca
// (US) market-data APIs.
package fetch

import (
	"context"
	"fmt"
	"time"

	"backlab/internal/domain"
)

// Fetcher retrieves historical bars from a remote source. Implementations
// return bars sorted by ascending timestamp with Symbol and Period set.
type Fetcher interface {
	// Fetch returns all bars for the symbol and period within [start, end].
	// An empty result is valid (suspended symbol, holiday-only range).
	Fetch(ctx context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Bar, error)
}

// FetchError wraps a remote-source failure with the request that produced
// it. Fetch failures are retryable and isolated per sub-range.
type FetchError struct {
	Symbol string
	Period domain.Period
	Range  domain.DateRange
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s %s: %v", e.Symbol, e.Period, e.Range, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
