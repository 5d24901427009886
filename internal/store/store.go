// Package store defines storage interfaces for persisting and retrieving
// domain objects: OHLCV bars, sync coverage metadata, and backtest results.
package store

import (
	"context"
	"time"

	"backlab/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data keyed by (symbol, period).
// Bars are immutable once written; corrections happen by re-writing the
// affected range, with the newest write winning on timestamp collision.
type BarStore interface {
	// WriteBars merges a batch of bars into storage, de-duplicating by
	// (symbol, period, timestamp) with last-write-wins semantics.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and period within
	// [start, end], sorted by timestamp. A range with nothing cached yields
	// an empty slice, not an error.
	ReadBars(ctx context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with data at the given period.
	ListSymbols(ctx context.Context, period domain.Period) ([]string, error)
}

// CoverageStore records which date ranges have been synced per
// (symbol, period), so the sync engine can compute missing sub-ranges
// without scanning bar files.
type CoverageStore interface {
	// Coverage returns the merged, sorted set of covered ranges.
	Coverage(ctx context.Context, symbol string, period domain.Period) ([]domain.DateRange, error)

	// AddCoverage marks r as covered, merging it into the existing set.
	AddCoverage(ctx context.Context, symbol string, period domain.Period, r domain.DateRange) error
}

// BacktestRun is one persisted backtest outcome.
type BacktestRun struct {
	ID               int64
	Symbol           string
	Period           domain.Period
	Strategy         string
	Start            time.Time
	End              time.Time
	InitialCash      float64
	FinalEquity      float64
	TotalReturn      float64
	AnnualizedReturn float64
	MaxDrawdown      float64
	Sharpe           *float64
	WinRate          *float64
	TotalTrades      int
	CreatedAt        time.Time
}

// TradeLogRecord is one persisted trade-log row belonging to a run.
type TradeLogRecord struct {
	RunID      int64
	Seq        int
	Timestamp  time.Time
	Side       string
	Quantity   int64
	Price      float64
	Commission float64
	Status     string
	Reason     string
}

// ResultStore persists completed backtest runs and their trade logs.
type ResultStore interface {
	// SaveRun inserts the run and its trade log, returning the run ID.
	SaveRun(ctx context.Context, run *BacktestRun, trades []TradeLogRecord) (int64, error)

	// ListRuns returns the most recent runs for a symbol, up to limit.
	ListRuns(ctx context.Context, symbol string, limit int) ([]BacktestRun, error)
}
