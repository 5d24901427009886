package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"backlab/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestCoverageEmpty(t *testing.T) {
	s := newTestSQLite(t)

	got, err := s.Coverage(context.Background(), "000001.SZ", domain.PeriodDaily)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Coverage for unseen key = %v, want empty", got)
	}
}

func TestAddCoverageMerges(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	ranges := []domain.DateRange{
		{Start: day(2023, 1, 1), End: day(2023, 1, 31)},
		{Start: day(2023, 3, 1), End: day(2023, 3, 31)},
		// Adjacent to the first range — must merge with it.
		{Start: day(2023, 2, 1), End: day(2023, 2, 28)},
	}
	for _, r := range ranges {
		if err := s.AddCoverage(ctx, "000001.SZ", domain.PeriodDaily, r); err != nil {
			t.Fatalf("AddCoverage(%v): %v", r, err)
		}
	}

	got, err := s.Coverage(ctx, "000001.SZ", domain.PeriodDaily)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Coverage = %v, want one merged range", got)
	}
	if !got[0].Start.Equal(day(2023, 1, 1)) || !got[0].End.Equal(day(2023, 3, 31)) {
		t.Errorf("merged range = %v, want 2023-01-01..2023-03-31", got[0])
	}
}

func TestCoverageIsolatedPerKey(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	r := domain.DateRange{Start: day(2023, 1, 1), End: day(2023, 1, 31)}
	if err := s.AddCoverage(ctx, "000001.SZ", domain.PeriodDaily, r); err != nil {
		t.Fatalf("AddCoverage: %v", err)
	}

	for _, key := range []struct {
		symbol string
		period domain.Period
	}{
		{"600000.SH", domain.PeriodDaily},
		{"000001.SZ", domain.Period60Min},
	} {
		got, err := s.Coverage(ctx, key.symbol, key.period)
		if err != nil {
			t.Fatalf("Coverage(%s, %s): %v", key.symbol, key.period, err)
		}
		if len(got) != 0 {
			t.Errorf("Coverage(%s, %s) = %v, want empty", key.symbol, key.period, got)
		}
	}
}

func TestSaveAndListRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	sharpe := 1.25
	run := &BacktestRun{
		Symbol:           "000001.SZ",
		Period:           domain.PeriodDaily,
		Strategy:         "ma_cross",
		Start:            day(2023, 1, 1),
		End:              day(2023, 12, 31),
		InitialCash:      1000000,
		FinalEquity:      1083000,
		TotalReturn:      0.083,
		AnnualizedReturn: 0.085,
		MaxDrawdown:      0.12,
		Sharpe:           &sharpe,
		WinRate:          nil, // degenerate run: no closed trades
		TotalTrades:      0,
		CreatedAt:        time.Now().UTC(),
	}
	trades := []TradeLogRecord{
		{Seq: 0, Timestamp: day(2023, 2, 1), Side: "buy", Quantity: 100, Price: 12.5, Commission: 1.25, Status: "filled"},
		{Seq: 1, Timestamp: day(2023, 2, 2), Side: "sell", Quantity: 200, Price: 12.6, Status: "rejected", Reason: "insufficient shares"},
	}

	id, err := s.SaveRun(ctx, run, trades)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id == 0 {
		t.Error("SaveRun returned zero ID")
	}

	runs, err := s.ListRuns(ctx, "000001.SZ", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("ListRuns returned %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.Strategy != "ma_cross" || got.Period != domain.PeriodDaily {
		t.Errorf("run = %+v", got)
	}
	if got.Sharpe == nil || *got.Sharpe != 1.25 {
		t.Errorf("Sharpe = %v, want 1.25", got.Sharpe)
	}
	if got.WinRate != nil {
		t.Errorf("WinRate = %v, want nil (absent)", got.WinRate)
	}
}
