package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"backlab/internal/domain"
	"backlab/internal/store"
)

// fakeFetcher serves bars from a canned grid and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []domain.DateRange
	bars  []domain.Bar
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, domain.DateRange{Start: start, End: end})
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Bar
	for _, b := range f.bars {
		if b.Symbol == symbol && b.Period == period && !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func dailyBars(symbol string, days ...int) []domain.Bar {
	bars := make([]domain.Bar, 0, len(days))
	for _, d := range days {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Period:    domain.PeriodDaily,
			Timestamp: time.Date(2023, 3, d, 0, 0, 0, 0, time.UTC),
			Open:      10, High: 11, Low: 9, Close: 10.5,
			Volume: 1000, Amount: 10500,
		})
	}
	return bars
}

func newTestEngine(t *testing.T, f *fakeFetcher) (*Engine, *store.ParquetStore, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	bars := store.NewParquetStore(filepath.Join(dir, "data"))
	db, err := store.NewSQLiteStore(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	eng := New(bars, db, f, Options{MaxRetries: 1, RetryDelay: time.Millisecond})
	return eng, bars, db
}

func day(d int) time.Time {
	return time.Date(2023, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestEnsureFetchesAndStores(t *testing.T) {
	f := &fakeFetcher{bars: dailyBars("000001.SZ", 1, 2, 3, 6)}
	eng, bars, _ := newTestEngine(t, f)

	rep, err := eng.Ensure(context.Background(), "000001.SZ", domain.PeriodDaily, day(1), day(7))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if rep.Err() != nil {
		t.Fatalf("report error: %v", rep.Err())
	}
	if rep.Bars != 4 {
		t.Errorf("Bars = %d, want 4", rep.Bars)
	}
	if f.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.callCount())
	}

	got, err := bars.ReadBars(context.Background(), "000001.SZ", domain.PeriodDaily, day(1), day(7))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("stored %d bars, want 4", len(got))
	}
}

func TestEnsureIdempotent(t *testing.T) {
	f := &fakeFetcher{bars: dailyBars("000001.SZ", 1, 2, 3)}
	eng, _, _ := newTestEngine(t, f)

	if _, err := eng.Ensure(context.Background(), "000001.SZ", domain.PeriodDaily, day(1), day(3)); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	rep, err := eng.Ensure(context.Background(), "000001.SZ", domain.PeriodDaily, day(1), day(3))
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	if f.callCount() != 1 {
		t.Errorf("fetch calls after repeat = %d, want 1 (covered window must not refetch)", f.callCount())
	}
	if len(rep.Missing) != 0 {
		t.Errorf("second Ensure missing = %v, want none", rep.Missing)
	}
}

func TestEnsureFetchesOnlyGap(t *testing.T) {
	f := &fakeFetcher{bars: dailyBars("000001.SZ", 1, 2, 3, 6, 7, 8)}
	eng, _, _ := newTestEngine(t, f)
	ctx := context.Background()

	// Cover the edges first, then request the whole window; only the middle
	// gap should be fetched.
	if _, err := eng.Ensure(ctx, "000001.SZ", domain.PeriodDaily, day(1), day(2)); err != nil {
		t.Fatalf("Ensure head: %v", err)
	}
	if _, err := eng.Ensure(ctx, "000001.SZ", domain.PeriodDaily, day(7), day(8)); err != nil {
		t.Fatalf("Ensure tail: %v", err)
	}

	rep, err := eng.Ensure(ctx, "000001.SZ", domain.PeriodDaily, day(1), day(8))
	if err != nil {
		t.Fatalf("Ensure full: %v", err)
	}
	if len(rep.Missing) != 1 {
		t.Fatalf("missing = %v, want one middle gap", rep.Missing)
	}
	gap := rep.Missing[0]
	if !gap.Start.Equal(day(3)) || !gap.End.Equal(day(6)) {
		t.Errorf("gap = %s, want 2023-03-03..2023-03-06", gap)
	}
}

func TestEnsureEmptyFetchMarksCovered(t *testing.T) {
	// Holiday-only window: the remote returns nothing, but the range counts
	// as synced so it is not retried forever.
	f := &fakeFetcher{}
	eng, _, _ := newTestEngine(t, f)
	ctx := context.Background()

	rep, err := eng.Ensure(ctx, "000001.SZ", domain.PeriodDaily, day(4), day(5))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if rep.Bars != 0 || rep.Err() != nil {
		t.Fatalf("report = %d bars, err %v", rep.Bars, rep.Err())
	}

	if _, err := eng.Ensure(ctx, "000001.SZ", domain.PeriodDaily, day(4), day(5)); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if f.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.callCount())
	}
}

func TestEnsureReportsFailedRange(t *testing.T) {
	f := &fakeFetcher{err: errors.New("remote down")}
	eng, _, db := newTestEngine(t, f)

	rep, err := eng.Ensure(context.Background(), "000001.SZ", domain.PeriodDaily, day(1), day(3))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(rep.Failed) != 1 {
		t.Fatalf("failed = %v, want one range", rep.Failed)
	}
	if rep.Err() == nil {
		t.Error("report Err() = nil, want aggregate error")
	}

	// A failed range must not be recorded as covered.
	covered, err := db.Coverage(context.Background(), "000001.SZ", domain.PeriodDaily)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(covered) != 0 {
		t.Errorf("coverage = %v, want empty after failure", covered)
	}
}

func TestEnsureRejectsInvalidSeries(t *testing.T) {
	bad := dailyBars("000001.SZ", 1)
	bad[0].Low = 100 // above high
	f := &fakeFetcher{bars: bad}
	eng, _, db := newTestEngine(t, f)

	rep, err := eng.Ensure(context.Background(), "000001.SZ", domain.PeriodDaily, day(1), day(1))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(rep.Failed) != 1 {
		t.Fatalf("failed = %v, want invalid series rejected", rep.Failed)
	}
	covered, _ := db.Coverage(context.Background(), "000001.SZ", domain.PeriodDaily)
	if len(covered) != 0 {
		t.Errorf("coverage = %v, want empty", covered)
	}
}

func TestEnsureInvalidPeriod(t *testing.T) {
	eng, _, _ := newTestEngine(t, &fakeFetcher{})
	_, err := eng.Ensure(context.Background(), "000001.SZ", domain.Period("2min"), day(1), day(2))
	if !errors.Is(err, domain.ErrInvalidPeriod) {
		t.Errorf("err = %v, want ErrInvalidPeriod", err)
	}
}

func TestEnsureBatch(t *testing.T) {
	f := &fakeFetcher{bars: append(dailyBars("000001.SZ", 1, 2), dailyBars("600000.SH", 1, 2)...)}
	eng, _, _ := newTestEngine(t, f)

	reports, err := eng.EnsureBatch(context.Background(), []string{"000001.SZ", "600000.SH"}, domain.PeriodDaily, day(1), day(2))
	if err != nil {
		t.Fatalf("EnsureBatch: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	for _, rep := range reports {
		if rep.Err() != nil {
			t.Errorf("%s: %v", rep.Symbol, rep.Err())
		}
		if rep.Bars != 2 {
			t.Errorf("%s: %d bars, want 2", rep.Symbol, rep.Bars)
		}
	}
	if reports[0].Symbol != "000001.SZ" || reports[1].Symbol != "600000.SH" {
		t.Errorf("report order = %s, %s", reports[0].Symbol, reports[1].Symbol)
	}
}

func TestEnsureConcurrentSameKey(t *testing.T) {
	f := &fakeFetcher{bars: dailyBars("000001.SZ", 1, 2, 3)}
	eng, _, _ := newTestEngine(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.Ensure(context.Background(), "000001.SZ", domain.PeriodDaily, day(1), day(3)); err != nil {
				t.Errorf("Ensure: %v", err)
			}
		}()
	}
	wg.Wait()

	// Per-key serialization: the first caller fetches, the rest see coverage.
	if f.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.callCount())
	}
}
