package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"backlab/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
//
// Layout: <DataDir>/<period>/<SYMBOL>/<YYYY>.parquet — one file per symbol,
// period and year, so a sync appends by rewriting only the touched year
// files rather than the whole series.
type ParquetStore struct {
	DataDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{
		DataDir: dataDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// BarRecord is the Parquet on-disk schema for bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, period start
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
	Amount    float64 `parquet:"amount"`
}

// WriteBars merges bars into the year files they belong to, de-duplicating
// by timestamp with the incoming record winning. Writes for the same
// (symbol, period) are serialized; distinct keys may write concurrently.
func (s *ParquetStore) WriteBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		period domain.Period
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		if !b.Period.Valid() {
			return fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, b.Period)
		}
		k := key{symbol: b.Symbol, period: b.Period, year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    b.Symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Amount:    b.Amount,
		})
	}

	for k, records := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		unlock := s.lockKey(k.symbol, k.period)
		path := s.barPath(k.symbol, k.period, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			unlock()
			return fmt.Errorf("%w: %s: %v", domain.ErrCorruptStore, path, err)
		}
		merged := mergeBarRecords(existing, records)

		err = writeParquetFile(path, merged)
		unlock()
		if err != nil {
			return fmt.Errorf("writing bars for %s/%s/%d: %w", k.symbol, k.period, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bars for the given symbol, period and time range from the
// year files overlapping the range.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Bar, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, period)
	}

	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		path := s.barPath(symbol, period, year)

		records, err := readParquetFile[BarRecord](path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptStore, path, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			b := domain.Bar{
				Symbol:    r.Symbol,
				Period:    period,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
				Amount:    r.Amount,
			}
			if err := b.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptStore, path, err)
			}
			bars = append(bars, b)
		}
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// ListSymbols lists all symbols that have data files at the given period.
func (s *ParquetStore) ListSymbols(_ context.Context, period domain.Period) ([]string, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, period)
	}

	dir := filepath.Join(s.DataDir, string(period))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// lockKey acquires the per-(symbol, period) write lock and returns the
// release function.
func (s *ParquetStore) lockKey(symbol string, period domain.Period) func() {
	k := symbol + "/" + string(period)
	s.mu.Lock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<period>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, period domain.Period, year int) string {
	return filepath.Join(s.DataDir, string(period), strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring incoming
// records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
