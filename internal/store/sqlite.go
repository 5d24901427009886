package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"backlab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ CoverageStore = (*SQLiteStore)(nil)
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements CoverageStore and ResultStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS coverage (
	symbol   TEXT    NOT NULL,
	period   TEXT    NOT NULL,
	start_ms INTEGER NOT NULL,
	end_ms   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_coverage_key ON coverage (symbol, period);

CREATE TABLE IF NOT EXISTS backtest_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol        TEXT    NOT NULL,
	period        TEXT    NOT NULL,
	strategy      TEXT    NOT NULL,
	start_ms      INTEGER NOT NULL,
	end_ms        INTEGER NOT NULL,
	initial_cash  REAL    NOT NULL,
	final_equity  REAL    NOT NULL,
	total_return  REAL    NOT NULL,
	annual_return REAL    NOT NULL,
	max_drawdown  REAL    NOT NULL,
	sharpe        REAL,
	win_rate      REAL,
	total_trades  INTEGER NOT NULL,
	created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_log (
	run_id     INTEGER NOT NULL REFERENCES backtest_runs(id),
	seq        INTEGER NOT NULL,
	ts_ms      INTEGER NOT NULL,
	side       TEXT    NOT NULL,
	qty        INTEGER NOT NULL,
	price      REAL    NOT NULL,
	commission REAL    NOT NULL,
	status     TEXT    NOT NULL,
	reason     TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and applies
// the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// CoverageStore implementation
// ---------------------------------------------------------------------------

// Coverage returns the merged covered ranges for (symbol, period), sorted by
// start time.
func (s *SQLiteStore) Coverage(ctx context.Context, symbol string, period domain.Period) ([]domain.DateRange, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, period)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT start_ms, end_ms FROM coverage WHERE symbol = ? AND period = ? ORDER BY start_ms`,
		symbol, string(period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranges []domain.DateRange
	for rows.Next() {
		var startMs, endMs int64
		if err := rows.Scan(&startMs, &endMs); err != nil {
			return nil, err
		}
		ranges = append(ranges, domain.DateRange{
			Start: time.UnixMilli(startMs).UTC(),
			End:   time.UnixMilli(endMs).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return domain.MergeRanges(ranges, period.GridStep()), nil
}

// AddCoverage merges r into the covered set for (symbol, period) and rewrites
// the key's rows in one transaction.
func (s *SQLiteStore) AddCoverage(ctx context.Context, symbol string, period domain.Period, r domain.DateRange) error {
	if !period.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, period)
	}

	existing, err := s.Coverage(ctx, symbol, period)
	if err != nil {
		return err
	}
	merged := domain.MergeRanges(append(existing, r), period.GridStep())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM coverage WHERE symbol = ? AND period = ?`, symbol, string(period)); err != nil {
		return err
	}
	for _, m := range merged {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO coverage (symbol, period, start_ms, end_ms) VALUES (?, ?, ?, ?)`,
			symbol, string(period), m.Start.UnixMilli(), m.End.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run and its trade log in one transaction and returns
// the new run ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *BacktestRun, trades []TradeLogRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO backtest_runs
			(symbol, period, strategy, start_ms, end_ms, initial_cash, final_equity,
			 total_return, annual_return, max_drawdown, sharpe, win_rate, total_trades, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Symbol, string(run.Period), run.Strategy,
		run.Start.UnixMilli(), run.End.UnixMilli(),
		run.InitialCash, run.FinalEquity,
		run.TotalReturn, run.AnnualizedReturn, run.MaxDrawdown,
		nullableFloat(run.Sharpe), nullableFloat(run.WinRate),
		run.TotalTrades, run.CreatedAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, tr := range trades {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trade_log (run_id, seq, ts_ms, side, qty, price, commission, status, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, tr.Seq, tr.Timestamp.UnixMilli(), tr.Side, tr.Quantity,
			tr.Price, tr.Commission, tr.Status, tr.Reason); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// ListRuns returns the most recent runs for a symbol, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, symbol string, limit int) ([]BacktestRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, period, strategy, start_ms, end_ms, initial_cash, final_equity,
		        total_return, annual_return, max_drawdown, sharpe, win_rate, total_trades, created_at_ms
		 FROM backtest_runs WHERE symbol = ? ORDER BY created_at_ms DESC LIMIT ?`,
		symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BacktestRun
	for rows.Next() {
		var (
			run             BacktestRun
			period          string
			startMs, endMs  int64
			createdMs       int64
			sharpe, winRate sql.NullFloat64
		)
		if err := rows.Scan(&run.ID, &run.Symbol, &period, &run.Strategy,
			&startMs, &endMs, &run.InitialCash, &run.FinalEquity,
			&run.TotalReturn, &run.AnnualizedReturn, &run.MaxDrawdown,
			&sharpe, &winRate, &run.TotalTrades, &createdMs); err != nil {
			return nil, err
		}
		run.Period = domain.Period(period)
		run.Start = time.UnixMilli(startMs).UTC()
		run.End = time.UnixMilli(endMs).UTC()
		run.CreatedAt = time.UnixMilli(createdMs).UTC()
		if sharpe.Valid {
			v := sharpe.Float64
			run.Sharpe = &v
		}
		if winRate.Valid {
			v := winRate.Float64
			run.WinRate = &v
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
