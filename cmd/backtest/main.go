// Command backtest replays stored bar series through a named strategy and
// prints one performance report per symbol. Results and trade logs are
// persisted to the metadata store for later comparison.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"backlab/internal/backtest"
	"backlab/internal/calendar"
	"backlab/internal/config"
	"backlab/internal/domain"
	"backlab/internal/resample"
	"backlab/internal/store"
	"backlab/internal/strategy"
	"backlab/internal/strategy/builtins"
	"backlab/internal/util"
)

func main() {
	var (
		symbolsFlag = flag.String("symbols", "", "comma-separated symbols, e.g. 000001.SZ,600000.SH")
		periodFlag  = flag.String("period", "daily", "bar period (1min..monthly)")
		startFlag   = flag.String("start", "", "start date, YYYY-MM-DD")
		endFlag     = flag.String("end", "", "end date, YYYY-MM-DD")
		stratFlag   = flag.String("strategy", "ma_cross", "strategy name")
		fillFlag    = flag.String("fill", "next-open", "fill policy: next-open or current-close")
		warmupFlag  = flag.Int("warmup", 60, "warmup bars read before the window")
		listFlag    = flag.Bool("list", false, "list registered strategies and exit")
		deriveFlag  = flag.Bool("derive", false, "resample the series from finer stored data")
	)
	flag.Parse()

	if *listFlag {
		r := strategy.NewRegistry()
		builtins.RegisterAll(r, 0)
		for _, name := range r.List() {
			fmt.Println(name)
		}
		return
	}

	cfgPath := "config/backlab.yaml"
	if p := os.Getenv("BACKLAB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level))

	registry := strategy.NewRegistry()
	builtins.RegisterAll(registry, cfg.Backtest.LotSize)

	symbols := splitSymbols(*symbolsFlag)
	if len(symbols) == 0 {
		log.Fatal("no symbols given; use -symbols")
	}
	period, err := domain.ParsePeriod(*periodFlag)
	if err != nil {
		log.Fatalf("bad period: %v", err)
	}
	start, err := time.Parse("2006-01-02", *startFlag)
	if err != nil {
		log.Fatalf("bad -start: %v", err)
	}
	end, err := time.Parse("2006-01-02", *endFlag)
	if err != nil {
		log.Fatalf("bad -end: %v", err)
	}

	var fillPolicy backtest.FillPolicy
	switch *fillFlag {
	case "next-open":
		fillPolicy = backtest.FillNextOpen
	case "current-close":
		fillPolicy = backtest.FillCurrentClose
	default:
		log.Fatalf("unknown fill policy %q", *fillFlag)
	}

	barStore := store.NewParquetStore(cfg.Storage.DataDir)
	meta, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open metadata store: %v", err)
	}
	defer meta.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := &runner{
		cfg:      cfg,
		cal:      calendar.New(),
		bars:     barStore,
		meta:     meta,
		registry: registry,
		period:   period,
		start:    start,
		end:      end,
		strat:    *stratFlag,
		fill:     fillPolicy,
		warmup:   *warmupFlag,
		derive:   *deriveFlag,
	}

	failed := 0
	for _, symbol := range symbols {
		if err := r.run(ctx, symbol); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", symbol, err)
			failed++
		}
	}
	if failed > 0 {
		fmt.Printf("\n%d of %d symbols failed\n", failed, len(symbols))
		os.Exit(1)
	}
}

type runner struct {
	cfg      *config.Config
	cal      *calendar.Calendar
	bars     store.BarStore
	meta     *store.SQLiteStore
	registry *strategy.Registry

	period domain.Period
	start  time.Time
	end    time.Time
	strat  string
	fill   backtest.FillPolicy
	warmup int
	derive bool
}

// run backtests one symbol, prints its report, and persists the outcome.
func (r *runner) run(ctx context.Context, symbol string) error {
	var (
		bars []domain.Bar
		err  error
	)
	if r.derive {
		bars, err = resample.NewService(r.bars, r.meta, r.cal).Derive(ctx, symbol, r.period, r.start, r.end)
	} else {
		bars, err = r.bars.ReadBars(ctx, symbol, r.period, r.start, r.end)
	}
	if err != nil {
		return fmt.Errorf("loading bars: %w", err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("no %s bars stored for %s..%s; run download first",
			r.period, r.start.Format("2006-01-02"), r.end.Format("2006-01-02"))
	}

	warmup, err := r.readWarmup(ctx, symbol)
	if err != nil {
		return fmt.Errorf("loading warmup bars: %w", err)
	}

	strat, err := r.registry.New(r.strat)
	if err != nil {
		return err
	}

	eng := backtest.New(backtest.Config{
		InitialCash:   r.cfg.Backtest.InitialCash,
		Commission:    r.cfg.Backtest.CommissionRate,
		Slippage:      r.cfg.Backtest.SlippageRate,
		FillPolicy:    r.fill,
		AbortOnReject: r.cfg.Backtest.AbortOnReject,
		Warmup:        warmup,
	})
	result, err := eng.Run(ctx, strat, bars)
	if err != nil {
		return err
	}

	metrics := backtest.ComputeMetrics(r.cal, r.period, r.cfg.Backtest.InitialCash, result)
	printReport(symbol, strat.Name(), metrics)

	runID, err := r.saveRun(ctx, symbol, strat.Name(), metrics, result)
	if err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	fmt.Printf("saved as run %d\n", runID)

	if result.State != backtest.StateCompleted {
		return fmt.Errorf("run aborted: %w", result.Err)
	}
	return nil
}

// readWarmup loads up to warmup bars immediately preceding the window. The
// lookback is generous because weekends and holidays thin out the grid.
func (r *runner) readWarmup(ctx context.Context, symbol string) ([]domain.Bar, error) {
	if r.warmup <= 0 {
		return nil, nil
	}
	lookback := time.Duration(r.warmup) * r.period.GridStep() * 3
	all, err := r.bars.ReadBars(ctx, symbol, r.period, r.start.Add(-lookback), r.start.Add(-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	if len(all) > r.warmup {
		all = all[len(all)-r.warmup:]
	}
	return all, nil
}

func (r *runner) saveRun(ctx context.Context, symbol, strat string, m backtest.Metrics, result *backtest.Result) (int64, error) {
	run := &store.BacktestRun{
		Symbol:           symbol,
		Period:           r.period,
		Strategy:         strat,
		Start:            r.start,
		End:              r.end,
		InitialCash:      m.InitialCash,
		FinalEquity:      m.FinalEquity,
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		MaxDrawdown:      m.MaxDrawdown,
		Sharpe:           m.Sharpe,
		WinRate:          m.WinRate,
		TotalTrades:      m.TotalTrades,
	}
	trades := make([]store.TradeLogRecord, 0, len(result.Trades))
	for _, tr := range result.Trades {
		trades = append(trades, store.TradeLogRecord{
			Seq:        tr.Seq,
			Timestamp:  tr.Timestamp,
			Side:       string(tr.Side),
			Quantity:   tr.Quantity,
			Price:      tr.Price,
			Commission: tr.Commission,
			Status:     tr.Status,
			Reason:     tr.Reason,
		})
	}
	return r.meta.SaveRun(ctx, run, trades)
}

func printReport(symbol, strat string, m backtest.Metrics) {
	line := strings.Repeat("=", 50)
	fmt.Println()
	fmt.Println(line)
	fmt.Printf("Backtest result - %s (%s)\n", symbol, strat)
	fmt.Println(line)
	fmt.Printf("Initial cash:  %.2f\n", m.InitialCash)
	fmt.Printf("Final equity:  %.2f\n", m.FinalEquity)
	fmt.Printf("Total return:  %.2f%%\n", m.TotalReturn*100)
	fmt.Printf("Annualized:    %.2f%%\n", m.AnnualizedReturn*100)
	if m.Sharpe != nil {
		fmt.Printf("Sharpe ratio:  %.3f\n", *m.Sharpe)
	}
	fmt.Printf("Max drawdown:  %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("Total trades:  %d\n", m.TotalTrades)
	if m.WinRate != nil {
		fmt.Printf("Win rate:      %.1f%%\n", *m.WinRate*100)
	} else {
		fmt.Printf("Win rate:      n/a\n")
	}
	fmt.Println(line)
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
