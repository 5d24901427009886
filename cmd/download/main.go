// Command download syncs historical bars for one or more symbols into the
// local store, fetching only the date ranges not already covered.
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

	"backlab/internal/config"
	"backlab/internal/domain"
	"backlab/internal/fetch"
	"backlab/internal/store"
	"backlab/internal/syncer"
	"backlab/internal/util"
)

func main() {
	var (
		symbolsFlag = flag.String("symbols", "", "comma-separated symbols, e.g. 000001.SZ,600000.SH")
		periodFlag  = flag.String("period", "daily", "bar period (1min..monthly)")
		startFlag   = flag.String("start", "", "start date, YYYY-MM-DD")
		endFlag     = flag.String("end", "", "end date, YYYY-MM-DD")
		sourceFlag  = flag.String("source", "tushare", "data source: tushare or alpaca")
	)
	flag.Parse()

	cfgPath := "config/backlab.yaml"
	if p := os.Getenv("BACKLAB_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level))

	symbols := splitSymbols(*symbolsFlag)
	if len(symbols) == 0 {
		log.Fatal("no symbols given; use -symbols")
	}
	period, err := domain.ParsePeriod(*periodFlag)
	if err != nil {
		log.Fatalf("bad period: %v", err)
	}
	start, end, err := parseWindow(*startFlag, *endFlag)
	if err != nil {
		log.Fatal(err)
	}

	var fetcher fetch.Fetcher
	switch *sourceFlag {
	case "tushare":
		fetcher = fetch.NewTuShareFetcher(cfg.TuShare.Token, cfg.TuShare.BaseURL, cfg.TuShare.RateLimitPerMin)
	case "alpaca":
		fetcher = fetch.NewAlpacaFetcher(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	default:
		log.Fatalf("unknown source %q", *sourceFlag)
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	meta, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open metadata store: %v", err)
	}
	defer meta.Close()

	eng := syncer.New(bars, meta, fetcher, syncer.Options{
		FetchTimeout:  time.Duration(cfg.Sync.FetchTimeoutSec) * time.Second,
		MaxRetries:    cfg.Sync.MaxRetries,
		MaxConcurrent: cfg.Sync.MaxConcurrent,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reports, err := eng.EnsureBatch(ctx, symbols, period, start, end)
	if err != nil {
		log.Fatalf("sync error: %v", err)
	}

	failed := 0
	fmt.Printf("%-12s %-8s %8s %8s  %s\n", "SYMBOL", "PERIOD", "BARS", "RANGES", "STATUS")
	for _, rep := range reports {
		status := "ok"
		if rep.Err() != nil {
			status = rep.Err().Error()
			failed++
		} else if len(rep.Missing) == 0 {
			status = "already covered"
		}
		fmt.Printf("%-12s %-8s %8d %8d  %s\n", rep.Symbol, rep.Period, rep.Bars, len(rep.Synced), status)
	}

	if failed > 0 {
		fmt.Printf("\n%d of %d symbols failed\n", failed, len(reports))
		os.Exit(1)
	}
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

func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("both -start and -end are required (YYYY-MM-DD)")
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad -start: %v", err)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad -end: %v", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("-end %s is before -start %s", endStr, startStr)
	}
	return start, end, nil
}
