package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backlab/internal/domain"
)

// Compile-time interface check.
var _ Fetcher = (*AlpacaFetcher)(nil)

// AlpacaFetcher fetches US-equity bars from the Alpaca market-data API. It
// serves plain US tickers (AAPL, MSFT) through the same Fetcher contract the
// sync engine uses for A-shares.
type AlpacaFetcher struct {
	client *marketdata.Client
	log    *slog.Logger
}

// NewAlpacaFetcher creates a fetcher using the given Alpaca credentials.
// dataURL overrides the default market-data endpoint when non-empty.
func NewAlpacaFetcher(apiKey, apiSecret, dataURL string) *AlpacaFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaFetcher{
		client: marketdata.NewClient(opts),
		log:    slog.Default().With("fetcher", "alpaca"),
	}
}

var alpacaTimeFrames = map[domain.Period]marketdata.TimeFrame{
	domain.Period1Min:    marketdata.OneMin,
	domain.Period5Min:    marketdata.NewTimeFrame(5, marketdata.Min),
	domain.Period10Min:   marketdata.NewTimeFrame(10, marketdata.Min),
	domain.Period15Min:   marketdata.NewTimeFrame(15, marketdata.Min),
	domain.Period30Min:   marketdata.NewTimeFrame(30, marketdata.Min),
	domain.Period60Min:   marketdata.NewTimeFrame(1, marketdata.Hour),
	domain.PeriodDaily:   marketdata.OneDay,
	domain.PeriodWeekly:  marketdata.NewTimeFrame(1, marketdata.Week),
	domain.PeriodMonthly: marketdata.NewTimeFrame(1, marketdata.Month),
}

// Fetch retrieves bars for [start, end], sorted ascending.
func (f *AlpacaFetcher) Fetch(ctx context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r := domain.DateRange{Start: start, End: end}

	alpacaBars, err := f.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: alpacaTimeFrames[period],
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Period: period, Range: r, Err: err}
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Period:    period,
			Timestamp: ab.Timestamp.UTC(),
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
			Amount:    ab.VWAP * float64(ab.Volume),
		})
	}
	f.log.Debug("fetched", "symbol", symbol, "period", period, "range", r.String(), "bars", len(bars))
	return bars, nil
}
