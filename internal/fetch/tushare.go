package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"backlab/internal/domain"
	"backlab/internal/util"
)

// Compile-time interface check.
var _ Fetcher = (*TuShareFetcher)(nil)

// TuShare timestamps are exchange-local (UTC+8).
var cst = time.FixedZone("CST", 8*60*60)

// TuShareFetcher fetches A-share bars from the TuShare pro API. All calls go
// through a single POST endpoint selected by api_name; minute data uses the
// stk_mins API, daily and coarser use the matching bar API.
type TuShareFetcher struct {
	client  *resty.Client
	token   string
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewTuShareFetcher creates a fetcher using the given token and endpoint,
// throttled to ratePerMin requests per minute.
func NewTuShareFetcher(token, baseURL string, ratePerMin int) *TuShareFetcher {
	return &TuShareFetcher{
		client:  resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second),
		token:   token,
		limiter: util.NewRateLimiter(ratePerMin),
		log:     slog.Default().With("fetcher", "tushare"),
	}
}

type tushareRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// apiNames maps supported periods to TuShare API names. 10min has no remote
// equivalent; it is produced locally by resampling 5min data.
var apiNames = map[domain.Period]string{
	domain.PeriodDaily:   "daily",
	domain.PeriodWeekly:  "weekly",
	domain.PeriodMonthly: "monthly",
}

var minuteFreqs = map[domain.Period]string{
	domain.Period1Min:  "1min",
	domain.Period5Min:  "5min",
	domain.Period15Min: "15min",
	domain.Period30Min: "30min",
	domain.Period60Min: "60min",
}

// Fetch retrieves bars for [start, end], sorted ascending.
func (f *TuShareFetcher) Fetch(ctx context.Context, symbol string, period domain.Period, start, end time.Time) ([]domain.Bar, error) {
	r := domain.DateRange{Start: start, End: end}

	var (
		req       tushareRequest
		timeField string
	)
	switch {
	case period.Intraday():
		freq, ok := minuteFreqs[period]
		if !ok {
			return nil, &FetchError{Symbol: symbol, Period: period, Range: r,
				Err: fmt.Errorf("period %s not served remotely; resample from 5min", period)}
		}
		timeField = "trade_time"
		req = tushareRequest{
			APIName: "stk_mins",
			Params: map[string]string{
				"ts_code":    symbol,
				"freq":       freq,
				"start_date": start.In(cst).Format("2006-01-02 15:04:05"),
				"end_date":   end.In(cst).Format("2006-01-02 15:04:05"),
			},
			Fields: "ts_code,trade_time,open,high,low,close,vol,amount",
		}
	default:
		timeField = "trade_date"
		req = tushareRequest{
			APIName: apiNames[period],
			Params: map[string]string{
				"ts_code":    symbol,
				"start_date": start.UTC().Format("20060102"),
				"end_date":   end.UTC().Format("20060102"),
			},
			Fields: "ts_code,trade_date,open,high,low,close,vol,amount",
		}
	}
	req.Token = f.token

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&tushareResponse{}).
		Post("")
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Period: period, Range: r, Err: err}
	}
	if resp.IsError() {
		return nil, &FetchError{Symbol: symbol, Period: period, Range: r,
			Err: fmt.Errorf("http %d", resp.StatusCode())}
	}
	body := resp.Result().(*tushareResponse)
	if body.Code != 0 {
		return nil, &FetchError{Symbol: symbol, Period: period, Range: r,
			Err: fmt.Errorf("tushare code %d: %s", body.Code, body.Msg)}
	}

	bars, err := f.decodeItems(body, symbol, period, timeField)
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Period: period, Range: r, Err: err}
	}

	// TuShare returns rows newest-first.
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	f.log.Debug("fetched", "symbol", symbol, "period", period, "range", r.String(), "bars", len(bars))
	return bars, nil
}

// decodeItems maps the positional row arrays onto bars using the field list
// returned by the API.
func (f *TuShareFetcher) decodeItems(body *tushareResponse, symbol string, period domain.Period, timeField string) ([]domain.Bar, error) {
	idx := make(map[string]int, len(body.Data.Fields))
	for i, name := range body.Data.Fields {
		idx[name] = i
	}
	for _, name := range []string{timeField, "open", "high", "low", "close", "vol"} {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("response missing field %q", name)
		}
	}

	bars := make([]domain.Bar, 0, len(body.Data.Items))
	for _, row := range body.Data.Items {
		ts, err := parseBarTime(stringAt(row, idx[timeField]), period)
		if err != nil {
			return nil, err
		}
		b := domain.Bar{
			Symbol:    symbol,
			Period:    period,
			Timestamp: ts,
			Open:      floatAt(row, idx["open"]),
			High:      floatAt(row, idx["high"]),
			Low:       floatAt(row, idx["low"]),
			Close:     floatAt(row, idx["close"]),
			Volume:    int64(floatAt(row, idx["vol"])),
		}
		if i, ok := idx["amount"]; ok {
			b.Amount = floatAt(row, i)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// parseBarTime normalizes the API's bar labels to period-start timestamps.
// Minute rows carry trade_time marking the bar close; daily and coarser rows
// carry a trade_date.
func parseBarTime(s string, period domain.Period) (time.Time, error) {
	if period.Intraday() {
		t, err := time.ParseInLocation("2006-01-02 15:04:05", s, cst)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing trade_time %q: %w", s, err)
		}
		return t.Add(-period.Duration()).UTC(), nil
	}
	t, err := time.ParseInLocation("20060102", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing trade_date %q: %w", s, err)
	}
	return t, nil
}

func stringAt(row []any, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return s
}

func floatAt(row []any, i int) float64 {
	if i < 0 || i >= len(row) {
		return 0
	}
	v, _ := row[i].(float64)
	return v
}
