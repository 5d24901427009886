package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backlab/internal/domain"
)

// tushareHandler serves a canned TuShare response and records the request.
func tushareHandler(t *testing.T, reqOut *tushareRequest, resp string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("reading request body: %v", err)
		}
		if reqOut != nil {
			if err := json.Unmarshal(body, reqOut); err != nil {
				t.Fatalf("decoding request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, resp)
	})
}

func TestTuShareFetchDaily(t *testing.T) {
	var gotReq tushareRequest
	// Rows newest-first, the way the API returns them.
	srv := httptest.NewServer(tushareHandler(t, &gotReq, `{
		"code": 0,
		"data": {
			"fields": ["ts_code", "trade_date", "open", "high", "low", "close", "vol", "amount"],
			"items": [
				["000001.SZ", "20230302", 12.6, 12.9, 12.5, 12.8, 820000, 10450000],
				["000001.SZ", "20230301", 12.3, 12.7, 12.1, 12.5, 900000, 11200000]
			]
		}
	}`))
	defer srv.Close()

	f := NewTuShareFetcher("test-token", srv.URL, 6000)
	bars, err := f.Fetch(context.Background(), "000001.SZ", domain.PeriodDaily,
		time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotReq.APIName != "daily" {
		t.Errorf("api_name = %q, want daily", gotReq.APIName)
	}
	if gotReq.Token != "test-token" {
		t.Errorf("token = %q", gotReq.Token)
	}
	if gotReq.Params["start_date"] != "20230301" || gotReq.Params["end_date"] != "20230331" {
		t.Errorf("date params = %v", gotReq.Params)
	}

	if len(bars) != 2 {
		t.Fatalf("Fetch returned %d bars, want 2", len(bars))
	}
	// Must come back sorted ascending despite newest-first response rows.
	if !bars[0].Timestamp.Equal(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first bar timestamp = %v, want 2023-03-01", bars[0].Timestamp)
	}
	if bars[0].Close != 12.5 || bars[1].Close != 12.8 {
		t.Errorf("closes = %v, %v", bars[0].Close, bars[1].Close)
	}
	if bars[0].Period != domain.PeriodDaily || bars[0].Symbol != "000001.SZ" {
		t.Errorf("bar identity = %s %s", bars[0].Symbol, bars[0].Period)
	}
	if err := domain.ValidateSeries(bars); err != nil {
		t.Errorf("fetched series invalid: %v", err)
	}
}

func TestTuShareFetchMinute(t *testing.T) {
	var gotReq tushareRequest
	srv := httptest.NewServer(tushareHandler(t, &gotReq, `{
		"code": 0,
		"data": {
			"fields": ["ts_code", "trade_time", "open", "high", "low", "close", "vol", "amount"],
			"items": [
				["000001.SZ", "2023-03-01 10:30:00", 12.4, 12.6, 12.3, 12.5, 52000, 650000]
			]
		}
	}`))
	defer srv.Close()

	f := NewTuShareFetcher("test-token", srv.URL, 6000)
	bars, err := f.Fetch(context.Background(), "000001.SZ", domain.Period60Min,
		time.Date(2023, 3, 1, 1, 30, 0, 0, time.UTC), time.Date(2023, 3, 1, 7, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotReq.APIName != "stk_mins" || gotReq.Params["freq"] != "60min" {
		t.Errorf("request = %q freq=%q", gotReq.APIName, gotReq.Params["freq"])
	}

	if len(bars) != 1 {
		t.Fatalf("Fetch returned %d bars, want 1", len(bars))
	}
	// trade_time 10:30 CST marks the bar close; period start is 09:30 CST,
	// which is 01:30 UTC.
	want := time.Date(2023, 3, 1, 1, 30, 0, 0, time.UTC)
	if !bars[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v (period start)", bars[0].Timestamp, want)
	}
}

func TestTuShareFetchAPIError(t *testing.T) {
	srv := httptest.NewServer(tushareHandler(t, nil, `{"code": 40203, "msg": "token invalid"}`))
	defer srv.Close()

	f := NewTuShareFetcher("bad-token", srv.URL, 6000)
	_, err := f.Fetch(context.Background(), "000001.SZ", domain.PeriodDaily,
		time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 3, 2, 0, 0, 0, 0, time.UTC))

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Fetch error = %v, want *FetchError", err)
	}
	if fe.Symbol != "000001.SZ" || fe.Period != domain.PeriodDaily {
		t.Errorf("FetchError identity = %s %s", fe.Symbol, fe.Period)
	}
}

func TestTuShareFetchUnsupportedIntradayPeriod(t *testing.T) {
	f := NewTuShareFetcher("tok", "http://unused.invalid", 6000)
	_, err := f.Fetch(context.Background(), "000001.SZ", domain.Period10Min,
		time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 3, 2, 0, 0, 0, 0, time.UTC))

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Fetch error = %v, want *FetchError for 10min", err)
	}
}
