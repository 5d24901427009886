package domain

import (
	"errors"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBarValidate(t *testing.T) {
	valid := Bar{
		Symbol: "000001.SZ", Period: PeriodDaily,
		Timestamp: day(2023, 3, 1),
		Open:      10.5, High: 10.9, Low: 10.3, Close: 10.7,
		Volume: 1200000, Amount: 12700000,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate returned error for valid bar: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Bar)
	}{
		{"low above high", func(b *Bar) { b.Low = 11.0 }},
		{"open above high", func(b *Bar) { b.Open = 12.0 }},
		{"close below low", func(b *Bar) { b.Close = 10.0 }},
		{"zero price", func(b *Bar) { b.Open = 0 }},
		{"negative volume", func(b *Bar) { b.Volume = -1 }},
	}
	for _, tc := range cases {
		b := valid
		tc.mutate(&b)
		if err := b.Validate(); err == nil {
			t.Errorf("%s: Validate should fail", tc.name)
		}
	}
}

func TestValidateSeries(t *testing.T) {
	bars := []Bar{
		{Symbol: "000001.SZ", Timestamp: day(2023, 3, 1), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Symbol: "000001.SZ", Timestamp: day(2023, 3, 2), Open: 10.5, High: 11, Low: 10, Close: 10.8, Volume: 100},
	}
	if err := ValidateSeries(bars); err != nil {
		t.Fatalf("ValidateSeries returned error for valid series: %v", err)
	}

	// Duplicate timestamp must be rejected.
	dup := append(bars, bars[1])
	if err := ValidateSeries(dup); err == nil {
		t.Error("ValidateSeries should reject duplicate timestamps")
	}

	// Out-of-order timestamps must be rejected.
	swapped := []Bar{bars[1], bars[0]}
	if err := ValidateSeries(swapped); err == nil {
		t.Error("ValidateSeries should reject decreasing timestamps")
	}
}

func TestParsePeriod(t *testing.T) {
	for _, p := range AllPeriods {
		got, err := ParsePeriod(string(p))
		if err != nil {
			t.Errorf("ParsePeriod(%q) returned error: %v", p, err)
		}
		if got != p {
			t.Errorf("ParsePeriod(%q) = %q", p, got)
		}
	}

	if _, err := ParsePeriod("2h"); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("ParsePeriod(\"2h\") error = %v, want ErrInvalidPeriod", err)
	}
}

func TestPeriodProperties(t *testing.T) {
	if !Period5Min.Intraday() || PeriodDaily.Intraday() {
		t.Error("Intraday classification wrong")
	}
	if Period30Min.Duration() != 30*time.Minute {
		t.Errorf("Period30Min.Duration() = %v", Period30Min.Duration())
	}
	if !PeriodDaily.Coarser(Period60Min) {
		t.Error("daily should be coarser than 60min")
	}
	if Period5Min.Coarser(Period5Min) {
		t.Error("a period is not coarser than itself")
	}
}

func TestSubtractRangesDisjointGaps(t *testing.T) {
	step := 24 * time.Hour
	req := DateRange{Start: day(2023, 1, 1), End: day(2023, 1, 31)}
	covered := []DateRange{
		{Start: day(2023, 1, 5), End: day(2023, 1, 10)},
		{Start: day(2023, 1, 20), End: day(2023, 1, 25)},
	}

	missing := SubtractRanges(req, covered, step)
	want := []DateRange{
		{Start: day(2023, 1, 1), End: day(2023, 1, 4)},
		{Start: day(2023, 1, 11), End: day(2023, 1, 19)},
		{Start: day(2023, 1, 26), End: day(2023, 1, 31)},
	}
	if len(missing) != len(want) {
		t.Fatalf("SubtractRanges returned %d ranges, want %d: %v", len(missing), len(want), missing)
	}
	for i := range want {
		if !missing[i].Start.Equal(want[i].Start) || !missing[i].End.Equal(want[i].End) {
			t.Errorf("range %d = %v, want %v", i, missing[i], want[i])
		}
	}
}

func TestSubtractRangesFullyCovered(t *testing.T) {
	step := 24 * time.Hour
	req := DateRange{Start: day(2023, 2, 1), End: day(2023, 2, 28)}
	covered := []DateRange{{Start: day(2023, 1, 1), End: day(2023, 12, 31)}}

	if missing := SubtractRanges(req, covered, step); len(missing) != 0 {
		t.Errorf("expected no missing ranges, got %v", missing)
	}
}

func TestMergeRangesAdjacent(t *testing.T) {
	step := 24 * time.Hour
	merged := MergeRanges([]DateRange{
		{Start: day(2023, 1, 10), End: day(2023, 1, 15)},
		{Start: day(2023, 1, 1), End: day(2023, 1, 9)},
	}, step)

	if len(merged) != 1 {
		t.Fatalf("MergeRanges returned %d ranges, want 1: %v", len(merged), merged)
	}
	if !merged[0].Start.Equal(day(2023, 1, 1)) || !merged[0].End.Equal(day(2023, 1, 15)) {
		t.Errorf("merged = %v, want 2023-01-01..2023-01-15", merged[0])
	}
}
