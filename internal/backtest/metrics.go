package backtest

import (
	"math"

	"backlab/internal/calendar"
	"backlab/internal/domain"
)

// Metrics summarizes one completed run. Sharpe and WinRate are pointers so
// degenerate runs (zero variance, zero closed trades) report absent rather
// than zero.
type Metrics struct {
	InitialCash      float64
	FinalEquity      float64
	TotalReturn      float64
	AnnualizedReturn float64
	MaxDrawdown      float64
	Sharpe           *float64
	WinRate          *float64
	TotalTrades      int
	WinTrades        int
	LossTrades       int
}

// ComputeMetrics derives summary statistics from a run's equity curve and
// closed trades. period is the bar granularity the run was executed at and
// drives annualization.
func ComputeMetrics(cal *calendar.Calendar, period domain.Period, initialCash float64, result *Result) Metrics {
	m := Metrics{
		InitialCash: initialCash,
		FinalEquity: result.FinalEquity,
		TotalTrades: len(result.RoundTrips),
	}
	if initialCash > 0 {
		m.TotalReturn = (result.FinalEquity - initialCash) / initialCash
	}

	curve := result.EquityCurve
	ppy := cal.PeriodsPerYear(period)
	if n := len(curve); n > 0 && initialCash > 0 {
		growth := result.FinalEquity / initialCash
		if growth > 0 {
			m.AnnualizedReturn = math.Pow(growth, ppy/float64(n)) - 1
		}
	}

	// Max drawdown against a running peak.
	peak := initialCash
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak; dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}

	m.Sharpe = sharpe(curve, ppy)

	if len(result.RoundTrips) > 0 {
		for _, rt := range result.RoundTrips {
			if rt.Pnl > 0 {
				m.WinTrades++
			} else {
				m.LossTrades++
			}
		}
		rate := float64(m.WinTrades) / float64(len(result.RoundTrips))
		m.WinRate = &rate
	}
	return m
}

// sharpe computes the annualized mean-over-stddev of periodic returns, or
// nil when the curve is too short or the returns have zero variance.
func sharpe(curve []EquityPoint, ppy float64) *float64 {
	if len(curve) < 3 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Value == 0 {
			return nil
		}
		returns = append(returns, curve[i].Value/curve[i-1].Value-1)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return nil
	}

	s := mean / math.Sqrt(variance) * math.Sqrt(ppy)
	return &s
}
