package builtins

import "backlab/internal/strategy"

// Default parameters for the shipped strategies.
const (
	maCrossFast = 10
	maCrossSlow = 30

	rsiPeriod     = 14
	rsiOversold   = 30
	rsiOverbought = 70

	boxMAFast  = 5
	boxMAMid   = 10
	boxMASlow  = 60
	boxPeriod  = 3
	defaultLot = 100
)

// RegisterAll adds every built-in strategy to the registry under its
// canonical name. lot is the board-lot size orders are rounded down to; a
// non-positive lot falls back to the A-share standard of 100.
func RegisterAll(r *strategy.Registry, lot int64) {
	if lot <= 0 {
		lot = defaultLot
	}
	r.Register("ma_cross", func() strategy.Strategy {
		return NewMACross(maCrossFast, maCrossSlow, lot)
	})
	r.Register("rsi", func() strategy.Strategy {
		return NewRSI(rsiPeriod, rsiOversold, rsiOverbought, lot)
	})
	r.Register("ma_box_break", func() strategy.Strategy {
		return NewMABoxBreak(boxMAFast, boxMAMid, boxMASlow, boxPeriod, lot)
	})
}
