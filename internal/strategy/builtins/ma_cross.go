package builtins

import (
	"context"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MACross)(nil)

// MACross is a moving-average crossover strategy: buy when the fast SMA
// crosses above the slow SMA, close the position when it crosses below.
type MACross struct {
	fast *sma
	slow *sma
	lot  int64
}

// NewMACross creates a crossover strategy with the given SMA periods.
func NewMACross(fastPeriod, slowPeriod int, lot int64) *MACross {
	return &MACross{
		fast: newSMA(fastPeriod),
		slow: newSMA(slowPeriod),
		lot:  lot,
	}
}

func (s *MACross) Name() string { return "ma_cross" }

// OnStart primes the moving averages from warmup bars.
func (s *MACross) OnStart(_ context.Context, warmup []domain.Bar) error {
	for _, b := range warmup {
		s.fast.push(b.Close)
		s.slow.push(b.Close)
	}
	return nil
}

func (s *MACross) OnBar(_ context.Context, bar domain.Bar, view strategy.PortfolioView) ([]strategy.Order, error) {
	wasReady := s.fast.ready() && s.slow.ready()
	var prevDiff float64
	if wasReady {
		prevDiff = s.fast.value() - s.slow.value()
	}

	s.fast.push(bar.Close)
	s.slow.push(bar.Close)
	if !wasReady || !s.fast.ready() || !s.slow.ready() {
		return nil, nil
	}
	diff := s.fast.value() - s.slow.value()

	held := view.PositionQty(bar.Symbol)
	switch {
	case held == 0 && prevDiff <= 0 && diff > 0:
		qty := affordableLots(view.Cash(), bar.Close, s.lot)
		if qty == 0 {
			return nil, nil
		}
		return []strategy.Order{{Side: strategy.SideBuy, Quantity: qty}}, nil

	case held > 0 && prevDiff >= 0 && diff < 0:
		return []strategy.Order{{Side: strategy.SideSell, Quantity: held}}, nil
	}
	return nil, nil
}

func (s *MACross) OnEnd(context.Context, strategy.PortfolioView) error { return nil }
