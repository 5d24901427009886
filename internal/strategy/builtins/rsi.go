package builtins

import (
	"context"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RSI)(nil)

// RSI is a mean-reversion strategy: buy on oversold, close on overbought.
type RSI struct {
	rsi        *rsi
	oversold   float64
	overbought float64
	lot        int64
}

// NewRSI creates an RSI strategy with the given period and thresholds.
func NewRSI(period int, oversold, overbought float64, lot int64) *RSI {
	return &RSI{
		rsi:        newRSI(period),
		oversold:   oversold,
		overbought: overbought,
		lot:        lot,
	}
}

func (s *RSI) Name() string { return "rsi" }

func (s *RSI) OnStart(_ context.Context, warmup []domain.Bar) error {
	for _, b := range warmup {
		s.rsi.push(b.Close)
	}
	return nil
}

func (s *RSI) OnBar(_ context.Context, bar domain.Bar, view strategy.PortfolioView) ([]strategy.Order, error) {
	s.rsi.push(bar.Close)
	if !s.rsi.ready() {
		return nil, nil
	}
	v := s.rsi.value()

	held := view.PositionQty(bar.Symbol)
	switch {
	case held == 0 && v < s.oversold:
		qty := affordableLots(view.Cash(), bar.Close, s.lot)
		if qty == 0 {
			return nil, nil
		}
		return []strategy.Order{{Side: strategy.SideBuy, Quantity: qty}}, nil

	case held > 0 && v > s.overbought:
		return []strategy.Order{{Side: strategy.SideSell, Quantity: held}}, nil
	}
	return nil, nil
}

func (s *RSI) OnEnd(context.Context, strategy.PortfolioView) error { return nil }
