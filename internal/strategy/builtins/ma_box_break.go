package builtins

import (
	"context"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MABoxBreak)(nil)

// MABoxBreak buys when the close crosses above a rising long moving average,
// then records a price box around the entry. While the close stays inside
// the box the position is held regardless of the fast averages; once the
// close leaves the box, a fast/mid dead cross exits.
type MABoxBreak struct {
	maFast *sma
	maMid  *sma
	maSlow *sma
	boxHi  *rolling
	boxLo  *rolling
	lot    int64

	prevClose  float64
	haveClose  bool
	inBox      bool
	boxHighVal float64
	boxLowVal  float64
}

// NewMABoxBreak creates the strategy with the given MA periods, box window,
// and board-lot size.
func NewMABoxBreak(fast, mid, slow, boxPeriod int, lot int64) *MABoxBreak {
	return &MABoxBreak{
		maFast: newSMA(fast),
		maMid:  newSMA(mid),
		maSlow: newSMA(slow),
		boxHi:  newRolling(boxPeriod),
		boxLo:  newRolling(boxPeriod),
		lot:    lot,
	}
}

func (s *MABoxBreak) Name() string { return "ma_box_break" }

func (s *MABoxBreak) OnStart(_ context.Context, warmup []domain.Bar) error {
	for _, b := range warmup {
		s.observe(b)
	}
	return nil
}

func (s *MABoxBreak) observe(b domain.Bar) {
	s.maFast.push(b.Close)
	s.maMid.push(b.Close)
	s.maSlow.push(b.Close)
	s.boxHi.push(b.High)
	s.boxLo.push(b.Low)
}

func (s *MABoxBreak) OnBar(_ context.Context, bar domain.Bar, view strategy.PortfolioView) ([]strategy.Order, error) {
	slowWasReady := s.maSlow.ready()
	prevSlow := 0.0
	if slowWasReady {
		prevSlow = s.maSlow.value()
	}
	prevClose, haveClose := s.prevClose, s.haveClose

	s.observe(bar)
	s.prevClose, s.haveClose = bar.Close, true

	if !slowWasReady || !s.maSlow.ready() || !haveClose {
		return nil, nil
	}
	slow := s.maSlow.value()
	slope := slow - prevSlow

	held := view.PositionQty(bar.Symbol)
	if held == 0 {
		// Entry: close crosses above a rising slow MA.
		if prevClose <= prevSlow && bar.Close > slow && slope > 0 {
			qty := affordableLots(view.Cash(), bar.Close, s.lot)
			if qty == 0 {
				return nil, nil
			}
			s.boxHighVal = s.boxHi.max()
			s.boxLowVal = s.boxLo.min()
			s.inBox = true
			return []strategy.Order{{Side: strategy.SideBuy, Quantity: qty}}, nil
		}
		return nil, nil
	}

	if bar.Close < s.boxLowVal || bar.Close > s.boxHighVal {
		s.inBox = false
	}
	if !s.inBox && s.maFast.ready() && s.maMid.ready() && s.maFast.value() < s.maMid.value() {
		s.inBox = false
		return []strategy.Order{{Side: strategy.SideSell, Quantity: held}}, nil
	}
	return nil, nil
}

func (s *MABoxBreak) OnEnd(context.Context, strategy.PortfolioView) error { return nil }
