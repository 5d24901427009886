// Package backtest replays stored bar series through a strategy against a
// simulated broker, producing a trade log, an equity curve, and summary
// metrics.
package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"backlab/internal/strategy"
)

// RejectReason classifies why an order could not be filled. Rejections are
// outcomes, not errors; the engine logs them and keeps running unless
// configured to abort.
type RejectReason string

const (
	RejectNone               RejectReason = ""
	RejectInsufficientCash   RejectReason = "insufficient cash"
	RejectInsufficientShares RejectReason = "insufficient shares"
)

// Position is a broker-held position with its average entry cost. A
// negative quantity is a short; AvgCost then holds the average short entry
// price.
type Position struct {
	Quantity int64
	AvgCost  decimal.Decimal
}

// Fill records one executed order.
type Fill struct {
	Timestamp  time.Time
	Side       strategy.Side
	Quantity   int64
	Price      float64
	Commission float64
}

// RoundTrip is a closed trade: a position reduction matched against the
// average entry cost.
type RoundTrip struct {
	Symbol   string
	Exit     time.Time
	Quantity int64
	Pnl      float64
}

// Broker simulates cash and positions. All money math runs on decimals so
// repeated commission and slippage applications cannot drift; prices cross
// the float boundary only at the Fill and view edges.
type Broker struct {
	cash       decimal.Decimal
	commission decimal.Decimal
	slippage   decimal.Decimal
	allowShort bool

	positions  map[string]*Position
	lastPrice  map[string]decimal.Decimal
	roundTrips []RoundTrip
}

// NewBroker creates a broker with the given starting cash, proportional
// commission rate, and proportional slippage.
func NewBroker(cash, commission, slippage float64, allowShort bool) *Broker {
	return &Broker{
		cash:       decimal.NewFromFloat(cash),
		commission: decimal.NewFromFloat(commission),
		slippage:   decimal.NewFromFloat(slippage),
		allowShort: allowShort,
		positions:  make(map[string]*Position),
		lastPrice:  make(map[string]decimal.Decimal),
	}
}

// MarkToMarket records the latest price for a symbol, used for equity.
func (b *Broker) MarkToMarket(symbol string, price float64) {
	b.lastPrice[symbol] = decimal.NewFromFloat(price)
}

// Execute fills an order at basePrice adjusted for slippage, or rejects it.
// Buys pay base*(1+slippage), sells receive base*(1-slippage); commission is
// proportional to the traded value on both sides.
func (b *Broker) Execute(symbol string, o strategy.Order, basePrice float64, ts time.Time) (*Fill, RejectReason) {
	base := decimal.NewFromFloat(basePrice)
	qty := decimal.NewFromInt(o.Quantity)
	one := decimal.NewFromInt(1)

	pos, ok := b.positions[symbol]
	if !ok {
		pos = &Position{}
		b.positions[symbol] = pos
	}

	switch o.Side {
	case strategy.SideBuy:
		price := base.Mul(one.Add(b.slippage))
		value := price.Mul(qty)
		fee := value.Mul(b.commission)
		if value.Add(fee).GreaterThan(b.cash) {
			return nil, RejectInsufficientCash
		}
		b.cash = b.cash.Sub(value).Sub(fee)

		oldQty := pos.Quantity
		pos.Quantity += o.Quantity
		if oldQty < 0 {
			// Covering a short: realize P&L against the short entry price,
			// charging only the covered portion's share of the fee.
			closed := min(o.Quantity, -oldQty)
			closedFee := fee.Mul(decimal.NewFromInt(closed)).Div(qty)
			pnl := pos.AvgCost.Sub(price).Mul(decimal.NewFromInt(closed)).Sub(closedFee)
			pnlF, _ := pnl.Float64()
			b.roundTrips = append(b.roundTrips, RoundTrip{
				Symbol: symbol, Exit: ts, Quantity: closed, Pnl: pnlF,
			})
			switch {
			case pos.Quantity == 0:
				pos.AvgCost = decimal.Zero
			case pos.Quantity > 0:
				// Flipped through zero: the remaining long entered here.
				pos.AvgCost = price
			}
		} else {
			oldValue := pos.AvgCost.Mul(decimal.NewFromInt(oldQty))
			pos.AvgCost = oldValue.Add(value).Div(decimal.NewFromInt(pos.Quantity))
		}

		f, _ := fee.Float64()
		p, _ := price.Float64()
		return &Fill{Timestamp: ts, Side: o.Side, Quantity: o.Quantity, Price: p, Commission: f}, RejectNone

	case strategy.SideSell:
		if o.Quantity > pos.Quantity && !b.allowShort {
			return nil, RejectInsufficientShares
		}

		price := base.Mul(one.Sub(b.slippage))
		value := price.Mul(qty)
		fee := value.Mul(b.commission)
		b.cash = b.cash.Add(value).Sub(fee)

		oldQty := pos.Quantity
		pos.Quantity -= o.Quantity
		if oldQty > 0 {
			closed := min(o.Quantity, oldQty)
			closedFee := fee.Mul(decimal.NewFromInt(closed)).Div(qty)
			pnl := price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(closed)).Sub(closedFee)
			pnlF, _ := pnl.Float64()
			b.roundTrips = append(b.roundTrips, RoundTrip{
				Symbol: symbol, Exit: ts, Quantity: closed, Pnl: pnlF,
			})
		}
		switch {
		case pos.Quantity == 0:
			pos.AvgCost = decimal.Zero
		case pos.Quantity < 0 && oldQty >= 0:
			// Opened a short (or flipped through zero): entry price is the
			// fill price.
			pos.AvgCost = price
		case pos.Quantity < 0 && oldQty < 0:
			// Extending a short: blend the entry price over the total size.
			oldShort := decimal.NewFromInt(-oldQty)
			pos.AvgCost = pos.AvgCost.Mul(oldShort).Add(value).Div(decimal.NewFromInt(-pos.Quantity))
		}

		f, _ := fee.Float64()
		p, _ := price.Float64()
		return &Fill{Timestamp: ts, Side: o.Side, Quantity: o.Quantity, Price: p, Commission: f}, RejectNone
	}

	return nil, RejectReason("unknown side " + string(o.Side))
}

// RoundTrips returns all closed trades in execution order.
func (b *Broker) RoundTrips() []RoundTrip {
	return b.roundTrips
}

// Cash implements strategy.PortfolioView.
func (b *Broker) Cash() float64 {
	v, _ := b.cash.Float64()
	return v
}

// PositionQty implements strategy.PortfolioView.
func (b *Broker) PositionQty(symbol string) int64 {
	if pos, ok := b.positions[symbol]; ok {
		return pos.Quantity
	}
	return 0
}

// AvgCost implements strategy.PortfolioView.
func (b *Broker) AvgCost(symbol string) float64 {
	if pos, ok := b.positions[symbol]; ok {
		v, _ := pos.AvgCost.Float64()
		return v
	}
	return 0
}

// Equity implements strategy.PortfolioView: cash plus every position marked
// at its last seen price.
func (b *Broker) Equity() float64 {
	total := b.cash
	for symbol, pos := range b.positions {
		if pos.Quantity == 0 {
			continue
		}
		total = total.Add(b.lastPrice[symbol].Mul(decimal.NewFromInt(pos.Quantity)))
	}
	v, _ := total.Float64()
	return v
}

// Compile-time interface check.
var _ strategy.PortfolioView = (*Broker)(nil)
