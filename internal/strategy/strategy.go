// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry for managing multiple strategy implementations.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"backlab/internal/domain"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order is a strategy's intent to trade. Quantity is in shares and must be
// positive; a zero Limit means market execution at the fill policy's price.
type Order struct {
	Side     Side
	Quantity int64
	Limit    float64
}

// PortfolioView is the read-only portfolio state a strategy may consult.
// Strategies never mutate the portfolio directly; all changes flow through
// the orders they return.
type PortfolioView interface {
	// Cash returns the currently available cash.
	Cash() float64

	// PositionQty returns the held quantity for the symbol, zero if flat.
	PositionQty(symbol string) int64

	// AvgCost returns the average entry cost for the symbol's position.
	AvgCost(symbol string) float64

	// Equity returns cash plus the mark-to-market value of all positions.
	Equity() float64
}

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// OnStart performs one-time setup before the run begins. warmup holds
	// the bars immediately preceding the backtest window, oldest first, for
	// indicator priming.
	OnStart(ctx context.Context, warmup []domain.Bar) error

	// OnBar is called once per bar in timestamp order and returns zero or
	// more orders to be executed under the engine's fill policy.
	OnBar(ctx context.Context, bar domain.Bar, view PortfolioView) ([]Order, error)

	// OnEnd is called after the last bar has been processed.
	OnEnd(ctx context.Context, view PortfolioView) error
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]func() Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]func() Strategy),
	}
}

// Register adds a strategy constructor under the given name. Constructors,
// not instances, are registered so each backtest run gets fresh state.
func (r *Registry) Register(name string, create func() Strategy) {
	r.strategies[name] = create
}

// New instantiates the named strategy, or an error if it is not registered.
func (r *Registry) New(name string) (Strategy, error) {
	create, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, r.List())
	}
	return create(), nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
