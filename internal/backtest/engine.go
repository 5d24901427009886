package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// State is the engine's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FillPolicy selects the price a pending order fills at.
type FillPolicy int

const (
	// FillNextOpen fills orders at the next bar's open, simulating one-bar
	// execution lag. This is the default.
	FillNextOpen FillPolicy = iota

	// FillCurrentClose fills orders at the close of the bar that produced
	// them.
	FillCurrentClose
)

// Config parameterizes one backtest run.
type Config struct {
	InitialCash   float64
	Commission    float64
	Slippage      float64
	FillPolicy    FillPolicy
	AbortOnReject bool
	AllowShort    bool

	// Warmup bars precede the run window and are passed to OnStart only;
	// they never generate fills or equity points.
	Warmup []domain.Bar
}

// EquityPoint is one (timestamp, portfolio value) sample.
type EquityPoint struct {
	Timestamp time.Time
	Value     float64
}

// TradeLogEntry records one order outcome, filled or rejected.
type TradeLogEntry struct {
	Seq        int
	Timestamp  time.Time
	Side       strategy.Side
	Quantity   int64
	Price      float64
	Commission float64
	Status     string
	Reason     string
}

const (
	TradeStatusFilled   = "filled"
	TradeStatusRejected = "rejected"
)

// StrategyError wraps a failure raised by a strategy callback. Time is the
// failing bar's timestamp when the failure came from OnBar, so the run can
// be reproduced up to the exact bar.
type StrategyError struct {
	Strategy string
	Hook     string
	Time     time.Time
	Err      error
}

func (e *StrategyError) Error() string {
	if e.Time.IsZero() {
		return fmt.Sprintf("strategy %s: %s: %v", e.Strategy, e.Hook, e.Err)
	}
	return fmt.Sprintf("strategy %s: %s at %s: %v", e.Strategy, e.Hook, e.Time.Format(time.RFC3339), e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// Result is the read-only outcome of a run. On abort the equity curve and
// trade log hold everything up to the failure point.
type Result struct {
	State       State
	FinalEquity float64
	EquityCurve []EquityPoint
	Trades      []TradeLogEntry
	RoundTrips  []RoundTrip
	Err         error
}

// Engine drives a single-threaded event loop over a bar series. One Engine
// value runs one backtest; state is not reusable across runs.
type Engine struct {
	cfg    Config
	broker *Broker
	log    *slog.Logger

	state   State
	pending []strategy.Order
	result  *Result
}

// New creates an idle engine for one run.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		broker: NewBroker(cfg.InitialCash, cfg.Commission, cfg.Slippage, cfg.AllowShort),
		log:    slog.Default().With("component", "backtest"),
		state:  StateIdle,
	}
}

// Run replays bars through the strategy in timestamp order. For each bar it
// first fills orders pending from the previous bar at this bar's open, then
// samples the equity curve at the close, then invokes OnBar and queues the
// returned orders. Cancellation is honored between bars. The returned error
// is non-nil only for invalid input or a double Run; strategy failures and
// aborts are reported in Result.
func (e *Engine) Run(ctx context.Context, strat strategy.Strategy, bars []domain.Bar) (*Result, error) {
	if e.state != StateIdle {
		return nil, fmt.Errorf("engine already ran (state %s)", e.state)
	}
	if err := domain.ValidateSeries(bars); err != nil {
		return nil, err
	}
	e.state = StateRunning
	e.result = &Result{}

	if err := strat.OnStart(ctx, e.cfg.Warmup); err != nil {
		return e.abort(&StrategyError{Strategy: strat.Name(), Hook: "OnStart", Err: err}), nil
	}

	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return e.abort(err), nil
		}

		if rejected := e.fillPending(bar.Symbol, bar.Open, bar.Timestamp); rejected && e.cfg.AbortOnReject {
			return e.abort(fmt.Errorf("order rejected at %s", bar.Timestamp.Format(time.RFC3339))), nil
		}

		e.broker.MarkToMarket(bar.Symbol, bar.Close)
		e.result.EquityCurve = append(e.result.EquityCurve, EquityPoint{
			Timestamp: bar.Timestamp,
			Value:     e.broker.Equity(),
		})

		orders, err := strat.OnBar(ctx, bar, e.broker)
		if err != nil {
			return e.abort(&StrategyError{Strategy: strat.Name(), Hook: "OnBar", Time: bar.Timestamp, Err: err}), nil
		}

		if e.cfg.FillPolicy == FillCurrentClose {
			e.pending = orders
			if rejected := e.fillPending(bar.Symbol, bar.Close, bar.Timestamp); rejected && e.cfg.AbortOnReject {
				return e.abort(fmt.Errorf("order rejected at %s", bar.Timestamp.Format(time.RFC3339))), nil
			}
			// Refresh the equity sample after same-bar fills.
			e.result.EquityCurve[len(e.result.EquityCurve)-1].Value = e.broker.Equity()
			continue
		}
		e.pending = append(e.pending, orders...)
	}

	if err := strat.OnEnd(ctx, e.broker); err != nil {
		return e.abort(&StrategyError{Strategy: strat.Name(), Hook: "OnEnd", Err: err}), nil
	}

	e.state = StateCompleted
	e.result.State = StateCompleted
	e.result.FinalEquity = e.broker.Equity()
	e.result.RoundTrips = e.broker.RoundTrips()
	e.log.Info("run completed",
		"strategy", strat.Name(),
		"bars", len(bars),
		"trades", len(e.result.Trades),
		"final_equity", e.result.FinalEquity,
	)
	return e.result, nil
}

// fillPending executes queued orders at price, logging each fill or
// rejection. It reports whether any order was rejected.
func (e *Engine) fillPending(symbol string, price float64, ts time.Time) bool {
	rejected := false
	for _, o := range e.pending {
		entry := TradeLogEntry{
			Seq:       len(e.result.Trades),
			Timestamp: ts,
			Side:      o.Side,
			Quantity:  o.Quantity,
		}

		fill, reason := e.broker.Execute(symbol, o, price, ts)
		if reason != RejectNone {
			entry.Status = TradeStatusRejected
			entry.Reason = string(reason)
			rejected = true
			e.log.Warn("order rejected", "side", o.Side, "qty", o.Quantity, "reason", reason, "at", ts)
		} else {
			entry.Status = TradeStatusFilled
			entry.Price = fill.Price
			entry.Commission = fill.Commission
		}
		e.result.Trades = append(e.result.Trades, entry)
	}
	e.pending = e.pending[:0]
	return rejected
}

func (e *Engine) abort(err error) *Result {
	e.state = StateAborted
	e.result.State = StateAborted
	e.result.Err = err
	e.result.FinalEquity = e.broker.Equity()
	e.result.RoundTrips = e.broker.RoundTrips()
	e.log.Warn("run aborted", "err", err)
	return e.result
}
