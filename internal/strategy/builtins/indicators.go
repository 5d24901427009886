// Package builtins provides the built-in strategy implementations that ship
// with the backlab platform.
package builtins

// sma is a rolling simple moving average over a fixed window.
type sma struct {
	period int
	window []float64
	sum    float64
}

func newSMA(period int) *sma {
	return &sma{period: period}
}

func (s *sma) push(v float64) {
	s.window = append(s.window, v)
	s.sum += v
	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
}

func (s *sma) ready() bool {
	return len(s.window) == s.period
}

func (s *sma) value() float64 {
	return s.sum / float64(len(s.window))
}

// rsi is Wilder's relative strength index: simple-average seed over the
// first period deltas, then smoothed updates.
type rsi struct {
	period   int
	count    int
	prev     float64
	avgGain  float64
	avgLoss  float64
	havePrev bool
}

func newRSI(period int) *rsi {
	return &rsi{period: period}
}

func (r *rsi) push(close float64) {
	if !r.havePrev {
		r.prev = close
		r.havePrev = true
		return
	}
	gain, loss := 0.0, 0.0
	if d := close - r.prev; d > 0 {
		gain = d
	} else {
		loss = -d
	}
	r.prev = close
	r.count++

	switch {
	case r.count < r.period:
		r.avgGain += gain
		r.avgLoss += loss
	case r.count == r.period:
		r.avgGain = (r.avgGain + gain) / float64(r.period)
		r.avgLoss = (r.avgLoss + loss) / float64(r.period)
	default:
		n := float64(r.period)
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	}
}

func (r *rsi) ready() bool {
	return r.count >= r.period
}

func (r *rsi) value() float64 {
	if r.avgLoss == 0 {
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// rolling keeps the last n values for windowed extrema.
type rolling struct {
	size   int
	values []float64
}

func newRolling(size int) *rolling {
	return &rolling{size: size}
}

func (r *rolling) push(v float64) {
	r.values = append(r.values, v)
	if len(r.values) > r.size {
		r.values = r.values[1:]
	}
}

func (r *rolling) ready() bool {
	return len(r.values) == r.size
}

func (r *rolling) max() float64 {
	m := r.values[0]
	for _, v := range r.values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func (r *rolling) min() float64 {
	m := r.values[0]
	for _, v := range r.values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// affordableLots sizes an all-in buy: 95% of cash, rounded down to whole
// board lots.
func affordableLots(cash, price float64, lot int64) int64 {
	if price <= 0 || lot <= 0 {
		return 0
	}
	shares := int64(cash * 0.95 / price)
	return shares / lot * lot
}
