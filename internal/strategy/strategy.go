// Package strategy implements StrategyService's signal generation: a
// bounded price-history ring buffer per (strategy, exchange, symbol) feeding a
// trend-following reference strategy.
package strategy

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/aristath/tradepipe/internal/riskmath"
)

// historyCapacity is the ring buffer's bound (spec.md §4.3).
const historyCapacity = 500

// Decision is the directional action a strategy evaluation produces.
type Decision string

const (
	DecisionNone Decision = ""
	DecisionBuy  Decision = "buy"
	DecisionSell Decision = "sell"
)

// Signal is the payload StrategyService publishes on the signals stream.
type Signal struct {
	Strategy     string
	Symbol       string
	Exchange     string
	Decision     Decision
	StopDistance float64
	PositionSize float64
}

// Params configures the MA-crossover + ATR reference strategy
// (spec.md §4.3).
type Params struct {
	FastMAPeriod    int
	SlowMAPeriod    int
	ATRPeriod       int
	ATRMultiplier   float64
	MaxRiskPerTrade float64

	// VolatilityTargeting, when enabled, sizes the position off
	// riskmath.CalculateVolatilityTargetedPositionValue (asset volatility
	// derived from the history buffer itself) instead of the plain
	// per-trade risk cap (risk.volatility_targeting in config).
	VolatilityTargeting bool
	TargetPortfolioVol  float64
	AnnualizationFactor float64
}

// DefaultParams returns spec.md §4.3's documented defaults.
func DefaultParams() Params {
	return Params{
		FastMAPeriod:  50,
		SlowMAPeriod:  200,
		ATRPeriod:     14,
		ATRMultiplier: 2.0,
	}
}

// History is the bounded close-price ring buffer StrategyService maintains
// per (strategy, exchange, symbol) across market_data ticks.
type History struct {
	closes   []float64
	capacity int
}

// NewHistory creates an empty history with the standard 500-close bound.
func NewHistory() *History {
	return &History{capacity: historyCapacity}
}

// Push appends close, discarding the oldest entry once at capacity.
func (h *History) Push(close float64) {
	h.closes = append(h.closes, close)
	if len(h.closes) > h.capacity {
		h.closes = h.closes[len(h.closes)-h.capacity:]
	}
}

// Len reports how many closes are currently buffered.
func (h *History) Len() int {
	return len(h.closes)
}

// Closes returns the buffered closes, oldest first.
func (h *History) Closes() []float64 {
	return h.closes
}

// Evaluate runs the trend/MA-crossover + ATR-sizing reference strategy
// against h's current buffer. It returns a Signal carrying only the
// strategy, exchange and symbol, with Decision == DecisionNone, if the
// buffer doesn't yet satisfy the strategy's preconditions, the moving
// averages fall inside the hysteresis band, or the ATR is zero or NaN.
func Evaluate(strategyName, exchange, symbol string, h *History, p Params, equity float64) Signal {
	required := maxInt(p.FastMAPeriod, maxInt(p.SlowMAPeriod, p.ATRPeriod)) + 1
	closes := h.Closes()
	if len(closes) < required {
		return Signal{Strategy: strategyName, Exchange: exchange, Symbol: symbol}
	}

	fastMA := sma(closes, p.FastMAPeriod)
	slowMA := sma(closes, p.SlowMAPeriod)
	atr := meanAbsDelta(closes, p.ATRPeriod)

	var decision Decision
	switch {
	case fastMA > slowMA*1.001:
		decision = DecisionBuy
	case fastMA < slowMA*0.999:
		decision = DecisionSell
	default:
		decision = DecisionNone
	}

	if decision == DecisionNone {
		return Signal{Strategy: strategyName, Exchange: exchange, Symbol: symbol}
	}
	if math.IsNaN(atr) || atr <= 0 {
		// A flat price run over the ATR window carries no stop distance to
		// size against; suppress the signal rather than emit one with
		// stop_distance=0 (spec.md §8's boundary behaviour).
		return Signal{Strategy: strategyName, Exchange: exchange, Symbol: symbol}
	}

	stopDistance := atr * p.ATRMultiplier
	entryPrice := closes[len(closes)-1]
	stopPrice := entryPrice - signedDistance(decision, stopDistance)

	var positionSize float64
	if p.VolatilityTargeting {
		notional := riskmath.CalculateVolatilityTargetedPositionValue(returns(closes), p.TargetPortfolioVol, p.AnnualizationFactor, equity)
		if notional > 0 && entryPrice > 0 {
			positionSize = notional / entryPrice
		}
	} else {
		positionSize = riskmath.CalculatePositionSize(equity, p.MaxRiskPerTrade, entryPrice, stopPrice)
	}

	return Signal{
		Strategy:     strategyName,
		Exchange:     exchange,
		Symbol:       symbol,
		Decision:     decision,
		StopDistance: stopDistance,
		PositionSize: positionSize,
	}
}

// signedDistance returns stopDistance signed so that
// entry - signedDistance(decision, stopDistance) gives the correct stop
// price side for the decision (below entry for buys, above for sells).
func signedDistance(decision Decision, stopDistance float64) float64 {
	if decision == DecisionSell {
		return -stopDistance
	}
	return stopDistance
}

// sma returns the mean of the last period closes via go-talib's Sma.
// The ATR (meanAbsDelta below) is computed here directly from closes, not
// through go-talib.
func sma(closes []float64, period int) float64 {
	out := talib.Sma(closes, period)
	return out[len(out)-1]
}

// meanAbsDelta computes mean(|Δclose|) over the last period closes, the
// ATR approximation spec.md §4.3 specifies (a simplified ATR that needs
// only close prices, not full OHLC bars).
func meanAbsDelta(closes []float64, period int) float64 {
	start := len(closes) - period
	if start < 1 {
		start = 1
	}
	var sum float64
	var count int
	for i := start; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// returns converts a close-price series into simple period returns, the
// input riskmath.CalculateVolatilityTargetedPositionValue expects.
func returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}
