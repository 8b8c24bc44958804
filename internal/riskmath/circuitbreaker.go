package riskmath

// PortfolioState is the snapshot ApplyCircuitBreakers evaluates a candidate
// signal against: current equity, the open_risk already committed plus the
// candidate's own risk contribution, and the account's loss metrics for
// the current day and since inception.
type PortfolioState struct {
	Equity           float64
	OpenRisk         float64 // sum of existing open-position risk + candidate_risk
	DailyLoss        float64 // negative for a loss, e.g. -1500
	CumulativeDrawdown float64 // negative for a drawdown, e.g. -8000
}

// Breaker names the circuit breaker that tripped, for logging and for the
// signal_rejected_* event payloads spec.md §4.4 names.
type Breaker string

const (
	BreakerNone          Breaker = ""
	BreakerDailyLoss     Breaker = "circuit_breaker.daily_loss"
	BreakerTotalDrawdown Breaker = "circuit_breaker.total_drawdown"
	BreakerPortfolioHeat Breaker = "circuit_breaker.portfolio_heat"
)

// ApplyCircuitBreakers evaluates the three circuit breakers in the order
// spec.md §4.4 lists them and returns the first that trips, or
// BreakerNone if the portfolio is clear to trade. Each limit is a fraction
// of equity. A dailyLossLimit or totalDrawdownLimit <= 0 disables that
// breaker rather than tripping on every candidate (DailyLoss and
// CumulativeDrawdown are both 0 on a fresh portfolio with no PnL feed yet);
// maxPortfolioHeat is always applied, so a value <= 0 trips on any open risk.
func ApplyCircuitBreakers(state PortfolioState, dailyLossLimit, totalDrawdownLimit, maxPortfolioHeat float64) Breaker {
	if dailyLossLimit > 0 && state.DailyLoss <= -dailyLossLimit*state.Equity {
		return BreakerDailyLoss
	}
	if totalDrawdownLimit > 0 && state.CumulativeDrawdown <= -totalDrawdownLimit*state.Equity {
		return BreakerTotalDrawdown
	}
	if state.OpenRisk > maxPortfolioHeat*state.Equity {
		return BreakerPortfolioHeat
	}
	return BreakerNone
}

// ExceedsLeverage reports whether positionSize relative to equity exceeds
// maxLeverage (spec.md §4.4 step 4).
func ExceedsLeverage(positionSize, equity, maxLeverage float64) bool {
	if equity <= 0 {
		return true
	}
	return positionSize/equity > maxLeverage
}
