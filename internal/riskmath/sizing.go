// Package riskmath implements RiskService's position-sizing and
// circuit-breaker calculations.
package riskmath

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// CalculatePositionSize returns the quantity to trade such that the
// currency-at-risk on this position (|qty| * |entry-stop|) equals
// maxRiskPerTrade * equity, the per-trade risk cap from spec.md §4.4.
//
// Returns 0 if entry and stop coincide (zero risk distance means the risk
// budget can't be translated into a bounded quantity) or if equity,
// maxRiskPerTrade or entryPrice is non-positive; stopPrice is not checked.
func CalculatePositionSize(equity, maxRiskPerTrade, entryPrice, stopPrice float64) float64 {
	if equity <= 0 || maxRiskPerTrade <= 0 || entryPrice <= 0 {
		return 0
	}
	riskDistance := math.Abs(entryPrice - stopPrice)
	if riskDistance == 0 {
		return 0
	}
	riskBudget := equity * maxRiskPerTrade
	return riskBudget / riskDistance
}

// CalculateVolatilityTargetedPositionValue scales a position's notional
// value so that its contribution to portfolio volatility matches
// targetPortfolioVol, using the trailing return series' standard
// deviation as the asset's realized volatility (gonum/stat.StdDev).
// annualizationFactor converts the per-period stddev to the same horizon
// as targetPortfolioVol (e.g. sqrt(252) for daily returns annualized).
//
// Returns 0 if returns has fewer than two observations or its volatility
// is zero (nothing to scale against).
func CalculateVolatilityTargetedPositionValue(returns []float64, targetPortfolioVol, annualizationFactor, equity float64) float64 {
	if len(returns) < 2 || equity <= 0 || targetPortfolioVol <= 0 {
		return 0
	}
	assetVol := stat.StdDev(returns, nil) * annualizationFactor
	if assetVol == 0 {
		return 0
	}
	leverageFactor := targetPortfolioVol / assetVol
	return equity * leverageFactor
}

// RollingVolatility is a thin wrapper over gonum/stat.StdDev that turns a
// raw price series into a realized-volatility figure, for callers that
// only have prices rather than pre-computed returns.
func RollingVolatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) == 0 {
		return 0
	}
	return stat.StdDev(returns, nil)
}
