package riskmath

import (
	"math"
	"testing"
)

func TestCalculatePositionSize(t *testing.T) {
	got := CalculatePositionSize(100000, 0.02, 105.0, 101.0)
	want := 2000.0 / 4.0 // risk budget 2000, stop distance 4
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCalculatePositionSize_ZeroStopDistance(t *testing.T) {
	if got := CalculatePositionSize(100000, 0.02, 100, 100); got != 0 {
		t.Fatalf("expected 0 for zero stop distance, got %v", got)
	}
}

func TestApplyCircuitBreakers_HeatCapTrips(t *testing.T) {
	state := PortfolioState{Equity: 100000, OpenRisk: 6000.0001}
	breaker := ApplyCircuitBreakers(state, 0.03, 0.15, 0.06)
	if breaker != BreakerPortfolioHeat {
		t.Fatalf("expected portfolio heat breaker, got %q", breaker)
	}
}

func TestApplyCircuitBreakers_AtCapDoesNotTrip(t *testing.T) {
	state := PortfolioState{Equity: 100000, OpenRisk: 6000.0}
	breaker := ApplyCircuitBreakers(state, 0.03, 0.15, 0.06)
	if breaker != BreakerNone {
		t.Fatalf("expected no breaker at exactly the cap, got %q", breaker)
	}
}

func TestApplyCircuitBreakers_DailyLossTakesPriority(t *testing.T) {
	state := PortfolioState{Equity: 100000, OpenRisk: 7000, DailyLoss: -4000}
	breaker := ApplyCircuitBreakers(state, 0.03, 0.15, 0.06)
	if breaker != BreakerDailyLoss {
		t.Fatalf("expected daily loss breaker, got %q", breaker)
	}
}

func TestApplyCircuitBreakers_ZeroPnLPortfolioIsNotRejected(t *testing.T) {
	// No PnL feed yet: DailyLoss/CumulativeDrawdown are both 0, which must
	// not trip breakers configured with positive loss limits.
	state := PortfolioState{Equity: 100000, OpenRisk: 2000}
	breaker := ApplyCircuitBreakers(state, 0.03, 0.15, 0.06)
	if breaker != BreakerNone {
		t.Fatalf("expected no breaker on a zero-PnL portfolio, got %q", breaker)
	}
}

func TestApplyCircuitBreakers_ZeroLimitDisablesBreaker(t *testing.T) {
	state := PortfolioState{Equity: 100000, OpenRisk: 2000, DailyLoss: -500, CumulativeDrawdown: -500}
	breaker := ApplyCircuitBreakers(state, 0, 0, 0.06)
	if breaker != BreakerNone {
		t.Fatalf("expected daily_loss/total_drawdown limits of 0 to disable those breakers, got %q", breaker)
	}
}

func TestExceedsLeverage(t *testing.T) {
	if !ExceedsLeverage(200000, 100000, 1.5) {
		t.Fatal("expected leverage breach")
	}
	if ExceedsLeverage(150000, 100000, 1.5) {
		t.Fatal("expected no breach at exactly the cap")
	}
}
