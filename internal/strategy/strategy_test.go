package strategy

import "testing"

func TestHistory_BoundedAtCapacity(t *testing.T) {
	h := NewHistory()
	for i := 0; i < historyCapacity+50; i++ {
		h.Push(float64(i))
	}
	if h.Len() != historyCapacity {
		t.Fatalf("expected history bounded at %d, got %d", historyCapacity, h.Len())
	}
	closes := h.Closes()
	if closes[len(closes)-1] != float64(historyCapacity+49) {
		t.Fatalf("expected newest close retained, got %v", closes[len(closes)-1])
	}
}

func TestEvaluate_InsufficientHistoryProducesNoSignal(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 10; i++ {
		h.Push(100)
	}
	p := DefaultParams()
	sig := Evaluate("ma_crossover", "mock", "BTC/USD", h, p, 100000)
	if sig.Decision != DecisionNone {
		t.Fatalf("expected no decision with insufficient history, got %q", sig.Decision)
	}
}

func TestEvaluate_FlatTailAfterStepProducesNoSignalOnZeroATR(t *testing.T) {
	h := NewHistory()
	// An old step (100 -> 150) keeps the slow MA below the fast MA, but the
	// most recent atr_period closes are perfectly flat, so atr == 0.
	for i := 0; i < 152; i++ {
		h.Push(100)
	}
	for i := 0; i < 50; i++ {
		h.Push(150)
	}
	p := DefaultParams()
	sig := Evaluate("ma_crossover", "mock", "BTC/USD", h, p, 100000)
	if sig.Decision != DecisionNone {
		t.Fatalf("expected no signal with a zero ATR, got %q (stop_distance=%v)", sig.Decision, sig.StopDistance)
	}
}

func TestEvaluate_UptrendProducesBuy(t *testing.T) {
	h := NewHistory()
	// 200 flat closes at 100, then a ramp up so fast MA pulls clear above slow MA.
	for i := 0; i < 200; i++ {
		h.Push(100)
	}
	for i := 0; i < 60; i++ {
		h.Push(100 + float64(i)*2)
	}
	p := DefaultParams()
	p.MaxRiskPerTrade = 0.02
	sig := Evaluate("ma_crossover", "mock", "BTC/USD", h, p, 100000)
	if sig.Decision != DecisionBuy {
		t.Fatalf("expected buy decision, got %q", sig.Decision)
	}
	if sig.StopDistance <= 0 {
		t.Fatalf("expected positive stop distance, got %v", sig.StopDistance)
	}
	if sig.PositionSize <= 0 {
		t.Fatalf("expected positive position size, got %v", sig.PositionSize)
	}
}
