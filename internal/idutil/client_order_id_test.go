package idutil

import "testing"

func TestMakeClientOrderID_Deterministic(t *testing.T) {
	a := MakeClientOrderID("ma_crossover", "BTC/USD", "buy", 1700000000000000000, "evt-1")
	b := MakeClientOrderID("ma_crossover", "BTC/USD", "buy", 1700000000000000000, "evt-1")
	if a != b {
		t.Fatalf("expected deterministic output, got %q and %q", a, b)
	}
	if len(a) != digestHexLen {
		t.Fatalf("expected %d hex chars, got %d (%q)", digestHexLen, len(a), a)
	}
}

func TestMakeClientOrderID_DistinctInputs(t *testing.T) {
	base := MakeClientOrderID("ma_crossover", "BTC/USD", "buy", 1700000000000000000, "evt-1")
	cases := []string{
		MakeClientOrderID("ma_crossover", "ETH/USD", "buy", 1700000000000000000, "evt-1"),
		MakeClientOrderID("ma_crossover", "BTC/USD", "sell", 1700000000000000000, "evt-1"),
		MakeClientOrderID("ma_crossover", "BTC/USD", "buy", 1700000000000000001, "evt-1"),
		MakeClientOrderID("ma_crossover", "BTC/USD", "buy", 1700000000000000000, "evt-2"),
	}
	for i, c := range cases {
		if c == base {
			t.Fatalf("case %d: expected distinct id from base, both %q", i, c)
		}
	}
}
