package exchange

import (
	"context"
	"testing"
)

func TestMockAdapter_CreateOrderIsIdempotentAtTheCaller(t *testing.T) {
	adapter := NewMockAdapter()
	req := OrderRequest{Symbol: "BTC/USD", Type: "market", Side: "buy", Amount: 1, ClientOrderID: "abc123"}

	resp1, err := adapter.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp2, err := adapter.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp1.ExternalOrderID != resp2.ExternalOrderID {
		t.Fatalf("expected same external id for same client order id, got %q and %q", resp1.ExternalOrderID, resp2.ExternalOrderID)
	}
	if len(adapter.Orders) != 2 {
		t.Fatalf("expected mock to record both submissions (idempotency is the venue's job), got %d", len(adapter.Orders))
	}
}

func TestMockAdapter_FetchPositionsFiltersBySymbol(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.Positions = []VenuePosition{{Symbol: "BTC/USD", Quantity: 1}, {Symbol: "ETH/USD", Quantity: 2}}

	got, err := adapter.FetchPositions(context.Background(), []string{"ETH/USD"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "ETH/USD" {
		t.Fatalf("expected only ETH/USD, got %+v", got)
	}
}
