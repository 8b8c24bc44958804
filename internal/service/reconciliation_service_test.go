package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradepipe/internal/bus"
	"github.com/aristath/tradepipe/internal/domain"
	"github.com/aristath/tradepipe/internal/exchange"
)

func TestReconciliationService_PublishesReinstallStopWhenUncovered(t *testing.T) {
	_, positions := newExecutionTestStores(t)
	_, err := positions.Upsert(domain.Position{
		Symbol: "BTC/USD", Exchange: "mock", Strategy: "ma_crossover",
		Quantity: 500, EntryPrice: 105, StopPrice: 101,
	})
	require.NoError(t, err)

	adapter := exchange.NewMockAdapter()
	adapter.Positions = []exchange.VenuePosition{{Symbol: "BTC/USD", Quantity: 500}}
	// No open orders seeded: the protective stop is missing on the venue.

	memBus := bus.NewMemoryBus()
	svc := NewReconciliationService(memBus, zerolog.Nop(), "reconciliations", positions,
		map[string]exchange.Adapter{"mock": adapter}, 30, true)

	ctx := context.Background()
	svc.auditOnce(ctx)

	msg, err := memBus.Consume(ctx, "reconciliations", "", 100)
	require.NoError(t, err)
	require.Equal(t, "reinstall_stop", msg.Event.Type)
	require.Equal(t, "BTC/USD", msg.Event.Payload["symbol"])
}

func TestReconciliationService_NoRepairWhenStopPresent(t *testing.T) {
	_, positions := newExecutionTestStores(t)
	_, err := positions.Upsert(domain.Position{
		Symbol: "BTC/USD", Exchange: "mock", Strategy: "ma_crossover",
		Quantity: 500, EntryPrice: 105, StopPrice: 101,
	})
	require.NoError(t, err)

	adapter := exchange.NewMockAdapter()
	adapter.Positions = []exchange.VenuePosition{{Symbol: "BTC/USD", Quantity: 500}}
	adapter.OpenOrders["BTC/USD"] = []exchange.VenueOrder{{Type: "stop_market", ReduceOnly: true, StopPrice: 101}}

	memBus := bus.NewMemoryBus()
	svc := NewReconciliationService(memBus, zerolog.Nop(), "reconciliations", positions,
		map[string]exchange.Adapter{"mock": adapter}, 30, true)

	svc.auditOnce(context.Background())

	_, err = memBus.Consume(context.Background(), "reconciliations", "", 50)
	require.ErrorIs(t, err, bus.ErrTimeout)
}
