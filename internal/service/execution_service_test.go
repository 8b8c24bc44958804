package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradepipe/internal/bus"
	"github.com/aristath/tradepipe/internal/config"
	"github.com/aristath/tradepipe/internal/database"
	"github.com/aristath/tradepipe/internal/domain"
	"github.com/aristath/tradepipe/internal/exchange"
	"github.com/aristath/tradepipe/internal/store"
)

func newExecutionTestStores(t *testing.T) (*store.OrderRepository, *store.PositionRepository) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(config.DatabaseConfig{Engine: "sqlite", URL: "sqlite://" + dir + "/exec.db"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return store.NewOrderRepository(db.Conn(), zerolog.Nop()), store.NewPositionRepository(db.Conn(), zerolog.Nop())
}

func approvedSignalEvent() bus.Event {
	return bus.Event{
		Type: "approved_signal",
		Payload: map[string]interface{}{
			"strategy": "ma_crossover", "exchange": "mock", "symbol": "BTC/USD", "decision": "buy",
			"price": 105.0, "timestamp_ns": float64(1700000000000000000), "risk_approved": true,
			"risk": map[string]interface{}{"stop_distance": 4.0, "position_size": 500.0},
		},
	}
}

func TestExecutionService_DryRunNeverCallsVenue(t *testing.T) {
	orders, positions := newExecutionTestStores(t)
	adapter := exchange.NewMockAdapter()
	svc := NewExecutionService(bus.NewMemoryBus(), zerolog.Nop(), "approved_signals", "reconciliations",
		orders, positions, map[string]exchange.Adapter{"mock": adapter}, true)

	require.NoError(t, svc.handleApprovedSignal(context.Background(), approvedSignalEvent()))

	require.Empty(t, adapter.Orders, "dry run must not call the venue")
	pos, err := positions.GetOpen("BTC/USD", "mock", "ma_crossover")
	require.NoError(t, err)
	require.Nil(t, pos, "dry run must not open a position")
}

func TestExecutionService_LiveRunInstallsStopAfterEntry(t *testing.T) {
	orders, positions := newExecutionTestStores(t)
	adapter := exchange.NewMockAdapter()
	svc := NewExecutionService(bus.NewMemoryBus(), zerolog.Nop(), "approved_signals", "reconciliations",
		orders, positions, map[string]exchange.Adapter{"mock": adapter}, false)

	require.NoError(t, svc.handleApprovedSignal(context.Background(), approvedSignalEvent()))

	require.Len(t, adapter.Orders, 2, "expected an entry order and a stop order")
	require.Equal(t, "market", adapter.Orders[0].Type)
	require.Equal(t, "stop_market", adapter.Orders[1].Type)
	require.True(t, adapter.Orders[1].ReduceOnly)

	pos, err := positions.GetOpen("BTC/USD", "mock", "ma_crossover")
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.True(t, pos.ReduceOnlyStopInstalled)
	require.Equal(t, 101.0, pos.StopPrice) // 105 entry - 4 stop distance
}

func TestExecutionService_SubmissionIsIdempotentOnRetry(t *testing.T) {
	orders, positions := newExecutionTestStores(t)
	adapter := exchange.NewMockAdapter()
	svc := NewExecutionService(bus.NewMemoryBus(), zerolog.Nop(), "approved_signals", "reconciliations",
		orders, positions, map[string]exchange.Adapter{"mock": adapter}, false)

	event := approvedSignalEvent()
	require.NoError(t, svc.handleApprovedSignal(context.Background(), event))
	require.NoError(t, svc.handleApprovedSignal(context.Background(), event))

	order, err := orders.GetByClientOrderID(adapter.Orders[0].ClientOrderID)
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, domain.OrderStatusPending, order.Status, "venue acceptance is not a fill; the row stays pending")
}
