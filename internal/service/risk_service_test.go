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
	"github.com/aristath/tradepipe/internal/store"
)

func newTestStores(t *testing.T) (*store.PositionRepository, *store.AccountStateRepository) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(config.DatabaseConfig{Engine: "sqlite", URL: "sqlite://" + dir + "/risk.db"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return store.NewPositionRepository(db.Conn(), zerolog.Nop()), store.NewAccountStateRepository(db.Conn(), zerolog.Nop())
}

func TestRiskService_ApprovesWithinBudget(t *testing.T) {
	positions, accounts := newTestStores(t)
	memBus := bus.NewMemoryBus()

	cfg := config.RiskConfig{MaxPortfolioHeat: 0.06, MaxLeverage: 1.5, PlaceholderEquity: 100000}
	svc := NewRiskService(memBus, zerolog.Nop(), "signals", "approved_signals", positions, accounts, cfg, "primary")

	ctx := context.Background()
	_, err := memBus.Publish(ctx, "signals", bus.Event{
		Type: "signal",
		Payload: map[string]interface{}{
			"strategy": "ma_crossover", "exchange": "mock", "symbol": "BTC/USD", "decision": "buy",
			"risk": map[string]interface{}{"stop_distance": 4.0, "position_size": 500.0},
		},
	})
	require.NoError(t, err)

	msg, err := memBus.Consume(ctx, "signals", "", 100)
	require.NoError(t, err)
	require.NoError(t, svc.handleSignal(ctx, msg.Event))

	approved, err := memBus.Consume(ctx, "approved_signals", "", 100)
	require.NoError(t, err)
	require.Equal(t, true, approved.Event.Payload["risk_approved"])
}

func TestRiskService_RejectsAboveHeatCap(t *testing.T) {
	positions, accounts := newTestStores(t)
	memBus := bus.NewMemoryBus()

	_, err := positions.Upsert(domain.Position{Symbol: "ETH/USD", Exchange: "mock", Strategy: "ma_crossover", Quantity: 1000, EntryPrice: 50, StopPrice: 44})
	require.NoError(t, err)

	cfg := config.RiskConfig{MaxPortfolioHeat: 0.06, MaxLeverage: 1.5, PlaceholderEquity: 100000}
	svc := NewRiskService(memBus, zerolog.Nop(), "signals", "approved_signals", positions, accounts, cfg, "primary")

	ctx := context.Background()
	event := bus.Event{
		Type: "signal",
		Payload: map[string]interface{}{
			"strategy": "ma_crossover", "exchange": "mock", "symbol": "BTC/USD", "decision": "buy",
			"risk": map[string]interface{}{"stop_distance": 4.0, "position_size": 500.0},
		},
	}
	require.NoError(t, svc.handleSignal(ctx, event))

	_, err = memBus.Consume(ctx, "approved_signals", "", 50)
	require.ErrorIs(t, err, bus.ErrTimeout, "expected the signal to be rejected, not approved")
}
