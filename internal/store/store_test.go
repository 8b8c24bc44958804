package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradepipe/internal/config"
	"github.com/aristath/tradepipe/internal/database"
	"github.com/aristath/tradepipe/internal/domain"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(config.DatabaseConfig{
		Engine: "sqlite",
		URL:    "sqlite://" + dir + "/test.db",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOrderRepository_UpsertIsIdempotentOnClientOrderID(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db.Conn(), zerolog.Nop())

	order := domain.Order{
		ClientOrderID: "abc123",
		Strategy:      "ma_crossover",
		Symbol:        "BTC/USD",
		Exchange:      "mock",
		Side:          domain.OrderSideBuy,
		Type:          domain.OrderTypeMarket,
		Status:        domain.OrderStatusNew,
		Quantity:      1.5,
	}

	id1, err := repo.Upsert(order)
	require.NoError(t, err)

	order.Status = domain.OrderStatusFilled
	order.FilledQuantity = 1.5
	id2, err := repo.Upsert(order)
	require.NoError(t, err)

	require.Equal(t, id1, id2, "retrying a submission must not create a second row")

	got, err := repo.GetByClientOrderID("abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, domain.OrderStatusFilled, got.Status)
	require.Equal(t, 1.5, got.FilledQuantity)
}

func TestPositionRepository_OnlyOneOpenPositionPerKey(t *testing.T) {
	db := newTestDB(t)
	repo := NewPositionRepository(db.Conn(), zerolog.Nop())

	pos := domain.Position{
		Symbol:     "BTC/USD",
		Exchange:   "mock",
		Strategy:   "ma_crossover",
		Quantity:   1,
		EntryPrice: 100,
		StopPrice:  95,
	}
	_, err := repo.Upsert(pos)
	require.NoError(t, err)

	_, err = repo.Upsert(pos)
	require.Error(t, err, "a second open position for the same key must be rejected")

	got, err := repo.GetOpen("BTC/USD", "mock", "ma_crossover")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.False(t, got.ReduceOnlyStopInstalled)

	require.NoError(t, repo.MarkStopInstalled(got.ID, 94))

	got2, err := repo.GetOpen("BTC/USD", "mock", "ma_crossover")
	require.NoError(t, err)
	require.True(t, got2.ReduceOnlyStopInstalled)
	require.Equal(t, 94.0, got2.StopPrice)

	require.NoError(t, repo.Close(got2.ID, time.Now().UTC()))

	got3, err := repo.GetOpen("BTC/USD", "mock", "ma_crossover")
	require.NoError(t, err)
	require.Nil(t, got3)
}

func TestAccountStateRepository_Latest(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountStateRepository(db.Conn(), zerolog.Nop())

	older := domain.AccountState{AccountID: "acct-1", Equity: 100000, Timestamp: time.Now().Add(-time.Hour).UTC()}
	newer := domain.AccountState{AccountID: "acct-1", Equity: 98000, Timestamp: time.Now().UTC()}
	require.NoError(t, repo.Insert(older))
	require.NoError(t, repo.Insert(newer))

	got, err := repo.Latest("acct-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 98000.0, got.Equity)
}
