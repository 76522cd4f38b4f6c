package storage

import (
	"context"
	"testing"
	"time"
	"trader-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	t.Cleanup(func() {
		store.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	return store
}

func ptr[T any](v T) *T { return &v }

func sampleTrade(id string, opened time.Time) *models.Trade {
	return &models.Trade{
		ID:          id,
		Symbol:      "BTCUSDT",
		Type:        models.Buy,
		Quantity:    0.0033,
		EntryPrice:  30000,
		StopLoss:    29700,
		TakeProfit:  30750,
		RiskAmount:  100,
		Timestamp:   opened,
		Status:      models.TradeOpen,
		Outcome:     models.Outcome{IsWin: true, Multiplier: 2.1, WinProbability: 0.105},
		SignalScore: 5,
		Strength:    models.Medium,
		Simulated:   true,
	}
}

func TestTradeLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	opened := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	trade := sampleTrade("SIM-1", opened)
	require.NoError(t, store.InsertTrade(ctx, trade))
	assert.ErrorIs(t, store.InsertTrade(ctx, trade), ErrDuplicateKey)

	trade.Status = models.TradeClosed
	trade.ExitPrice = 30630
	trade.PnL = 210
	trade.CloseReason = models.CloseReasonTakeProfit
	trade.CloseTime = ptr(opened.Add(90 * time.Second))
	require.NoError(t, store.UpdateTrade(ctx, trade))

	got, err := store.GetTrade(ctx, "SIM-1")
	require.NoError(t, err)
	assert.Equal(t, models.TradeClosed, got.Status)
	assert.InDelta(t, 210, got.PnL, 1e-9)
	assert.Equal(t, models.Medium, got.Strength)
	require.NotNil(t, got.CloseTime)
	assert.True(t, trade.CloseTime.Equal(*got.CloseTime))

	_, err = store.GetTrade(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.UpdateTrade(ctx, sampleTrade("missing", opened)), ErrNotFound)
}

func TestTradeQueries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	open := sampleTrade("SIM-open", base.Add(2*time.Hour))
	closed := sampleTrade("SIM-closed", base.Add(time.Hour))
	closed.Status = models.TradeClosed
	old := sampleTrade("SIM-old", base.Add(-48*time.Hour))
	old.Status = models.TradeClosed
	for _, tr := range []*models.Trade{open, closed, old} {
		require.NoError(t, store.InsertTrade(ctx, tr))
	}

	between, err := store.TradesBetween(ctx, base, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.Equal(t, "SIM-closed", between[0].ID)
	assert.Equal(t, "SIM-open", between[1].ID)

	since, err := store.ClosedTradesSince(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "SIM-closed", since[0].ID)
}

func TestSnapshots(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	stats := models.PerformanceStats{TotalTrades: 2, WinningTrades: 1, LosingTrades: 1, WinRate: 50, NetProfit: 110}
	balance := models.Balance{Quote: 10110}
	require.NoError(t, store.InsertPerformanceSnapshot(ctx, stats, balance, now))
	require.NoError(t, store.InsertBalanceSnapshot(ctx, balance, 30000, now))
	require.NoError(t, store.InsertBotLog(ctx, "info", "cycle done", map[string]interface{}{"price": 30000.0}, now))
	require.NoError(t, store.InsertBotLog(ctx, "warn", "no data", nil, now))

	require.NoError(t, store.InsertWinRateSnapshots(ctx, []models.WinRateSnapshot{
		{Period: "1h", TotalTrades: 1, WinningTrades: 1, WinRate: 100, CalculatedAt: now},
		{Period: "24h", TotalTrades: 2, WinningTrades: 1, WinRate: 50, CalculatedAt: now},
	}))
	require.NoError(t, store.InsertWinRateSnapshots(ctx, []models.WinRateSnapshot{
		{Period: "1h", TotalTrades: 0, WinningTrades: 0, WinRate: 0, CalculatedAt: now.Add(5 * time.Minute)},
	}))

	latest, err := store.LatestWinRates(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	byPeriod := map[string]models.WinRateSnapshot{}
	for _, s := range latest {
		byPeriod[s.Period] = s
	}
	assert.Equal(t, 0, byPeriod["1h"].TotalTrades)
	assert.InDelta(t, 50, byPeriod["24h"].WinRate, 1e-9)
}
