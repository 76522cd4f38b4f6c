package statemanager

import (
	"math/rand"
	"sync"
	"testing"
	"time"
	"trader-bot/internal/models"
	"trader-bot/internal/simulator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStateRepository is a mock implementation of the StateRepository interface for testing.
type mockStateRepository struct {
	sync.Mutex
	savedSession *models.Session
	saveCalled   bool
	cleared      bool
	saveError    error
	saveDoneChan chan bool // Channel to signal when SaveSession or ClearSession is done
}

func newMockStateRepository() *mockStateRepository {
	return &mockStateRepository{
		saveDoneChan: make(chan bool, 256),
	}
}

func (m *mockStateRepository) SaveSession(session *models.Session) error {
	m.Lock()
	defer m.Unlock()
	m.saveCalled = true
	m.savedSession = session
	m.saveDoneChan <- true
	return m.saveError
}

func (m *mockStateRepository) LoadSession() (*models.Session, error) { return nil, nil }

func (m *mockStateRepository) SaveSettings(*models.Settings) error { return nil }

func (m *mockStateRepository) LoadSettings() (*models.Settings, error) { return nil, nil }

func (m *mockStateRepository) ClearSession() error {
	m.Lock()
	defer m.Unlock()
	m.cleared = true
	m.savedSession = nil
	m.saveDoneChan <- true
	return nil
}

func (m *mockStateRepository) Close() error { return nil }

func (m *mockStateRepository) getSavedSession() *models.Session {
	m.Lock()
	defer m.Unlock()
	return m.savedSession
}

func (m *mockStateRepository) wasCleared() bool {
	m.Lock()
	defer m.Unlock()
	return m.cleared
}

func (m *mockStateRepository) waitSave(t *testing.T) {
	t.Helper()
	select {
	case <-m.saveDoneChan:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state to be saved")
	}
}

var testRisk = simulator.RiskSettings{FixedBalance: 10000, RiskPerTrade: 1, RiskRewardRate: 2.5}

func newTestManager(t *testing.T, session *models.Session) (*StateManager, *mockStateRepository) {
	t.Helper()
	profile, err := simulator.ProfileByName("classic")
	require.NoError(t, err)
	sim := simulator.New(profile, rand.New(rand.NewSource(7)), zap.NewNop())
	repo := newMockStateRepository()
	sm := NewStateManager(models.Balance{Quote: 10000}, session, sim, repo, zap.NewNop())
	sm.Start()
	t.Cleanup(sm.Stop)
	return sm, repo
}

func buySignal() *models.Signal {
	return &models.Signal{Type: models.Buy, Price: 30000, Symbol: "BTCUSDT", Score: 4, Strength: models.Weak}
}

func TestNewStateManagerRestoresSession(t *testing.T) {
	session := &models.Session{
		SessionID: "restored",
		Balance:   models.Balance{Quote: 9900, Base: 0.01},
		Trades:    []models.Trade{{ID: "SIM-1", Status: models.TradeOpen, Type: models.Buy, RiskAmount: 100, Quantity: 0.01, Simulated: true}},
		Simulator: models.SimulatorState{TradeCount: 1, LossCount: 1, ConsecutiveLosses: 1},
	}
	sm, _ := newTestManager(t, session)

	snapshot := sm.GetStateSnapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, "restored", snapshot.SessionID)
	assert.Equal(t, 1, sm.OpenCount())
	assert.Equal(t, 9900.0, sm.Balance().Quote)
	assert.Equal(t, 1, snapshot.Simulator.ConsecutiveLosses)
}

func TestOpenAndClosePersistsAsync(t *testing.T) {
	sm, repo := newTestManager(t, nil)

	trade, err := sm.OpenFromSignal(buySignal(), 30000, testRisk)
	require.NoError(t, err)
	repo.waitSave(t)

	saved := repo.getSavedSession()
	require.NotNil(t, saved)
	require.Len(t, saved.Trades, 1)
	assert.Equal(t, trade.ID, saved.Trades[0].ID)
	assert.Equal(t, 1, saved.Simulator.TradeCount)
	assert.InDelta(t, 9900, saved.Balance.Quote, 1e-9)

	closed, err := sm.CloseTrade(trade.ID, 30000)
	require.NoError(t, err)
	repo.waitSave(t)

	assert.Equal(t, models.TradeClosed, closed.Status)
	assert.InDelta(t, 10000+closed.PnL, sm.Balance().Quote, 1e-6)
	assert.InDelta(t, 0, sm.Balance().Base, 1e-12)

	_, err = sm.CloseTrade(trade.ID, 30000)
	assert.ErrorIs(t, err, models.ErrTradeNotOpen)
	_, err = sm.CloseTrade("missing", 30000)
	assert.ErrorIs(t, err, models.ErrTradeNotFound)
}

func TestOpenCapLeavesCountersUntouched(t *testing.T) {
	sm, _ := newTestManager(t, nil)

	for i := 0; i < 3; i++ {
		_, err := sm.OpenFromSignal(buySignal(), 30000, testRisk)
		require.NoError(t, err)
	}
	_, err := sm.OpenFromSignal(buySignal(), 30000, testRisk)
	assert.ErrorIs(t, err, models.ErrOpenTradeCap)

	snapshot := sm.GetStateSnapshot()
	assert.Equal(t, 3, snapshot.Simulator.TradeCount)
	assert.Len(t, snapshot.Trades, 3)
}

func TestCheckCrossingsIgnoresSimulatedTrades(t *testing.T) {
	live := models.Trade{
		ID: "LIVE-1", Type: models.Buy, Status: models.TradeOpen, EntryPrice: 100,
		StopLoss: 95, TakeProfit: 110, Quantity: 1, RiskAmount: 5,
	}
	sim := models.Trade{
		ID: "SIM-1", Type: models.Buy, Status: models.TradeOpen, EntryPrice: 100,
		StopLoss: 95, TakeProfit: 110, Quantity: 1, RiskAmount: 5, Simulated: true,
	}
	sm, _ := newTestManager(t, &models.Session{Balance: models.Balance{Quote: 9990, Base: 2}, Trades: []models.Trade{live, sim}})

	assert.Empty(t, sm.CheckCrossings(105))

	closed := sm.CheckCrossings(111)
	require.Len(t, closed, 1)
	assert.Equal(t, "LIVE-1", closed[0].ID)
	assert.Equal(t, models.CloseReasonTakeProfit, closed[0].CloseReason)
	assert.InDelta(t, 11, closed[0].PnL, 1e-9)
	assert.Equal(t, 1, sm.OpenCount())
}

func TestResetClearsEverything(t *testing.T) {
	sm, repo := newTestManager(t, nil)

	_, err := sm.OpenFromSignal(buySignal(), 30000, testRisk)
	require.NoError(t, err)
	sm.RecordSignal(*buySignal())
	before := sm.GetStateSnapshot().SessionID

	sm.Reset()
	sm.Stop()

	snapshot := sm.GetStateSnapshot()
	assert.Empty(t, snapshot.Trades)
	assert.Empty(t, snapshot.Signals)
	assert.Equal(t, 0, snapshot.Simulator.TradeCount)
	assert.Equal(t, models.Balance{Quote: 10000}, snapshot.Balance)
	assert.NotEqual(t, before, snapshot.SessionID)

	assert.True(t, repo.wasCleared())
	assert.Nil(t, repo.getSavedSession())
}

func TestStatsFromLedger(t *testing.T) {
	sm, _ := newTestManager(t, nil)

	trade, err := sm.OpenFromSignal(buySignal(), 30000, testRisk)
	require.NoError(t, err)
	_, err = sm.CloseTrade(trade.ID, 30000)
	require.NoError(t, err)

	stats := sm.Stats()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, stats.WinningTrades+stats.LosingTrades, 1)
}

func newFixedOutcomeManager(t *testing.T, winRate float64) *StateManager {
	t.Helper()
	profile, err := simulator.ProfileByName("classic")
	require.NoError(t, err)
	profile.BaseWinRate = winRate
	sim := simulator.New(profile, rand.New(rand.NewSource(3)), zap.NewNop())
	sm := NewStateManager(models.Balance{Quote: 10000}, nil, sim, nil, zap.NewNop())
	sm.Start()
	t.Cleanup(sm.Stop)
	return sm
}

func TestStatsIgnoreOutcomesOfOpenTrades(t *testing.T) {
	tests := []struct {
		name        string
		winRate     float64
		closedRate  float64
		closedLoses int
	}{
		{name: "winner", winRate: 1, closedRate: 100, closedLoses: 0},
		{name: "loser", winRate: 0, closedRate: 0, closedLoses: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := newFixedOutcomeManager(t, tt.winRate)

			trade, err := sm.OpenFromSignal(buySignal(), 30000, testRisk)
			require.NoError(t, err)

			stats := sm.Stats()
			assert.Zero(t, stats.TotalTrades)
			assert.Zero(t, stats.WinRate)
			assert.Zero(t, stats.ConsecutiveLosses)
			assert.Zero(t, stats.Expectancy)

			// the anti-streak counter still sees the outcome at open
			assert.Equal(t, 1, sm.GetStateSnapshot().Simulator.TradeCount)
			assert.Equal(t, tt.closedLoses, sm.GetStateSnapshot().Simulator.ConsecutiveLosses)

			_, err = sm.CloseTrade(trade.ID, 30000)
			require.NoError(t, err)

			stats = sm.Stats()
			assert.Equal(t, 1, stats.TotalTrades)
			assert.InDelta(t, tt.closedRate, stats.WinRate, 1e-9)
			assert.Equal(t, tt.closedLoses, stats.ConsecutiveLosses)
		})
	}
}

func TestCrossingCloseIsSettled(t *testing.T) {
	live := models.Trade{
		ID: "LIVE-1", Type: models.Buy, Status: models.TradeOpen, EntryPrice: 100,
		StopLoss: 95, TakeProfit: 110, Quantity: 1, RiskAmount: 5,
	}
	sm, _ := newTestManager(t, &models.Session{Balance: models.Balance{Quote: 9995, Base: 1}, Trades: []models.Trade{live}})

	require.Len(t, sm.CheckCrossings(94), 1)

	snapshot := sm.GetStateSnapshot()
	assert.Equal(t, 1, snapshot.Simulator.SettledLosses)
	assert.Equal(t, 1, sm.Stats().ConsecutiveLosses)
}
