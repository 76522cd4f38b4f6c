package statemanager

import (
	"fmt"
	"sync"
	"time"
	"trader-bot/internal/ledger"
	"trader-bot/internal/models"
	"trader-bot/internal/persistence"
	"trader-bot/internal/reporter"
	"trader-bot/internal/simulator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionVersion is the version of the persisted session layout.
const SessionVersion = 1

// persistRequest is either a session snapshot to save or a request to clear.
type persistRequest struct {
	session *models.Session
	clear   bool
}

// StateManager is responsible for all mutations of the balance, the trade
// ledger and the simulator counters. Every mutation happens under one lock
// and is followed by an asynchronous save of a deep-copied snapshot.
type StateManager struct {
	mu        sync.Mutex
	sessionID string
	ledger    *ledger.Ledger
	simState  *models.SimulatorState
	sim       *simulator.Simulator

	repo            persistence.StateRepository
	persistenceChan chan persistRequest
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *zap.Logger
}

// NewStateManager creates a StateManager, restoring the saved session if any.
func NewStateManager(initial models.Balance, session *models.Session, sim *simulator.Simulator, repo persistence.StateRepository, logger *zap.Logger) *StateManager {
	sm := &StateManager{
		sessionID:       uuid.NewString(),
		ledger:          ledger.Restore(initial, session),
		simState:        &models.SimulatorState{},
		sim:             sim,
		repo:            repo,
		persistenceChan: make(chan persistRequest, 128),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
	if session != nil {
		if session.SessionID != "" {
			sm.sessionID = session.SessionID
		}
		sm.simState = session.Simulator.Clone()
	}
	return sm
}

// Start begins the persistence loop.
func (sm *StateManager) Start() {
	sm.wg.Add(1)
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop flushes pending snapshots and shuts down the persistence loop.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.wg.Wait()
		sm.logger.Sugar().Info("StateManager stopped.")
	})
}

// SetSimulator swaps the simulator, e.g. after a profile change.
func (sm *StateManager) SetSimulator(sim *simulator.Simulator) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sim = sim
}

// OpenFromSignal simulates a trade for the signal and records it in the ledger.
// It returns ErrOpenTradeCap without touching the simulator counters when the
// ledger is full.
func (sm *StateManager) OpenFromSignal(signal *models.Signal, price float64, risk simulator.RiskSettings) (*models.Trade, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.ledger.CanOpen() {
		return nil, models.ErrOpenTradeCap
	}

	// The simulator records into a scratch copy so a rejected trade leaves no trace.
	state := sm.simState.Clone()
	trade, err := sm.sim.Open(signal, price, risk, state)
	if err != nil {
		return nil, err
	}
	if err := sm.ledger.RecordOpen(trade); err != nil {
		return nil, err
	}
	sm.simState = state
	sm.persistLocked()
	return trade, nil
}

// CloseTrade closes an open trade, at its predetermined outcome if simulated
// or at price otherwise.
func (sm *StateManager) CloseTrade(id string, price float64) (*models.Trade, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	open, ok := sm.ledger.Trade(id)
	if !ok {
		return nil, fmt.Errorf("close %s: %w", id, models.ErrTradeNotFound)
	}
	closed, err := sm.sim.Close(&open, price)
	if err != nil {
		return nil, err
	}
	if err := sm.ledger.RecordClose(id, closed); err != nil {
		return nil, err
	}
	sm.simState.Settle(closed.PnL)
	sm.persistLocked()
	return closed, nil
}

// CheckCrossings closes every non-simulated open trade whose target or stop
// was crossed by price.
func (sm *StateManager) CheckCrossings(price float64) []models.Trade {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var closedTrades []models.Trade
	for _, open := range sm.ledger.OpenTrades() {
		open := open
		closed, hit := sm.sim.CheckCrossing(&open, price)
		if !hit {
			continue
		}
		if err := sm.ledger.RecordClose(open.ID, closed); err != nil {
			sm.logger.Warn("failed to record crossing close", zap.String("id", open.ID), zap.Error(err))
			continue
		}
		sm.simState.Settle(closed.PnL)
		closedTrades = append(closedTrades, *closed)
	}
	if len(closedTrades) > 0 {
		sm.persistLocked()
	}
	return closedTrades
}

// RecordSignal adds a signal to the recent history.
func (sm *StateManager) RecordSignal(signal models.Signal) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.ledger.RecordSignal(signal)
	sm.persistLocked()
}

// Reset restores the initial balance, clears trades, signals and simulator
// counters, and deletes the saved session.
func (sm *StateManager) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.ledger.Reset()
	sm.simState = &models.SimulatorState{}
	sm.sessionID = uuid.NewString()
	sm.enqueue(persistRequest{clear: true})
	sm.logger.Sugar().Info("State has been reset.")
}

// OpenCount returns the number of open trades.
func (sm *StateManager) OpenCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.ledger.OpenCount()
}

// Trade returns a copy of one trade.
func (sm *StateManager) Trade(id string) (models.Trade, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.ledger.Trade(id)
}

// OpenTrades returns copies of the open trades.
func (sm *StateManager) OpenTrades() []models.Trade {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.ledger.OpenTrades()
}

// Balance returns the current virtual balance.
func (sm *StateManager) Balance() models.Balance {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.ledger.Balance()
}

// Stats recomputes the performance statistics from the closed trades.
func (sm *StateManager) Stats() models.PerformanceStats {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return reporter.ComputeStats(sm.ledger.Trades(), sm.simState)
}

// GetStateSnapshot returns a deep copy of the current session for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.deepCopy()
}

// deepCopy must be called with mu held. The ledger accessors already copy.
func (sm *StateManager) deepCopy() *models.Session {
	return &models.Session{
		SessionID:      sm.sessionID,
		Version:        SessionVersion,
		Balance:        sm.ledger.Balance(),
		Trades:         sm.ledger.Trades(),
		Signals:        sm.ledger.Signals(),
		Simulator:      *sm.simState.Clone(),
		LastUpdateTime: time.Now(),
	}
}

func (sm *StateManager) persistLocked() {
	sm.enqueue(persistRequest{session: sm.deepCopy()})
}

// enqueue never blocks the caller. Snapshots are dropped when the queue is full.
func (sm *StateManager) enqueue(req persistRequest) {
	select {
	case sm.persistenceChan <- req:
	default:
		sm.logger.Warn("persistence queue full, dropping snapshot")
	}
}

// persistenceLoop handles the asynchronous saving of session snapshots.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case req := <-sm.persistenceChan:
			sm.apply(req)
		case <-sm.stopChan:
			for {
				select {
				case req := <-sm.persistenceChan:
					sm.apply(req)
				default:
					return
				}
			}
		}
	}
}

func (sm *StateManager) apply(req persistRequest) {
	if sm.repo == nil {
		return
	}
	var err error
	if req.clear {
		err = sm.repo.ClearSession()
	} else {
		err = sm.repo.SaveSession(req.session)
	}
	if err != nil {
		sm.logger.Sugar().Errorf("Failed to persist session: %v", err)
	}
}
