// Package winrate periodically snapshots rolling win rates from the trade history.
package winrate

import (
	"context"
	"fmt"
	"sync"
	"time"
	"trader-bot/internal/models"
	"trader-bot/internal/reporter"

	"go.uber.org/zap"
)

// DefaultInterval is how often snapshots are taken.
const DefaultInterval = 5 * time.Minute

// History returns the closed trades opened after since.
type History interface {
	ClosedTradesSince(ctx context.Context, since time.Time) ([]models.Trade, error)
}

// HistoryFunc adapts a function to History.
type HistoryFunc func(ctx context.Context, since time.Time) ([]models.Trade, error)

func (f HistoryFunc) ClosedTradesSince(ctx context.Context, since time.Time) ([]models.Trade, error) {
	return f(ctx, since)
}

// Sink stores computed snapshots. It may be nil.
type Sink interface {
	InsertWinRateSnapshots(ctx context.Context, snapshots []models.WinRateSnapshot) error
}

// Service computes win rates on a timer and on demand.
type Service struct {
	history  History
	sink     Sink
	onUpdate func([]models.WinRateSnapshot)
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.RWMutex
	latest  []models.WinRateSnapshot
	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewService creates the service. onUpdate, if set, receives every new set of snapshots.
func NewService(history History, sink Sink, onUpdate func([]models.WinRateSnapshot), timeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		history:  history,
		sink:     sink,
		onUpdate: onUpdate,
		interval: DefaultInterval,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Start runs an immediate calculation and then one per interval.
func (s *Service) Start() {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go s.loop(stop, done)
	s.logger.Info("win-rate scheduler started", zap.Duration("interval", s.interval))
}

// Stop ends the loop after one final calculation.
func (s *Service) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	s.logger.Info("win-rate scheduler stopped")
}

// Trigger requests a calculation without waiting for it.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Latest returns the most recent snapshots.
func (s *Service) Latest() []models.WinRateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.WinRateSnapshot(nil), s.latest...)
}

func (s *Service) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.run()
	for {
		select {
		case <-ticker.C:
			s.run()
		case <-s.trigger:
			s.run()
		case <-stop:
			s.run()
			return
		}
	}
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.Calculate(ctx); err != nil {
		s.logger.Error("win-rate calculation failed", zap.Error(err))
	}
}

// Calculate computes every window now, stores and publishes the result.
func (s *Service) Calculate(ctx context.Context) ([]models.WinRateSnapshot, error) {
	now := s.now()
	trades, err := s.history.ClosedTradesSince(ctx, now.Add(-reporter.LongestWindow()))
	if err != nil {
		return nil, fmt.Errorf("load trade history: %w", err)
	}

	snapshots := reporter.RollingWinRates(trades, now)

	s.mu.Lock()
	s.latest = snapshots
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.InsertWinRateSnapshots(ctx, snapshots); err != nil {
			s.logger.Warn("failed to store win-rate snapshots", zap.Error(err))
		}
	}
	if s.onUpdate != nil {
		s.onUpdate(snapshots)
	}

	s.logger.Debug("win rates calculated", zap.Int("trades", len(trades)))
	return snapshots, nil
}
