// Package simulator opens paper trades with an outcome decided up front and
// later materializes their close.
package simulator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
	"trader-bot/internal/models"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	slippageRate  = 0.001
	exitVariance  = 0.1
	pnlPrecision  = 2
	tradeIDPrefix = "SIM"
)

// RiskSettings sizes a position.
type RiskSettings struct {
	FixedBalance   float64 // balance the risk percentage applies to
	RiskPerTrade   float64 // percent
	RiskRewardRate float64
}

// RiskAmount is the quote amount put at risk per trade.
func (r RiskSettings) RiskAmount() float64 {
	return r.FixedBalance * r.RiskPerTrade / 100
}

// Simulator is not safe for concurrent use; callers serialize access.
type Simulator struct {
	profile Profile
	rng     *rand.Rand
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a simulator. A nil rng is seeded from the clock.
func New(profile Profile, rng *rand.Rand, logger *zap.Logger) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulator{
		profile: profile,
		rng:     rng,
		now:     time.Now,
		logger:  logger,
	}
}

// Profile returns the active profile.
func (s *Simulator) Profile() Profile { return s.profile }

// WinProbability is the chance the next trade for this signal wins.
func (s *Simulator) WinProbability(signal *models.Signal, state *models.SimulatorState) float64 {
	p := s.profile
	if p.StreakCeiling > 0 && state.ConsecutiveLosses >= p.StreakCeiling {
		return p.StreakWinRate
	}

	prob := p.BaseWinRate
	switch signal.Strength {
	case models.Strong:
		prob += p.StrongBonus
	case models.Medium:
		prob += p.MediumBonus
	}
	if !signal.CounterTrend {
		prob += p.TrendBonus
	}
	if signal.Conditions.Volume {
		prob += p.VolumeBonus
	}
	return math.Min(math.Max(prob, 0), 1)
}

// Open creates an OPEN trade for the signal and records its outcome in state.
func (s *Simulator) Open(signal *models.Signal, price float64, risk RiskSettings, state *models.SimulatorState) (*models.Trade, error) {
	if signal == nil {
		return nil, errors.New("simulate open: nil signal")
	}
	if state == nil {
		return nil, errors.New("simulate open: nil simulator state")
	}
	if price <= 0 {
		return nil, fmt.Errorf("simulate open: invalid price %v", price)
	}
	riskAmount := risk.RiskAmount()
	if riskAmount <= 0 || risk.RiskRewardRate <= 0 {
		return nil, fmt.Errorf("simulate open: invalid risk settings %+v", risk)
	}

	p := s.profile
	volatility := s.uniform(p.Volatility)
	slippage := (s.rng.Float64() - 0.5) * price * slippageRate
	entry := s.roundPrice(price + slippage)
	stopDistance := entry * volatility

	var stopLoss, takeProfit float64
	if signal.Type == models.Buy {
		stopLoss = s.roundPrice(entry - stopDistance)
		takeProfit = s.roundPrice(entry + stopDistance*risk.RiskRewardRate)
	} else {
		stopLoss = s.roundPrice(entry + stopDistance)
		takeProfit = s.roundPrice(entry - stopDistance*risk.RiskRewardRate)
	}
	if stopLoss == entry {
		return nil, fmt.Errorf("simulate open: stop distance rounds to zero at price %v", price)
	}

	prob := s.WinProbability(signal, state)
	isWin := s.rng.Float64() < prob
	multiplier := s.uniform(p.LossMultiple)
	if isWin {
		multiplier = s.uniform(p.WinMultiple)
	}

	now := s.now()
	trade := &models.Trade{
		ID:         s.newID(now),
		Symbol:     signal.Symbol,
		Type:       signal.Type,
		Quantity:   riskAmount / math.Abs(entry-stopLoss),
		EntryPrice: entry,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		RiskAmount: riskAmount,
		Timestamp:  now,
		CloseAt:    now.Add(s.CloseDelay()),
		Status:     models.TradeOpen,
		Outcome: models.Outcome{
			IsWin:          isWin,
			Multiplier:     multiplier,
			WinProbability: prob,
		},
		SignalScore:  signal.Score,
		Strength:     signal.Strength,
		CounterTrend: signal.CounterTrend,
		Simulated:    true,
	}

	state.Record(models.OutcomeRecord{TradeID: trade.ID, IsWin: isWin, Time: now})

	s.logger.Debug("simulated trade opened",
		zap.String("id", trade.ID),
		zap.String("side", string(trade.Type)),
		zap.Float64("entry", entry),
		zap.Float64("win_probability", prob),
		zap.Bool("win", isWin),
	)
	return trade, nil
}

// Close materializes the close of an open trade. Simulated trades exit near
// their take-profit or stop-loss according to the predetermined outcome;
// other trades exit at currentPrice.
func (s *Simulator) Close(trade *models.Trade, currentPrice float64) (*models.Trade, error) {
	if trade == nil {
		return nil, errors.New("simulate close: nil trade")
	}
	if trade.Status != models.TradeOpen {
		return nil, fmt.Errorf("simulate close %s: %w", trade.ID, models.ErrTradeNotOpen)
	}

	closed := *trade
	now := s.now()
	closed.CloseTime = &now
	closed.Status = models.TradeClosed

	if !trade.Simulated {
		closed.ExitPrice = currentPrice
		closed.PnL = roundTo(directionalPnL(trade, currentPrice), pnlPrecision)
		closed.CloseReason = reasonFor(closed.PnL > 0)
		return &closed, nil
	}

	target := trade.StopLoss
	if trade.Outcome.IsWin {
		target = trade.TakeProfit
	}
	distance := math.Abs(target - trade.EntryPrice)
	closed.ExitPrice = s.roundPrice(target + (s.rng.Float64()-0.5)*distance*exitVariance)
	closed.PnL = roundTo(trade.RiskAmount*trade.Outcome.Multiplier, pnlPrecision)
	closed.CloseReason = reasonFor(trade.Outcome.IsWin)
	return &closed, nil
}

// CheckCrossing closes a non-simulated open trade whose take-profit or
// stop-loss was crossed by price. Simulated trades are never closed here.
func (s *Simulator) CheckCrossing(trade *models.Trade, price float64) (*models.Trade, bool) {
	if trade == nil || trade.Simulated || trade.Status != models.TradeOpen || price <= 0 {
		return nil, false
	}

	var hitTP, hitSL bool
	if trade.Type == models.Buy {
		hitTP, hitSL = price >= trade.TakeProfit, price <= trade.StopLoss
	} else {
		hitTP, hitSL = price <= trade.TakeProfit, price >= trade.StopLoss
	}
	if !hitTP && !hitSL {
		return nil, false
	}

	closed := *trade
	now := s.now()
	closed.CloseTime = &now
	closed.Status = models.TradeClosed
	closed.ExitPrice = price
	closed.PnL = roundTo(directionalPnL(trade, price), pnlPrecision)
	closed.CloseReason = reasonFor(hitTP)
	return &closed, true
}

// CloseDelay draws the simulated holding time.
func (s *Simulator) CloseDelay() time.Duration {
	lo, hi := s.profile.CloseDelayMin, s.profile.CloseDelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)+1))
}

func (s *Simulator) uniform(r Range) float64 {
	return r.Min + s.rng.Float64()*(r.Max-r.Min)
}

func (s *Simulator) roundPrice(v float64) float64 {
	return roundTo(v, s.profile.PricePrecision)
}

func (s *Simulator) newID(now time.Time) string {
	buf := make([]byte, 6)
	s.rng.Read(buf)
	return fmt.Sprintf("%s-%d-%s", tradeIDPrefix, now.UnixMilli(), base62.EncodeToString(buf))
}

func directionalPnL(trade *models.Trade, exit float64) float64 {
	if trade.Type == models.Buy {
		return (exit - trade.EntryPrice) * trade.Quantity
	}
	return (trade.EntryPrice - exit) * trade.Quantity
}

func reasonFor(win bool) string {
	if win {
		return models.CloseReasonTakeProfit
	}
	return models.CloseReasonStopLoss
}

func roundTo(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
