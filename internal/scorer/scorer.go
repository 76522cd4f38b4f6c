// Package scorer turns multi-timeframe indicator sets into trading signals.
package scorer

import (
	"time"
	"trader-bot/internal/models"

	"go.uber.org/zap"
)

// Evaluation is the per-direction condition set for one input.
type Evaluation struct {
	Buy          models.Conditions `json:"buy"`
	Sell         models.Conditions `json:"sell"`
	BullishTrend bool              `json:"bullish_trend"`
	BearishTrend bool              `json:"bearish_trend"`
}

// Scorer evaluates indicator sets with one preset.
type Scorer struct {
	preset    Preset
	symbol    string
	timeframe string
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Scorer for the symbol and primary timeframe.
func New(preset Preset, symbol, timeframe string, logger *zap.Logger) *Scorer {
	return &Scorer{
		preset:    preset,
		symbol:    symbol,
		timeframe: timeframe,
		logger:    logger,
		now:       time.Now,
	}
}

// Preset returns the active preset.
func (s *Scorer) Preset() Preset { return s.preset }

// Evaluate computes both directions' conditions. All three sets must be non-nil.
func (s *Scorer) Evaluate(primary, h1, d1 *models.IndicatorSet, last models.Candle) (Evaluation, error) {
	if primary == nil || h1 == nil || d1 == nil {
		return Evaluation{}, models.ErrSignalIncomplete
	}

	p := s.preset
	ind := primary
	volumeSpike := ind.VolumeSMA > 0 && last.Volume > ind.VolumeSMA*p.VolumeFactor

	return Evaluation{
		Buy: models.Conditions{
			RSI:        ind.RSI < p.RSIOversold,
			Stochastic: ind.StochasticK < p.StochOversold && ind.StochasticK > ind.StochasticD,
			EMA:        ind.EMAShort > ind.EMALong,
			MACD:       ind.MACDHistogram > 0 && ind.MACDHistogram > ind.MACDSignal,
			Volume:     volumeSpike,
			Fibonacci:  last.Close <= ind.Fib.Level61*(1+p.FibTolerance),
		},
		Sell: models.Conditions{
			RSI:        ind.RSI > p.RSIOverbought,
			Stochastic: ind.StochasticK > p.StochOverbought && ind.StochasticK < ind.StochasticD,
			EMA:        ind.EMAShort < ind.EMALong,
			MACD:       ind.MACDHistogram < 0 && ind.MACDHistogram < ind.MACDSignal,
			Volume:     volumeSpike,
			Fibonacci:  last.Close >= ind.Fib.Level38*(1-p.FibTolerance),
		},
		BullishTrend: h1.EMAShort > h1.EMALong && d1.EMAShort > d1.EMALong,
		BearishTrend: h1.EMAShort < h1.EMALong && d1.EMAShort < d1.EMALong,
	}, nil
}

// Generate returns a signal, or nil when no direction qualifies.
// Branch order: trend-confirmed buy, trend-confirmed sell, counter-trend buy, counter-trend sell.
func (s *Scorer) Generate(primary, h1, d1 *models.IndicatorSet, last models.Candle) *models.Signal {
	ev, err := s.Evaluate(primary, h1, d1, last)
	if err != nil {
		s.logger.Debug("skipping signal generation", zap.Error(err))
		return nil
	}

	buyScore, sellScore := ev.Buy.Score(), ev.Sell.Score()
	p := s.preset

	switch {
	case ev.BullishTrend && buyScore >= p.TrendMinScore:
		return s.newSignal(models.Buy, ev.Buy, last, false)
	case ev.BearishTrend && sellScore >= p.TrendMinScore:
		return s.newSignal(models.Sell, ev.Sell, last, false)
	case !ev.BullishTrend && buyScore >= p.CounterMinScore:
		return s.newSignal(models.Buy, ev.Buy, last, true)
	case !ev.BearishTrend && sellScore >= p.CounterMinScore:
		return s.newSignal(models.Sell, ev.Sell, last, true)
	}
	return nil
}

func (s *Scorer) newSignal(side models.Side, cond models.Conditions, last models.Candle, counterTrend bool) *models.Signal {
	score := cond.Score()
	return &models.Signal{
		Type:         side,
		Price:        last.Close,
		Timestamp:    s.now(),
		Symbol:       s.symbol,
		Timeframe:    s.timeframe,
		Conditions:   cond,
		Score:        score,
		CounterTrend: counterTrend,
		Strength:     StrengthOf(score),
		Preset:       s.preset.Name,
	}
}

// StrengthOf classifies a score.
func StrengthOf(score int) models.Strength {
	switch {
	case score >= 6:
		return models.Strong
	case score == 5:
		return models.Medium
	default:
		return models.Weak
	}
}
