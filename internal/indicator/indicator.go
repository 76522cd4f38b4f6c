// Package indicator computes technical indicators over a candle window.
package indicator

import (
	"fmt"
	"math"
	"trader-bot/internal/models"
)

const (
	// MinCandles is the shortest window that produces an indicator set.
	MinCandles = 30

	volumePeriod = 20
	stochSignal  = 3
	fibLookback  = 100
)

var fibRatios = struct{ l23, l38, l50, l61 float64 }{0.236, 0.382, 0.5, 0.618}

// Compute returns the latest value of every indicator for the window.
// A window shorter than MinCandles yields (nil, ErrInsufficientData).
func Compute(candles []models.Candle, cfg models.IndicatorConfig) (set *models.IndicatorSet, err error) {
	if len(candles) < MinCandles {
		return nil, fmt.Errorf("%w: have %d candles, need %d", models.ErrInsufficientData, len(candles), MinCandles)
	}

	defer func() {
		if r := recover(); r != nil {
			set, err = nil, fmt.Errorf("indicator calculation panicked: %v", r)
		}
	}()

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i], highs[i], lows[i], volumes[i] = c.Close, c.High, c.Low, c.Volume
	}

	set = &models.IndicatorSet{
		EMAShort:  last(EMA(closes, cfg.EMAShort)),
		EMALong:   last(EMA(closes, cfg.EMALong)),
		RSI:       last(RSI(closes, cfg.RSI)),
		ATR:       last(ATR(highs, lows, closes, cfg.ATR)),
		VolumeSMA: last(SMA(volumes, volumePeriod)),
	}

	k, d := Stochastic(highs, lows, closes, cfg.Stochastic, stochSignal)
	set.StochasticK, set.StochasticD = last(k), last(d)

	macd, signal, hist := MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	set.MACD, set.MACDSignal, set.MACDHistogram = last(macd), last(signal), last(hist)

	set.Fib, set.RecentHigh, set.RecentLow = Fibonacci(candles, fibLookback)
	return set, nil
}

// last returns the final element, or 0 for an empty series.
func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// SMA returns the simple moving average series; its first value covers values[0:period].
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// EMA seeds with the SMA of the first period values, then applies 2/(period+1).
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	prev := seed / float64(period)
	out = append(out, prev)

	for _, v := range values[period:] {
		prev = (v-prev)*k + prev
		out = append(out, prev)
	}
	return out
}

// RSI uses Wilder smoothing of average gains and losses.
func RSI(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return nil
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain, avgLoss := gain/float64(period), loss/float64(period)

	out := make([]float64, 0, len(values)-period)
	out = append(out, rsiValue(avgGain, avgLoss))

	p := float64(period)
	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Stochastic returns %K over period and %D as the SMA of %K over signalPeriod.
// A flat high/low range gives %K = 50.
func Stochastic(highs, lows, closes []float64, period, signalPeriod int) (k, d []float64) {
	if period <= 0 || len(closes) < period {
		return nil, nil
	}
	k = make([]float64, 0, len(closes)-period+1)
	for i := period - 1; i < len(closes); i++ {
		hh, ll := highs[i], lows[i]
		for j := i - period + 1; j < i; j++ {
			hh = math.Max(hh, highs[j])
			ll = math.Min(ll, lows[j])
		}
		if hh == ll {
			k = append(k, 50)
			continue
		}
		k = append(k, (closes[i]-ll)/(hh-ll)*100)
	}
	return k, SMA(k, signalPeriod)
}

// MACD uses EMAs for both the oscillator and its signal line.
// The returned series are aligned at their ends.
func MACD(values []float64, fast, slow, signalPeriod int) (macd, signal, hist []float64) {
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	if len(slowEMA) == 0 || len(fastEMA) < len(slowEMA) {
		return nil, nil, nil
	}

	offset := len(fastEMA) - len(slowEMA)
	macd = make([]float64, len(slowEMA))
	for i := range slowEMA {
		macd[i] = fastEMA[i+offset] - slowEMA[i]
	}

	signal = EMA(macd, signalPeriod)
	if len(signal) == 0 {
		return macd, nil, nil
	}
	offset = len(macd) - len(signal)
	hist = make([]float64, len(signal))
	for i := range signal {
		hist[i] = macd[i+offset] - signal[i]
	}
	return macd, signal, hist
}

// ATR is the Wilder-smoothed true range.
func ATR(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	tr := make([]float64, len(closes))
	tr[0] = highs[0] - lows[0]
	for i := 1; i < len(closes); i++ {
		tr[i] = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}

	sum := 0.0
	for _, v := range tr[:period] {
		sum += v
	}
	prev := sum / float64(period)
	out := []float64{prev}

	p := float64(period)
	for _, v := range tr[period:] {
		prev = (prev*(p-1) + v) / p
		out = append(out, prev)
	}
	return out
}

// Fibonacci derives retracement levels from the extremes of the last lookback candles.
func Fibonacci(candles []models.Candle, lookback int) (levels models.FibLevels, high, low float64) {
	if len(candles) == 0 {
		return levels, 0, 0
	}
	start := 0
	if len(candles) > lookback {
		start = len(candles) - lookback
	}

	high, low = candles[start].High, candles[start].Low
	for _, c := range candles[start+1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}

	diff := high - low
	levels = models.FibLevels{
		Level0:   high,
		Level23:  high - diff*fibRatios.l23,
		Level38:  high - diff*fibRatios.l38,
		Level50:  high - diff*fibRatios.l50,
		Level61:  high - diff*fibRatios.l61,
		Level100: low,
	}
	return levels, high, low
}
