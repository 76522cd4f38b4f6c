package indicator

import (
	"testing"
	"trader-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultPeriods = models.IndicatorConfig{
	EMAShort: 9, EMALong: 21, RSI: 14, Stochastic: 14,
	MACDFast: 12, MACDSlow: 26, MACDSignal: 9, ATR: 14,
}

func rampCandles(n int, start, step float64) []models.Candle {
	candles := make([]models.Candle, n)
	for i := range candles {
		c := start + float64(i)*step
		candles[i] = models.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i)*60_000 + 59_999,
			Open:      c - step/2,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
			IsFinal:   true,
		}
	}
	return candles
}

func TestComputeRequiresMinimumWindow(t *testing.T) {
	for _, n := range []int{0, 1, MinCandles - 1} {
		set, err := Compute(rampCandles(n, 100, 1), defaultPeriods)
		assert.Nil(t, set, "window of %d candles should yield the empty set", n)
		assert.ErrorIs(t, err, models.ErrInsufficientData)
	}
}

func TestComputeOnUptrend(t *testing.T) {
	candles := rampCandles(100, 100, 1)

	set, err := Compute(candles, defaultPeriods)
	require.NoError(t, err)
	require.NotNil(t, set)

	assert.Greater(t, set.EMAShort, set.EMALong, "short EMA should lead in an uptrend")
	assert.Equal(t, 100.0, set.RSI, "monotonic gains give RSI 100")
	assert.Greater(t, set.MACD, 0.0)
	assert.InDelta(t, 100.0, set.VolumeSMA, 1e-9)
	assert.InDelta(t, 2.0, set.ATR, 1e-9)
	assert.Equal(t, 200.0, set.RecentHigh)
	assert.Equal(t, 99.0, set.RecentLow)
	assert.Equal(t, set.RecentHigh, set.Fib.Level0)
	assert.Equal(t, set.RecentLow, set.Fib.Level100)
}

func TestComputeShortWindowDefaultsMACDSignal(t *testing.T) {
	// 30 candles produce 5 MACD values, fewer than the 9-period signal needs.
	set, err := Compute(rampCandles(MinCandles, 100, 1), defaultPeriods)
	require.NoError(t, err)
	assert.NotZero(t, set.MACD)
	assert.Zero(t, set.MACDSignal)
	assert.Zero(t, set.MACDHistogram)
}

func TestSMA(t *testing.T) {
	assert.Equal(t, []float64{2, 3, 4}, SMA([]float64{1, 2, 3, 4, 5}, 3))
	assert.Nil(t, SMA([]float64{1, 2}, 3))
	assert.Nil(t, SMA([]float64{1, 2}, 0))
}

func TestEMA(t *testing.T) {
	assert.Equal(t, []float64{2, 3, 4}, EMA([]float64{1, 2, 3, 4, 5}, 3))
	assert.Nil(t, EMA([]float64{1}, 3))
}

func TestRSIWilderSmoothing(t *testing.T) {
	got := RSI([]float64{1, 2, 1, 2, 1}, 2)
	require.Len(t, got, 3)
	assert.InDelta(t, 50.0, got[0], 1e-9)
	assert.InDelta(t, 75.0, got[1], 1e-9)
	assert.InDelta(t, 37.5, got[2], 1e-9)

	flat := RSI([]float64{5, 5, 5, 5}, 2)
	assert.Equal(t, []float64{50, 50}, flat)
}

func TestStochastic(t *testing.T) {
	highs := []float64{3, 4, 5, 6, 7}
	lows := []float64{1, 2, 3, 4, 5}
	closes := []float64{2, 3, 5, 4, 5}

	k, d := Stochastic(highs, lows, closes, 3, 3)
	require.Len(t, k, 3)
	assert.InDelta(t, 100.0, k[0], 1e-9) // (5-1)/(5-1)
	assert.InDelta(t, 50.0, k[1], 1e-9)  // (4-2)/(6-2)
	assert.InDelta(t, 50.0, k[2], 1e-9)  // (5-3)/(7-3)
	require.Len(t, d, 1)
	assert.InDelta(t, 200.0/3, d[0], 1e-9)

	k, _ = Stochastic([]float64{1, 1}, []float64{1, 1}, []float64{1, 1}, 2, 3)
	assert.Equal(t, []float64{50}, k, "flat range should be neutral")
}

func TestMACDFlatSeries(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 42
	}
	macd, signal, hist := MACD(values, 12, 26, 9)
	require.Len(t, macd, 35)
	require.Len(t, signal, 27)
	require.Len(t, hist, 27)
	assert.InDelta(t, 0.0, macd[len(macd)-1], 1e-9)
	assert.InDelta(t, 0.0, hist[len(hist)-1], 1e-9)
}

func TestATRIncludesGaps(t *testing.T) {
	highs := []float64{10, 12, 11}
	lows := []float64{8, 10, 9}
	closes := []float64{9, 11, 10}

	got := ATR(highs, lows, closes, 2)
	// TRs: 2, max(2,|12-9|,|10-9|)=3, max(2,0,2)=2
	require.Len(t, got, 2)
	assert.InDelta(t, 2.5, got[0], 1e-9)
	assert.InDelta(t, 2.25, got[1], 1e-9)
}

func TestFibonacciUsesRecentWindow(t *testing.T) {
	candles := []models.Candle{
		{High: 500, Low: 10}, // outside the lookback
		{High: 150, Low: 120},
		{High: 200, Low: 100},
	}

	levels, high, low := Fibonacci(candles, 2)
	assert.Equal(t, 200.0, high)
	assert.Equal(t, 100.0, low)
	assert.InDelta(t, 176.4, levels.Level23, 1e-9)
	assert.InDelta(t, 161.8, levels.Level38, 1e-9)
	assert.InDelta(t, 150.0, levels.Level50, 1e-9)
	assert.InDelta(t, 138.2, levels.Level61, 1e-9)
}
