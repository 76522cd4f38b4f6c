package reporter

import (
	"math"
	"sort"
	"time"
	"trader-bot/internal/models"
)

// BaselineEquity is the starting equity for drawdown replay.
const BaselineEquity = 10000.0

// ComputeStats 根据已平仓交易计算绩效指标。
// 若提供了模拟器的平仓计数器，胜率与连亏次数以其为准。
// 开仓时预先决定的结果不计入统计。
func ComputeStats(trades []models.Trade, counters *models.SimulatorState) models.PerformanceStats {
	closed := closedByTime(trades)
	stats := models.PerformanceStats{TotalTrades: len(closed)}

	var grossWin, grossLoss float64
	for _, t := range closed {
		stats.NetProfit += t.PnL
		if t.PnL > 0 {
			stats.WinningTrades++
			grossWin += t.PnL
		} else if t.PnL < 0 {
			stats.LosingTrades++
			grossLoss += t.PnL
		}
		// best/worst 与 0 比较
		stats.BestTrade = math.Max(stats.BestTrade, t.PnL)
		stats.WorstTrade = math.Min(stats.WorstTrade, t.PnL)
	}

	if stats.WinningTrades > 0 {
		stats.AvgWin = grossWin / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = grossLoss / float64(stats.LosingTrades)
	}

	winFraction := 0.0
	switch {
	case counters != nil && counters.SettledTrades > 0:
		winFraction = float64(counters.SettledWins) / float64(counters.SettledTrades)
	case stats.TotalTrades > 0:
		winFraction = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	stats.WinRate = winFraction * 100
	stats.Expectancy = winFraction*stats.AvgWin - (1-winFraction)*math.Abs(stats.AvgLoss)

	stats.MaxDrawdown = MaxDrawdown(closed, BaselineEquity)

	if counters != nil && counters.SettledTrades > 0 {
		stats.ConsecutiveLosses = counters.SettledConsecutiveLosses
	} else {
		for i := len(closed) - 1; i >= 0 && closed[i].PnL < 0; i-- {
			stats.ConsecutiveLosses++
		}
	}
	return stats
}

// MaxDrawdown replays closed trades in close order from baseline equity and
// returns the largest peak-to-trough decline in percent.
func MaxDrawdown(trades []models.Trade, baseline float64) float64 {
	curve := []float64{baseline}
	equity := baseline
	for _, t := range closedByTime(trades) {
		equity += t.PnL
		curve = append(curve, equity)
	}
	return calculateMaxDrawdown(curve) * 100
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// closedByTime returns the CLOSED trades ordered by close time.
func closedByTime(trades []models.Trade) []models.Trade {
	closed := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status == models.TradeClosed {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closeTimeOf(closed[i]).Before(closeTimeOf(closed[j]))
	})
	return closed
}

func closeTimeOf(t models.Trade) time.Time {
	if t.CloseTime != nil {
		return *t.CloseTime
	}
	return t.Timestamp
}
