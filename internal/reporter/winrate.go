package reporter

import (
	"math"
	"time"
	"trader-bot/internal/models"
)

// Window is a named rolling period.
type Window struct {
	Name     string
	Duration time.Duration
}

// Windows are the rolling periods tracked for win rate.
var Windows = []Window{
	{"1h", time.Hour},
	{"4h", 4 * time.Hour},
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
	{"30d", 30 * 24 * time.Hour},
}

// LongestWindow is the span a caller needs to load to fill every window.
func LongestWindow() time.Duration {
	return Windows[len(Windows)-1].Duration
}

// RollingWinRates computes win rate per window over closed trades whose
// open timestamp lies in (now-window, now]. A win is a positive PnL.
func RollingWinRates(trades []models.Trade, now time.Time) []models.WinRateSnapshot {
	out := make([]models.WinRateSnapshot, 0, len(Windows))
	for _, w := range Windows {
		from := now.Add(-w.Duration)
		snap := models.WinRateSnapshot{Period: w.Name, CalculatedAt: now}
		for _, t := range trades {
			if t.Status != models.TradeClosed || !t.Timestamp.After(from) || t.Timestamp.After(now) {
				continue
			}
			snap.TotalTrades++
			if t.PnL > 0 {
				snap.WinningTrades++
			}
		}
		if snap.TotalTrades > 0 {
			snap.WinRate = math.Round(float64(snap.WinningTrades)/float64(snap.TotalTrades)*10000) / 100
		}
		out = append(out, snap)
	}
	return out
}
