package reporter

import (
	"fmt"
	"io"
	"trader-bot/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Render 打印绩效报告与滚动胜率表格
func Render(w io.Writer, title string, stats models.PerformanceStats, balance models.Balance, winRates []models.WinRateSnapshot) {
	perf := table.NewWriter()
	perf.SetOutputMirror(w)
	perf.SetTitle(title)
	perf.SetStyle(table.StyleLight)
	perf.AppendHeader(table.Row{"Metric", "Value"})
	perf.AppendRows([]table.Row{
		{"Total trades", stats.TotalTrades},
		{"Winning / losing", fmt.Sprintf("%d / %d", stats.WinningTrades, stats.LosingTrades)},
		{"Win rate", fmt.Sprintf("%.2f%%", stats.WinRate)},
		{"Avg win", fmt.Sprintf("%.2f", stats.AvgWin)},
		{"Avg loss", fmt.Sprintf("%.2f", stats.AvgLoss)},
		{"Expectancy", fmt.Sprintf("%.2f", stats.Expectancy)},
		{"Net profit", fmt.Sprintf("%.2f", stats.NetProfit)},
		{"Best / worst", fmt.Sprintf("%.2f / %.2f", stats.BestTrade, stats.WorstTrade)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", stats.MaxDrawdown)},
		{"Consecutive losses", stats.ConsecutiveLosses},
	})
	perf.AppendSeparator()
	perf.AppendRow(table.Row{"Balance", fmt.Sprintf("%.2f USDT / %.6f BTC", balance.Quote, balance.Base)})
	perf.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	perf.Render()

	if len(winRates) == 0 {
		return
	}

	rates := table.NewWriter()
	rates.SetOutputMirror(w)
	rates.SetTitle("Rolling win rate")
	rates.SetStyle(table.StyleLight)
	rates.AppendHeader(table.Row{"Period", "Trades", "Wins", "Win rate"})
	for _, s := range winRates {
		rates.AppendRow(table.Row{s.Period, s.TotalTrades, s.WinningTrades, fmt.Sprintf("%.2f%%", s.WinRate)})
	}
	rates.Render()
}
