package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"trader-bot/internal/models"

	"github.com/google/uuid"
)

// InsertPerformanceSnapshot records the stats and balance at a point in time.
func (s *Store) InsertPerformanceSnapshot(ctx context.Context, stats models.PerformanceStats, balance models.Balance, at time.Time) error {
	query := `
		INSERT INTO performance_snapshots (
			total_trades, winning_trades, losing_trades, winrate, total_pnl,
			balance_usdt, balance_btc, max_drawdown, avg_win, avg_loss,
			largest_win, largest_loss, consecutive_losses, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		stats.TotalTrades, stats.WinningTrades, stats.LosingTrades, stats.WinRate, stats.NetProfit,
		balance.Quote, balance.Base, stats.MaxDrawdown, stats.AvgWin, stats.AvgLoss,
		stats.BestTrade, stats.WorstTrade, stats.ConsecutiveLosses, at,
	)
	if err != nil {
		return fmt.Errorf("insert performance snapshot: %w", err)
	}
	return nil
}

// InsertWinRateSnapshots stores one row per window atomically.
func (s *Store) InsertWinRateSnapshots(ctx context.Context, snapshots []models.WinRateSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO winrate_snapshots (period, total_trades, winning_trades, winrate, calculated_at)
		VALUES ($1, $2, $3, $4, $5)`
	for _, snap := range snapshots {
		if _, err := tx.Exec(ctx, query, snap.Period, snap.TotalTrades, snap.WinningTrades, snap.WinRate, snap.CalculatedAt); err != nil {
			return fmt.Errorf("insert winrate snapshot %s: %w", snap.Period, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit winrate snapshots: %w", err)
	}
	return nil
}

// LatestWinRates returns the most recent snapshot per period.
func (s *Store) LatestWinRates(ctx context.Context) ([]models.WinRateSnapshot, error) {
	query := `
		SELECT DISTINCT ON (period) period, total_trades, winning_trades, winrate, calculated_at
		FROM winrate_snapshots
		ORDER BY period, calculated_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query winrate snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.WinRateSnapshot
	for rows.Next() {
		var snap models.WinRateSnapshot
		if err := rows.Scan(&snap.Period, &snap.TotalTrades, &snap.WinningTrades, &snap.WinRate, &snap.CalculatedAt); err != nil {
			return nil, fmt.Errorf("scan winrate snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// InsertBalanceSnapshot records the balance valued at price.
func (s *Store) InsertBalanceSnapshot(ctx context.Context, balance models.Balance, price float64, at time.Time) error {
	query := `INSERT INTO balance_snapshots (usdt, btc, total_value_usdt, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, balance.Quote, balance.Base, balance.Equity(price), at); err != nil {
		return fmt.Errorf("insert balance snapshot: %w", err)
	}
	return nil
}

// InsertBotLog stores a log line with optional structured data.
func (s *Store) InsertBotLog(ctx context.Context, level, message string, data map[string]interface{}, at time.Time) error {
	var payload []byte
	if len(data) > 0 {
		var err error
		if payload, err = json.Marshal(data); err != nil {
			return fmt.Errorf("marshal bot log data: %w", err)
		}
	}

	query := `INSERT INTO bot_logs (id, level, message, data, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, uuid.NewString(), level, message, payload, at); err != nil {
		return fmt.Errorf("insert bot log: %w", err)
	}
	return nil
}
