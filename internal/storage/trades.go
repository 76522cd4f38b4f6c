package storage

import (
	"context"
	"fmt"
	"time"
	"trader-bot/internal/models"

	"github.com/jackc/pgx/v5"
)

const tradeColumns = `
	id, symbol, type, quantity, entry_price, exit_price, stop_loss, take_profit, risk_amount,
	timestamp, close_time, status, pnl, close_reason,
	is_win, multiplier, win_probability, signal_score, strength, counter_trend, simulated`

// InsertTrade stores a new trade. Returns ErrDuplicateKey if the id exists.
func (s *Store) InsertTrade(ctx context.Context, t *models.Trade) error {
	query := `INSERT INTO trades (` + tradeColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9,
		$10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21
	)`

	_, err := s.pool.Exec(ctx, query, tradeArgs(t)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTrade rewrites the mutable fields of a trade by id.
func (s *Store) UpdateTrade(ctx context.Context, t *models.Trade) error {
	query := `
		UPDATE trades
		SET exit_price = $2, close_time = $3, status = $4, pnl = $5, close_reason = $6
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, t.ID, t.ExitPrice, t.CloseTime, string(t.Status), t.PnL, t.CloseReason)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTrade loads one trade by id.
func (s *Store) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

// TradesBetween returns trades opened in [from, to], oldest first.
func (s *Store) TradesBetween(ctx context.Context, from, to time.Time) ([]models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC`
	return s.queryTrades(ctx, query, from, to)
}

// ClosedTradesSince returns CLOSED trades opened after since, oldest first.
func (s *Store) ClosedTradesSince(ctx context.Context, since time.Time) ([]models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE status = $1 AND timestamp > $2
		ORDER BY timestamp ASC`
	return s.queryTrades(ctx, query, string(models.TradeClosed), since)
}

func (s *Store) queryTrades(ctx context.Context, query string, args ...interface{}) ([]models.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return trades, nil
}

func tradeArgs(t *models.Trade) []interface{} {
	return []interface{}{
		t.ID, t.Symbol, string(t.Type), t.Quantity, t.EntryPrice, t.ExitPrice, t.StopLoss, t.TakeProfit, t.RiskAmount,
		t.Timestamp, t.CloseTime, string(t.Status), t.PnL, t.CloseReason,
		t.Outcome.IsWin, t.Outcome.Multiplier, t.Outcome.WinProbability, t.SignalScore, string(t.Strength), t.CounterTrend, t.Simulated,
	}
}

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var (
		t                      models.Trade
		side, status, strength string
	)
	err := row.Scan(
		&t.ID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.StopLoss, &t.TakeProfit, &t.RiskAmount,
		&t.Timestamp, &t.CloseTime, &status, &t.PnL, &t.CloseReason,
		&t.Outcome.IsWin, &t.Outcome.Multiplier, &t.Outcome.WinProbability, &t.SignalScore, &strength, &t.CounterTrend, &t.Simulated,
	)
	if err != nil {
		return nil, err
	}
	t.Type = models.Side(side)
	t.Status = models.TradeStatus(status)
	t.Strength = models.Strength(strength)
	return &t, nil
}
