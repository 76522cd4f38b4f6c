package models

import "time"

// RecentTradesLimit 环形缓冲区保留的最近交易数
const RecentTradesLimit = 50

// OutcomeRecord 是环形缓冲区中的一条记录
type OutcomeRecord struct {
	TradeID string    `json:"trade_id"`
	IsWin   bool      `json:"is_win"`
	Time    time.Time `json:"time"`
}

// SimulatorState 模拟器的运行计数器，需要持久化
type SimulatorState struct {
	TradeCount        int             `json:"trade_count"`
	WinCount          int             `json:"win_count"`
	LossCount         int             `json:"loss_count"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	RecentTrades      []OutcomeRecord `json:"recent_trades"` // 最多 RecentTradesLimit 条, 旧的在前

	// 以下计数只在平仓时更新，绩效统计只看已平仓交易
	SettledTrades            int `json:"settled_trades"`
	SettledWins              int `json:"settled_wins"`
	SettledLosses            int `json:"settled_losses"`
	SettledConsecutiveLosses int `json:"settled_consecutive_losses"`
}

// Record appends an outcome, keeping the ring bounded.
func (s *SimulatorState) Record(rec OutcomeRecord) {
	s.TradeCount++
	if rec.IsWin {
		s.WinCount++
		s.ConsecutiveLosses = 0
	} else {
		s.LossCount++
		s.ConsecutiveLosses++
	}
	s.RecentTrades = append(s.RecentTrades, rec)
	if n := len(s.RecentTrades); n > RecentTradesLimit {
		s.RecentTrades = append([]OutcomeRecord(nil), s.RecentTrades[n-RecentTradesLimit:]...)
	}
}

// Settle counts a closed trade by its realized PnL. A zero PnL is neither
// a win nor a loss and ends a losing streak.
func (s *SimulatorState) Settle(pnl float64) {
	s.SettledTrades++
	switch {
	case pnl > 0:
		s.SettledWins++
		s.SettledConsecutiveLosses = 0
	case pnl < 0:
		s.SettledLosses++
		s.SettledConsecutiveLosses++
	default:
		s.SettledConsecutiveLosses = 0
	}
}

// Clone returns a deep copy.
func (s *SimulatorState) Clone() *SimulatorState {
	if s == nil {
		return nil
	}
	c := *s
	c.RecentTrades = append([]OutcomeRecord(nil), s.RecentTrades...)
	return &c
}

// Session 定义了需要持久化的会话数据 (余额、交易、信号、模拟器计数器)
type Session struct {
	SessionID      string         `json:"session_id"`
	Version        int            `json:"version"` // 状态模型的版本号，用于未来迁移
	Balance        Balance        `json:"balance"`
	Trades         []Trade        `json:"trades"`
	Signals        []Signal       `json:"signals"`
	Simulator      SimulatorState `json:"simulator"`
	LastUpdateTime time.Time      `json:"last_update_time"`
}
