// Package ledger holds the simulated trades, recent signals and virtual balance.
package ledger

import (
	"fmt"
	"trader-bot/internal/models"
)

const (
	// MaxOpenTrades caps simultaneously open simulated trades.
	MaxOpenTrades = 3
	// SignalHistoryLimit is how many recent signals are kept for display.
	SignalHistoryLimit = 20
)

// Ledger is not safe for concurrent use; the state manager serializes access.
type Ledger struct {
	initial models.Balance
	balance models.Balance
	trades  []models.Trade // oldest first
	index   map[string]int
	signals []models.Signal // newest first
	maxOpen int
}

// New creates an empty ledger starting from the initial balance.
func New(initial models.Balance) *Ledger {
	return &Ledger{
		initial: initial,
		balance: initial,
		index:   make(map[string]int),
		maxOpen: MaxOpenTrades,
	}
}

// Restore rebuilds a ledger from a persisted session.
func Restore(initial models.Balance, session *models.Session) *Ledger {
	l := New(initial)
	if session == nil {
		return l
	}
	l.balance = session.Balance
	for _, t := range session.Trades {
		l.index[t.ID] = len(l.trades)
		l.trades = append(l.trades, t)
	}
	l.signals = append(l.signals, session.Signals...)
	if len(l.signals) > SignalHistoryLimit {
		l.signals = l.signals[:SignalHistoryLimit]
	}
	return l
}

// CanOpen reports whether another trade fits under the cap.
func (l *Ledger) CanOpen() bool {
	return l.OpenCount() < l.maxOpen
}

// OpenCount counts OPEN trades.
func (l *Ledger) OpenCount() int {
	n := 0
	for i := range l.trades {
		if l.trades[i].Status == models.TradeOpen {
			n++
		}
	}
	return n
}

// RecordOpen appends an OPEN trade and reserves its risk amount.
func (l *Ledger) RecordOpen(trade *models.Trade) error {
	if trade == nil || trade.Status != models.TradeOpen {
		return fmt.Errorf("record open: %w", models.ErrTradeNotOpen)
	}
	if _, exists := l.index[trade.ID]; exists {
		return fmt.Errorf("record open: duplicate trade id %s", trade.ID)
	}
	if !l.CanOpen() {
		return models.ErrOpenTradeCap
	}

	if trade.Type == models.Buy {
		l.balance.Quote -= trade.RiskAmount
		l.balance.Base += trade.Quantity
	} else {
		l.balance.Quote += trade.RiskAmount
		l.balance.Base -= trade.Quantity
	}

	l.index[trade.ID] = len(l.trades)
	l.trades = append(l.trades, *trade)
	return nil
}

// RecordClose replaces an OPEN trade with its closed form. The entry-side
// balance change is reversed and the realized PnL credited to quote.
func (l *Ledger) RecordClose(tradeID string, closed *models.Trade) error {
	i, ok := l.index[tradeID]
	if !ok {
		return fmt.Errorf("record close %s: %w", tradeID, models.ErrTradeNotFound)
	}
	open := l.trades[i]
	if open.Status != models.TradeOpen {
		return fmt.Errorf("record close %s: %w", tradeID, models.ErrTradeNotOpen)
	}
	if closed == nil || closed.Status != models.TradeClosed || closed.ID != tradeID {
		return fmt.Errorf("record close %s: closed trade does not match", tradeID)
	}

	if open.Type == models.Buy {
		l.balance.Quote += open.RiskAmount
		l.balance.Base -= open.Quantity
	} else {
		l.balance.Quote -= open.RiskAmount
		l.balance.Base += open.Quantity
	}
	l.balance.Quote += closed.PnL

	l.trades[i] = *closed
	return nil
}

// RecordSignal prepends a signal, keeping SignalHistoryLimit entries.
func (l *Ledger) RecordSignal(signal models.Signal) {
	l.signals = append([]models.Signal{signal}, l.signals...)
	if len(l.signals) > SignalHistoryLimit {
		l.signals = l.signals[:SignalHistoryLimit]
	}
}

// Trade returns a copy of the trade with the given id.
func (l *Ledger) Trade(id string) (models.Trade, bool) {
	i, ok := l.index[id]
	if !ok {
		return models.Trade{}, false
	}
	return l.trades[i], true
}

// Trades returns a copy of every trade, oldest first.
func (l *Ledger) Trades() []models.Trade {
	return append([]models.Trade(nil), l.trades...)
}

// OpenTrades returns copies of the OPEN trades.
func (l *Ledger) OpenTrades() []models.Trade {
	var out []models.Trade
	for _, t := range l.trades {
		if t.Status == models.TradeOpen {
			out = append(out, t)
		}
	}
	return out
}

// Signals returns the recent signals, newest first.
func (l *Ledger) Signals() []models.Signal {
	return append([]models.Signal(nil), l.signals...)
}

// Balance returns the current balance.
func (l *Ledger) Balance() models.Balance { return l.balance }

// Initial returns the balance the ledger resets to.
func (l *Ledger) Initial() models.Balance { return l.initial }

// Reset restores the initial balance and clears trades and signals.
func (l *Ledger) Reset() {
	l.balance = l.initial
	l.trades = nil
	l.signals = nil
	l.index = make(map[string]int)
}
