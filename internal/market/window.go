package market

import (
	"sync"
	"trader-bot/internal/models"
)

// WindowSize is the number of candles kept per timeframe.
const WindowSize = 100

// Window is a bounded, ascending-by-open-time candle window.
// The newest candle may be patched in place until it is final.
type Window struct {
	mu      sync.RWMutex
	size    int
	candles []models.Candle
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = WindowSize
	}
	return &Window{size: size}
}

// Replace swaps in a freshly fetched window.
func (w *Window) Replace(candles []models.Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(candles) > w.size {
		candles = candles[len(candles)-w.size:]
	}
	w.candles = append([]models.Candle(nil), candles...)
}

// Apply patches the candle with the same open time, or appends a newer one.
// Updates to a final candle or older than the window are dropped. It reports
// whether the window changed.
func (w *Window) Apply(c models.Candle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := len(w.candles) - 1; i >= 0; i-- {
		existing := w.candles[i]
		if existing.OpenTime == c.OpenTime {
			if existing.IsFinal {
				return false
			}
			w.candles[i] = c
			return true
		}
		if existing.OpenTime < c.OpenTime {
			break
		}
	}

	if n := len(w.candles); n > 0 && c.OpenTime < w.candles[n-1].OpenTime {
		return false
	}
	w.candles = append(w.candles, c)
	if len(w.candles) > w.size {
		w.candles = append([]models.Candle(nil), w.candles[len(w.candles)-w.size:]...)
	}
	return true
}

// Candles returns a copy of the window.
func (w *Window) Candles() []models.Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]models.Candle(nil), w.candles...)
}

// Last returns the newest candle.
func (w *Window) Last() (models.Candle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.candles) == 0 {
		return models.Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}
