package models

import "errors"

var (
	// ErrDataFetch means the market-data source was unreachable or returned malformed candles.
	ErrDataFetch = errors.New("market data fetch failed")
	// ErrInsufficientData means the candle window was shorter than the indicator minimum.
	ErrInsufficientData = errors.New("insufficient candle data")
	// ErrSignalIncomplete means at least one timeframe had no indicator set.
	ErrSignalIncomplete = errors.New("indicator sets incomplete")
	// ErrPersistence wraps storage read/write failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrConfiguration means required configuration or credentials are missing.
	ErrConfiguration = errors.New("configuration error")

	ErrOpenTradeCap   = errors.New("open trade cap reached")
	ErrTradeNotFound  = errors.New("trade not found")
	ErrTradeNotOpen   = errors.New("trade is not open")
	ErrBotRunning     = errors.New("bot is already running")
	ErrUnknownPreset  = errors.New("unknown scorer preset")
	ErrUnknownProfile = errors.New("unknown simulator profile")
)
