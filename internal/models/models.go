package models

import (
	"time"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet          bool   `json:"is_testnet"`          // 是否使用测试网
	RequireCredentials bool   `json:"require_credentials"` // 启动前是否必须提供API密钥
	APIKey             string `json:"-"`                   // 从环境变量读取
	SecretKey          string `json:"-"`                   // 从环境变量读取

	Symbol    string `json:"symbol"`    // 交易对，如 "BTCUSDT"
	Timeframe string `json:"timeframe"` // 主周期，如 "5m"

	RiskPerTrade   float64 `json:"risk_per_trade"`    // 单笔风险占固定资金的百分比
	RiskRewardRate float64 `json:"rrr"`               // 风险回报比
	FixedBalance   float64 `json:"fixed_balance"`     // 计算风险金额所用的固定资金
	InitialQuote   float64 `json:"initial_quote"`     // 初始计价货币余额 (USDT)
	InitialBase    float64 `json:"initial_base"`      // 初始基础货币余额 (BTC)
	ScorerPreset   string  `json:"scorer_preset"`     // 信号评分预设, e.g. "relaxed-v2"
	SimProfile     string  `json:"simulator_profile"` // 模拟器参数组, e.g. "classic"

	Indicators IndicatorConfig `json:"indicators"`

	FetchTimeoutSec       int `json:"fetch_timeout_sec"`       // 行情请求超时
	PersistenceTimeoutSec int `json:"persistence_timeout_sec"` // 持久化写入超时

	DBPath       string `json:"db_path"`       // BadgerDB 目录
	DatabaseURL  string `json:"database_url"`  // PostgreSQL 连接串, 为空时不写历史
	RedisAddr    string `json:"redis_addr"`    // 为空时不启用 Redis 推送
	RedisPass    string `json:"-"`
	StreamKlines bool   `json:"stream_klines"` // 是否订阅实时K线

	HTTPAddr      string `json:"http_addr"`
	JWTSecret     string `json:"-"`
	AdminUser     string `json:"-"`
	AdminPassword string `json:"-"`
	AuthEnabled   bool   `json:"auth_enabled"`

	LogConfig LogConfig `json:"log"` // 日志配置
}

// IndicatorConfig holds the lookback periods used by the indicator engine.
type IndicatorConfig struct {
	EMAShort   int `json:"ema_short"`
	EMALong    int `json:"ema_long"`
	RSI        int `json:"rsi"`
	Stochastic int `json:"stochastic"`
	MACDFast   int `json:"macd_fast"`
	MACDSlow   int `json:"macd_slow"`
	MACDSignal int `json:"macd_signal"`
	ATR        int `json:"atr"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Settings is the runtime-changeable subset of Config.
type Settings struct {
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	RiskPerTrade   float64         `json:"risk_per_trade"`
	RiskRewardRate float64         `json:"rrr"`
	ScorerPreset   string          `json:"scorer_preset"`
	SimProfile     string          `json:"simulator_profile"`
	Indicators     IndicatorConfig `json:"indicators"`
}

// Settings extracts the runtime settings from the config.
func (c *Config) Settings() Settings {
	return Settings{
		Symbol:         c.Symbol,
		Timeframe:      c.Timeframe,
		RiskPerTrade:   c.RiskPerTrade,
		RiskRewardRate: c.RiskRewardRate,
		ScorerPreset:   c.ScorerPreset,
		SimProfile:     c.SimProfile,
		Indicators:     c.Indicators,
	}
}

// ApplySettings overwrites the runtime-changeable fields.
func (c *Config) ApplySettings(s Settings) {
	c.Symbol = s.Symbol
	c.Timeframe = s.Timeframe
	c.RiskPerTrade = s.RiskPerTrade
	c.RiskRewardRate = s.RiskRewardRate
	c.ScorerPreset = s.ScorerPreset
	c.SimProfile = s.SimProfile
	c.Indicators = s.Indicators
}

// Candle 是一根K线 (OHLCV)
type Candle struct {
	OpenTime  int64   `json:"open_time"`  // 毫秒
	CloseTime int64   `json:"close_time"` // 毫秒
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsFinal   bool    `json:"is_final"`
}

// FibLevels are retracement levels between the recent high (Level0) and low (Level100).
type FibLevels struct {
	Level0   float64 `json:"level0"`
	Level23  float64 `json:"level23"`
	Level38  float64 `json:"level38"`
	Level50  float64 `json:"level50"`
	Level61  float64 `json:"level61"`
	Level100 float64 `json:"level100"`
}

// IndicatorSet is the last value of every indicator series for one timeframe.
// A nil *IndicatorSet is the empty set.
type IndicatorSet struct {
	EMAShort      float64   `json:"ema_short"`
	EMALong       float64   `json:"ema_long"`
	RSI           float64   `json:"rsi"`
	StochasticK   float64   `json:"stochastic_k"`
	StochasticD   float64   `json:"stochastic_d"`
	MACD          float64   `json:"macd"`
	MACDSignal    float64   `json:"macd_signal"`
	MACDHistogram float64   `json:"macd_histogram"`
	ATR           float64   `json:"atr"`
	VolumeSMA     float64   `json:"volume_sma"`
	Fib           FibLevels `json:"fib_levels"`
	RecentHigh    float64   `json:"recent_high"`
	RecentLow     float64   `json:"recent_low"`
}

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Strength classifies a signal by its score.
type Strength string

const (
	Weak   Strength = "WEAK"
	Medium Strength = "MEDIUM"
	Strong Strength = "STRONG"
)

// Conditions are the six confirmations evaluated per direction.
type Conditions struct {
	RSI        bool `json:"rsi"`
	Stochastic bool `json:"stochastic"`
	EMA        bool `json:"ema"`
	MACD       bool `json:"macd"`
	Volume     bool `json:"volume"`
	Fibonacci  bool `json:"fibonacci"`
}

// Score counts the true conditions.
func (c Conditions) Score() int {
	score := 0
	for _, ok := range []bool{c.RSI, c.Stochastic, c.EMA, c.MACD, c.Volume, c.Fibonacci} {
		if ok {
			score++
		}
	}
	return score
}

// Signal 是评分器产生的交易信号，创建后不可修改
type Signal struct {
	Type         Side       `json:"type"`
	Price        float64    `json:"price"`
	Timestamp    time.Time  `json:"timestamp"`
	Symbol       string     `json:"symbol"`
	Timeframe    string     `json:"timeframe"`
	Conditions   Conditions `json:"conditions"`
	Score        int        `json:"score"`
	CounterTrend bool       `json:"counter_trend"`
	Strength     Strength   `json:"strength"`
	Preset       string     `json:"preset"`
}

// TradeStatus is OPEN until the trade closes; CLOSED is terminal.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

const (
	CloseReasonTakeProfit = "TP HIT"
	CloseReasonStopLoss   = "SL HIT"
)

// Outcome is decided when a simulated trade opens and never recomputed.
type Outcome struct {
	IsWin          bool    `json:"is_win"`
	Multiplier     float64 `json:"multiplier"`
	WinProbability float64 `json:"win_probability"`
}

// Trade 模拟交易记录
type Trade struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	Type         Side        `json:"type"`
	Quantity     float64     `json:"quantity"`
	EntryPrice   float64     `json:"entry_price"`
	StopLoss     float64     `json:"stop_loss"`
	TakeProfit   float64     `json:"take_profit"`
	ExitPrice    float64     `json:"exit_price,omitempty"`
	RiskAmount   float64     `json:"risk_amount"`
	Timestamp    time.Time   `json:"timestamp"`
	CloseTime    *time.Time  `json:"close_time,omitempty"`
	CloseAt      time.Time   `json:"close_at"`
	Status       TradeStatus `json:"status"`
	PnL          float64     `json:"pnl"`
	CloseReason  string      `json:"close_reason,omitempty"`
	Outcome      Outcome     `json:"outcome"`
	SignalScore  int         `json:"signal_score"`
	Strength     Strength    `json:"strength"`
	CounterTrend bool        `json:"counter_trend"`
	Simulated    bool        `json:"simulated"`
}

// Balance 虚拟账户余额
type Balance struct {
	Quote float64 `json:"usdt"`
	Base  float64 `json:"btc"`
}

// Equity values the balance at the given base-asset price.
func (b Balance) Equity(price float64) float64 {
	return b.Quote + b.Base*price
}

// PerformanceStats is recomputed wholesale from the closed trades.
type PerformanceStats struct {
	TotalTrades       int     `json:"total_trades"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	WinRate           float64 `json:"win_rate"` // percent
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	Expectancy        float64 `json:"expectancy"`
	NetProfit         float64 `json:"net_profit"`
	BestTrade         float64 `json:"best_trade"`
	WorstTrade        float64 `json:"worst_trade"`
	MaxDrawdown       float64 `json:"max_drawdown"` // percent
	ConsecutiveLosses int     `json:"consecutive_losses"`
}

// WinRateSnapshot is the win rate over one rolling window.
type WinRateSnapshot struct {
	Period        string    `json:"period"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	WinRate       float64   `json:"win_rate"`
	CalculatedAt  time.Time `json:"calculated_at"`
}

// BotStatus is what the display shows about the scheduler.
type BotStatus struct {
	Running      bool      `json:"running"`
	Banner       string    `json:"banner,omitempty"`
	LastCycle    time.Time `json:"last_cycle"`
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	Preset       string    `json:"preset"`
	Profile      string    `json:"profile"`
	OpenTrades   int       `json:"open_trades"`
	CurrentPrice float64   `json:"current_price"`
	Balance      Balance   `json:"balance"`
}
