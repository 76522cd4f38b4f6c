package config

import (
	"encoding/json"
	"fmt"
	"os"
	"trader-bot/internal/models"
)

// 固定参数，不可通过配置修改
const (
	MaxOpenTrades       = 3
	AntiStreakCeiling   = 12
	CycleIntervalSec    = 30
	MinIndicatorCandles = 30
)

// 主周期支持的K线间隔
var validTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "1d": true,
}

// Defaults 返回参考默认配置
func Defaults() *models.Config {
	return &models.Config{
		Symbol:         "BTCUSDT",
		Timeframe:      "5m",
		RiskPerTrade:   1,
		RiskRewardRate: 2.5,
		FixedBalance:   10000,
		InitialQuote:   10000,
		InitialBase:    0,
		ScorerPreset:   "relaxed-v2",
		SimProfile:     "classic",
		Indicators: models.IndicatorConfig{
			EMAShort:   9,
			EMALong:    21,
			RSI:        14,
			Stochastic: 14,
			MACDFast:   12,
			MACDSlow:   26,
			MACDSignal: 9,
			ATR:        14,
		},
		FetchTimeoutSec:       10,
		PersistenceTimeoutSec: 5,
		DBPath:                "data/badger",
		StreamKlines:          true,
		HTTPAddr:              ":8080",
		AuthEnabled:           true,
		LogConfig: models.LogConfig{
			Level:      "info",
			Output:     "console",
			File:       "logs/bot.log",
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 文件中未出现的字段保留默认值。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Defaults()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	return config, nil
}

// ApplyEnv 用环境变量覆盖密钥类配置
func ApplyEnv(cfg *models.Config) {
	cfg.APIKey = os.Getenv("BINANCE_API_KEY")
	cfg.SecretKey = os.Getenv("BINANCE_SECRET_KEY")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	cfg.RedisPass = os.Getenv("REDIS_PASSWORD")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.AdminUser = envOr("ADMIN_USERNAME", "admin")
	cfg.AdminPassword = envOr("ADMIN_PASSWORD", "admin123")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks the whole config. Every failure wraps models.ErrConfiguration.
func Validate(cfg *models.Config) error {
	if err := ValidateSettings(cfg.Settings()); err != nil {
		return err
	}
	if cfg.FixedBalance <= 0 {
		return configErr("fixed_balance must be positive")
	}
	if cfg.RequireCredentials && (cfg.APIKey == "" || cfg.SecretKey == "") {
		return configErr("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set")
	}
	if cfg.AuthEnabled && cfg.JWTSecret == "" {
		return configErr("JWT_SECRET must be set when auth is enabled")
	}
	return nil
}

// ValidateSettings checks the runtime-changeable subset.
func ValidateSettings(s models.Settings) error {
	if s.Symbol == "" {
		return configErr("symbol is required")
	}
	if !validTimeframes[s.Timeframe] {
		return configErr(fmt.Sprintf("unsupported timeframe %q", s.Timeframe))
	}
	if s.RiskPerTrade <= 0 || s.RiskPerTrade > 100 {
		return configErr("risk_per_trade must be in (0, 100]")
	}
	if s.RiskRewardRate <= 0 {
		return configErr("rrr must be positive")
	}

	ind := s.Indicators
	for name, p := range map[string]int{
		"ema_short": ind.EMAShort, "ema_long": ind.EMALong, "rsi": ind.RSI,
		"stochastic": ind.Stochastic, "macd_fast": ind.MACDFast, "macd_slow": ind.MACDSlow,
		"macd_signal": ind.MACDSignal, "atr": ind.ATR,
	} {
		if p <= 0 {
			return configErr(fmt.Sprintf("indicators.%s must be positive", name))
		}
	}
	if ind.EMAShort >= ind.EMALong {
		return configErr("indicators.ema_short must be below ema_long")
	}
	if ind.MACDFast >= ind.MACDSlow {
		return configErr("indicators.macd_fast must be below macd_slow")
	}
	if ind.EMALong > MinIndicatorCandles || ind.MACDSlow > MinIndicatorCandles {
		// 日线只拉取30根K线, 周期更长时永远算不出来
		return configErr(fmt.Sprintf("indicator periods must not exceed %d", MinIndicatorCandles))
	}
	if s.ScorerPreset == "" || s.SimProfile == "" {
		return configErr("scorer_preset and simulator_profile are required")
	}
	return nil
}

func configErr(msg string) error {
	return fmt.Errorf("%w: %s", models.ErrConfiguration, msg)
}
