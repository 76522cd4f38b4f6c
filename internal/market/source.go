package market

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"trader-bot/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// 每个周期拉取的K线数量
const (
	PrimaryLimit = 100
	HourlyLimit  = 50
	DailyLimit   = 30
)

// Source 是行情数据来源
type Source interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// BinanceSource 通过币安公共接口获取K线
type BinanceSource struct {
	client     *binance.Client
	logger     *zap.Logger
	timeOffset int64
}

// NewBinanceSource 创建一个新的行情源。公共接口不需要API Key，但有就带上。
func NewBinanceSource(apiKey, secretKey string, testnet bool, logger *zap.Logger) *BinanceSource {
	binance.UseTestnet = testnet
	return &BinanceSource{
		client: binance.NewClient(apiKey, secretKey),
		logger: logger,
	}
}

// Ping 与币安服务器同步时间，用于启动时检查连通性。
func (s *BinanceSource) Ping(ctx context.Context) error {
	serverTime, err := s.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: server time: %v", models.ErrDataFetch, err)
	}
	s.timeOffset = serverTime - time.Now().UnixMilli()
	s.logger.Info("与币安服务器时间同步完成", zap.Int64("timeOffset (ms)", s.timeOffset))
	return nil
}

// GetCandles 获取最近 limit 根K线，按开盘时间升序
func (s *BinanceSource) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: klines %s %s: %v", models.ErrDataFetch, symbol, interval, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	now := time.Now().UnixMilli() + s.timeOffset
	for _, k := range klines {
		c, err := parseCandle(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", models.ErrDataFetch, symbol, interval, err)
		}
		c.IsFinal = k.CloseTime < now
		candles = append(candles, c)
	}
	return candles, nil
}

// parseCandle 把币安返回的字符串价格转为数值
func parseCandle(openTime, closeTime int64, open, high, low, close, volume string) (models.Candle, error) {
	c := models.Candle{OpenTime: openTime, CloseTime: closeTime}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", open, &c.Open},
		{"high", high, &c.High},
		{"low", low, &c.Low},
		{"close", close, &c.Close},
		{"volume", volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("malformed %s %q at %d", f.name, f.raw, openTime)
		}
		*f.dst = v
	}
	return c, nil
}
