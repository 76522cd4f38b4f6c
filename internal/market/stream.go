package market

import (
	"context"
	"time"
	"trader-bot/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

const reconnectDelay = 5 * time.Second

type klineServeFunc func(symbol, interval string, handler binance.WsKlineHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error)

// Stream 订阅币安实时K线，并把更新推给回调
type Stream struct {
	symbol   string
	interval string
	onCandle func(models.Candle)
	logger   *zap.Logger
	serve    klineServeFunc
	delay    time.Duration
}

// NewStream 创建K线订阅。onCandle 在 websocket 协程中被调用。
func NewStream(symbol, interval string, onCandle func(models.Candle), logger *zap.Logger) *Stream {
	return &Stream{
		symbol:   symbol,
		interval: interval,
		onCandle: onCandle,
		logger:   logger,
		serve:    binance.WsKlineServe,
		delay:    reconnectDelay,
	}
}

// Run 保持连接直到 ctx 取消，断线后自动重连
func (s *Stream) Run(ctx context.Context) {
	for {
		doneC, stopC, err := s.serve(s.symbol, s.interval, s.handle, func(err error) {
			s.logger.Warn("K线推送出错", zap.Error(err))
		})
		if err != nil {
			s.logger.Error("连接K线推送失败", zap.String("symbol", s.symbol), zap.Error(err))
		} else {
			s.logger.Info("K线推送已连接", zap.String("symbol", s.symbol), zap.String("interval", s.interval))
			select {
			case <-ctx.Done():
				close(stopC)
				<-doneC
				return
			case <-doneC:
				s.logger.Warn("K线推送连接断开，准备重连")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}
}

func (s *Stream) handle(event *binance.WsKlineEvent) {
	k := event.Kline
	c, err := parseCandle(k.StartTime, k.EndTime, k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		s.logger.Warn("忽略格式错误的K线推送", zap.Error(err))
		return
	}
	c.IsFinal = k.IsFinal
	s.onCandle(c)
}
