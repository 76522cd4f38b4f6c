package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"trader-bot/internal/config"
	"trader-bot/internal/events"
	"trader-bot/internal/indicator"
	"trader-bot/internal/market"
	"trader-bot/internal/models"
	"trader-bot/internal/persistence"
	"trader-bot/internal/reporter"
	"trader-bot/internal/scorer"
	"trader-bot/internal/simulator"
	"trader-bot/internal/statemanager"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	hourlyInterval = "1h"
	dailyInterval  = "1d"

	statusInterval = 5 * time.Minute
)

// signalGenerator is the part of the scorer the cycle depends on.
type signalGenerator interface {
	Generate(primary, h1, d1 *models.IndicatorSet, last models.Candle) *models.Signal
	Preset() scorer.Preset
}

// HistoryWriter is the relational history. All calls are fire-and-forget.
type HistoryWriter interface {
	InsertTrade(ctx context.Context, t *models.Trade) error
	UpdateTrade(ctx context.Context, t *models.Trade) error
	InsertPerformanceSnapshot(ctx context.Context, stats models.PerformanceStats, balance models.Balance, at time.Time) error
	InsertBalanceSnapshot(ctx context.Context, balance models.Balance, price float64, at time.Time) error
	InsertBotLog(ctx context.Context, level, message string, data map[string]interface{}, at time.Time) error
}

// WinRates is the rolling win-rate service.
type WinRates interface {
	Trigger()
	Latest() []models.WinRateSnapshot
}

// StreamRunner keeps a live kline subscription open until ctx is done.
type StreamRunner interface {
	Run(ctx context.Context)
}

// StreamFactory opens a kline stream for the primary timeframe.
type StreamFactory func(symbol, interval string, onCandle func(models.Candle)) StreamRunner

// Deps are the collaborators of the bot. History, WinRates and Stream may be nil.
type Deps struct {
	Source   market.Source
	State    *statemanager.StateManager
	Repo     persistence.StateRepository
	History  HistoryWriter
	Bus      *events.EventBus
	WinRates WinRates
	Stream   StreamFactory
	Rand     *rand.Rand
}

// SignalBot 定时拉取行情、计算指标、生成信号并开模拟仓
type SignalBot struct {
	config   models.Config
	banner   error
	scorer   signalGenerator
	source   market.Source
	state    *statemanager.StateManager
	repo     persistence.StateRepository
	history  HistoryWriter
	bus      *events.EventBus
	winRates WinRates
	stream   StreamFactory
	rng      *rand.Rand
	window   *market.Window

	mutex        sync.RWMutex
	isRunning    bool
	stopChannel  chan struct{}
	streamCancel context.CancelFunc
	loopDone     chan struct{}
	currentPrice float64
	lastCycle    time.Time

	cycleRunning atomic.Bool

	// resetMu orders Reset against opening and closing trades.
	// Lock order: resetMu, then the state manager or timersMu.
	resetMu sync.Mutex

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	// insert writes still in flight, so a trade's update never overtakes its insert
	insertsMu      sync.Mutex
	pendingInserts map[string]chan struct{}

	background sync.WaitGroup
	interval   time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewSignalBot creates the bot. An invalid configuration does not fail
// construction; it becomes the banner and Start refuses until it is fixed.
// Open simulated trades restored from the session get their close timers back.
func NewSignalBot(cfg models.Config, deps Deps, logger *zap.Logger) *SignalBot {
	b := &SignalBot{
		config:   cfg,
		source:   deps.Source,
		state:    deps.State,
		repo:     deps.Repo,
		history:  deps.History,
		bus:      deps.Bus,
		winRates: deps.WinRates,
		stream:   deps.Stream,
		rng:      deps.Rand,
		window:   market.NewWindow(market.WindowSize),
		timers:   make(map[string]*time.Timer),
		interval: config.CycleIntervalSec * time.Second,
		now:      time.Now,
		logger:   logger,

		pendingInserts: make(map[string]chan struct{}),
	}
	if b.bus == nil {
		b.bus = events.NewEventBus()
	}

	b.banner = config.Validate(&b.config)
	if gen, err := newScorer(b.config.Settings(), logger); err != nil {
		if b.banner == nil {
			b.banner = err
		}
	} else {
		b.scorer = gen
	}
	if _, err := simulator.ProfileByName(b.config.SimProfile); err != nil && b.banner == nil {
		b.banner = fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	if b.banner != nil {
		b.logger.Error("配置错误，机器人无法启动", zap.Error(b.banner))
	}

	for _, t := range b.state.OpenTrades() {
		if t.Simulated {
			b.scheduleClose(t)
		}
	}
	return b
}

func newScorer(s models.Settings, logger *zap.Logger) (*scorer.Scorer, error) {
	preset, err := scorer.PresetByName(s.ScorerPreset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	return scorer.New(preset, s.Symbol, s.Timeframe, logger), nil
}

// Start 启动机器人：立即执行一轮，然后每个周期执行一次
func (b *SignalBot) Start() error {
	b.mutex.Lock()
	if b.isRunning {
		b.mutex.Unlock()
		return models.ErrBotRunning
	}
	if b.banner != nil {
		err := b.banner
		b.mutex.Unlock()
		return err
	}
	b.isRunning = true
	b.stopChannel = make(chan struct{})
	b.loopDone = make(chan struct{})
	stop, done := b.stopChannel, b.loopDone
	b.startStreamLocked()
	b.mutex.Unlock()

	go b.strategyLoop(stop, done)

	b.record(zap.InfoLevel, "机器人已启动", nil)
	b.bus.PublishStatus(events.EventBotStarted, b.Status())
	return nil
}

// Stop 停止周期任务。已开仓位的平仓定时器继续运行。
func (b *SignalBot) Stop() {
	b.mutex.Lock()
	if !b.isRunning {
		b.mutex.Unlock()
		return
	}
	b.isRunning = false
	close(b.stopChannel)
	done := b.loopDone
	b.stopStreamLocked()
	b.mutex.Unlock()

	<-done
	b.record(zap.InfoLevel, "机器人已停止", nil)
	b.bus.PublishStatus(events.EventBotStopped, b.Status())
}

// Close stops the bot, cancels pending closes and waits for history writes.
func (b *SignalBot) Close() {
	b.Stop()
	b.cancelAllTimers()
	b.background.Wait()
}

// Refresh runs one cycle now without waiting for it.
func (b *SignalBot) Refresh() {
	go b.runCycle()
}

// Reset cancels every pending close and restores the initial session.
func (b *SignalBot) Reset() {
	b.resetMu.Lock()
	n := b.cancelAllTimers()
	b.state.Reset()
	b.insertsMu.Lock()
	b.pendingInserts = make(map[string]chan struct{})
	b.insertsMu.Unlock()
	b.resetMu.Unlock()

	b.record(zap.InfoLevel, "模拟账户已重置", map[string]interface{}{"cancelled_timers": n})
	b.bus.PublishStatus(events.EventBotReset, b.Status())
	b.publishPerformance(b.CurrentPrice())
}

// UpdateSettings validates and applies runtime settings and persists them.
func (b *SignalBot) UpdateSettings(s models.Settings) error {
	if err := config.ValidateSettings(s); err != nil {
		return err
	}
	gen, err := newScorer(s, b.logger)
	if err != nil {
		return err
	}
	profile, err := simulator.ProfileByName(s.SimProfile)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}

	b.mutex.Lock()
	previous := b.config.Settings()
	b.config.ApplySettings(s)
	b.scorer = gen
	b.banner = config.Validate(&b.config)
	if profile.Name != previous.SimProfile {
		b.state.SetSimulator(simulator.New(profile, b.rng, b.logger))
	}
	if b.isRunning && (s.Symbol != previous.Symbol || s.Timeframe != previous.Timeframe) {
		b.stopStreamLocked()
		b.window = market.NewWindow(market.WindowSize)
		b.startStreamLocked()
	}
	b.mutex.Unlock()

	if b.repo != nil {
		if err := b.repo.SaveSettings(&s); err != nil {
			b.logger.Warn("保存设置失败", zap.Error(err))
		}
	}
	b.record(zap.InfoLevel, "设置已更新", map[string]interface{}{
		"symbol": s.Symbol, "timeframe": s.Timeframe, "preset": s.ScorerPreset, "profile": s.SimProfile,
	})
	return nil
}

// Settings returns the current runtime settings.
func (b *SignalBot) Settings() models.Settings {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.config.Settings()
}

// IsRunning reports whether the cycle loop is active.
func (b *SignalBot) IsRunning() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.isRunning
}

// CurrentPrice is the last known close of the primary timeframe.
func (b *SignalBot) CurrentPrice() float64 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.currentPrice
}

// Status summarizes the bot for the display.
func (b *SignalBot) Status() models.BotStatus {
	b.mutex.RLock()
	status := models.BotStatus{
		Running:      b.isRunning,
		LastCycle:    b.lastCycle,
		Symbol:       b.config.Symbol,
		Timeframe:    b.config.Timeframe,
		Preset:       b.config.ScorerPreset,
		Profile:      b.config.SimProfile,
		CurrentPrice: b.currentPrice,
	}
	if b.banner != nil {
		status.Banner = b.banner.Error()
	}
	b.mutex.RUnlock()

	status.OpenTrades = b.state.OpenCount()
	status.Balance = b.state.Balance()
	return status
}

// Trades returns every trade in the session, oldest first.
func (b *SignalBot) Trades() []models.Trade {
	return b.state.GetStateSnapshot().Trades
}

// Signals returns the recent signals, newest first.
func (b *SignalBot) Signals() []models.Signal {
	return b.state.GetStateSnapshot().Signals
}

// Performance recomputes the statistics from the session.
func (b *SignalBot) Performance() (models.PerformanceStats, models.Balance) {
	return b.state.Stats(), b.state.Balance()
}

// strategyLoop 是机器人的主循环
func (b *SignalBot) strategyLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	b.runCycle()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.runCycle()
		case <-status.C:
			b.printStatus()
		}
	}
}

// runCycle executes one fetch → indicators → signal → trade → stats pass.
// A tick that arrives while a cycle is still running is skipped.
func (b *SignalBot) runCycle() {
	if !b.cycleRunning.CompareAndSwap(false, true) {
		b.logger.Debug("上一轮尚未结束，跳过本轮")
		return
	}
	defer b.cycleRunning.Store(false)
	defer func() {
		if r := recover(); r != nil {
			b.record(zap.ErrorLevel, "周期执行异常", map[string]interface{}{"panic": fmt.Sprint(r)})
		}
	}()

	b.mutex.RLock()
	cfg := b.config
	gen := b.scorer
	window := b.window
	b.mutex.RUnlock()
	if gen == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.FetchTimeoutSec)*time.Second)
	primary, h1, d1, err := b.fetch(ctx, cfg)
	cancel()
	if err != nil {
		b.record(zap.WarnLevel, "行情获取失败，跳过本轮", map[string]interface{}{"error": err.Error()})
		return
	}

	window.Replace(primary)
	candles := window.Candles()
	last := candles[len(candles)-1]
	price := last.Close

	b.mutex.Lock()
	b.currentPrice = price
	b.mutex.Unlock()

	primarySet := b.compute("primary", candles, cfg.Indicators)
	h1Set := b.compute(hourlyInterval, h1, cfg.Indicators)
	d1Set := b.compute(dailyInterval, d1, cfg.Indicators)

	if signal := gen.Generate(primarySet, h1Set, d1Set, last); signal != nil {
		b.onSignal(signal, price, cfg)
	}

	for _, closed := range b.state.CheckCrossings(price) {
		b.onClosed(closed)
	}

	b.publishPerformance(price)

	b.mutex.Lock()
	b.lastCycle = b.now()
	b.mutex.Unlock()
}

func (b *SignalBot) fetch(ctx context.Context, cfg models.Config) (primary, h1, d1 []models.Candle, err error) {
	if primary, err = b.source.GetCandles(ctx, cfg.Symbol, cfg.Timeframe, market.PrimaryLimit); err != nil {
		return nil, nil, nil, err
	}
	if len(primary) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: empty %s window", models.ErrDataFetch, cfg.Timeframe)
	}
	if h1, err = b.source.GetCandles(ctx, cfg.Symbol, hourlyInterval, market.HourlyLimit); err != nil {
		return nil, nil, nil, err
	}
	if d1, err = b.source.GetCandles(ctx, cfg.Symbol, dailyInterval, market.DailyLimit); err != nil {
		return nil, nil, nil, err
	}
	return primary, h1, d1, nil
}

// compute returns nil (the empty set) when the window is too short.
func (b *SignalBot) compute(name string, candles []models.Candle, cfg models.IndicatorConfig) *models.IndicatorSet {
	set, err := indicator.Compute(candles, cfg)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientData) {
			b.logger.Info("K线数量不足，跳过指标计算", zap.String("timeframe", name), zap.Int("candles", len(candles)))
		} else {
			b.logger.Error("指标计算失败", zap.String("timeframe", name), zap.Error(err))
		}
		return nil
	}
	return set
}

func (b *SignalBot) onSignal(signal *models.Signal, price float64, cfg models.Config) {
	b.state.RecordSignal(*signal)
	b.bus.PublishSignal(*signal)
	b.record(zap.InfoLevel, fmt.Sprintf("%s 信号 (评分 %d, %s)", signal.Type, signal.Score, signal.Strength), map[string]interface{}{
		"price": signal.Price, "counter_trend": signal.CounterTrend, "preset": signal.Preset,
	})

	risk := simulator.RiskSettings{
		FixedBalance:   cfg.FixedBalance,
		RiskPerTrade:   cfg.RiskPerTrade,
		RiskRewardRate: cfg.RiskRewardRate,
	}
	b.resetMu.Lock()
	defer b.resetMu.Unlock()
	trade, err := b.state.OpenFromSignal(signal, price, risk)
	if err != nil {
		if errors.Is(err, models.ErrOpenTradeCap) {
			b.logger.Info("已达最大持仓数，忽略信号", zap.Int("max_open", config.MaxOpenTrades))
		} else {
			b.record(zap.ErrorLevel, "模拟开仓失败", map[string]interface{}{"error": err.Error()})
		}
		return
	}

	opened := *trade
	if b.history != nil {
		done := make(chan struct{})
		b.insertsMu.Lock()
		b.pendingInserts[opened.ID] = done
		b.insertsMu.Unlock()
		b.persist(func(ctx context.Context, h HistoryWriter) error {
			defer close(done)
			return h.InsertTrade(ctx, &opened)
		})
	}
	b.bus.PublishTradeOpened(opened)
	b.record(zap.InfoLevel, fmt.Sprintf("开仓 %s %s @ %.2f", trade.Type, trade.ID, trade.EntryPrice), map[string]interface{}{
		"stop_loss": trade.StopLoss, "take_profit": trade.TakeProfit, "quantity": trade.Quantity,
	})
	b.scheduleClose(opened)
}

func (b *SignalBot) onClosed(trade models.Trade) {
	b.bus.PublishTradeClosed(trade)
	b.record(zap.InfoLevel, fmt.Sprintf("平仓 %s %s, PnL %.2f", trade.ID, trade.CloseReason, trade.PnL), nil)
	b.insertsMu.Lock()
	inserted := b.pendingInserts[trade.ID]
	delete(b.pendingInserts, trade.ID)
	b.insertsMu.Unlock()
	b.persistAfter(inserted, func(ctx context.Context, h HistoryWriter) error { return h.UpdateTrade(ctx, &trade) })
	if b.winRates != nil {
		b.winRates.Trigger()
	}
}

// scheduleClose arms the timer that materializes a simulated trade's outcome.
func (b *SignalBot) scheduleClose(trade models.Trade) {
	delay := trade.CloseAt.Sub(b.now())
	if delay < 0 {
		delay = 0
	}
	id := trade.ID

	b.timersMu.Lock()
	defer b.timersMu.Unlock()
	b.timers[id] = time.AfterFunc(delay, func() { b.closeTrade(id) })
}

func (b *SignalBot) closeTrade(id string) {
	b.resetMu.Lock()
	b.timersMu.Lock()
	if _, ok := b.timers[id]; !ok {
		// cancelled by Reset
		b.timersMu.Unlock()
		b.resetMu.Unlock()
		return
	}
	delete(b.timers, id)
	b.timersMu.Unlock()

	closed, err := b.state.CloseTrade(id, b.CurrentPrice())
	b.resetMu.Unlock()
	if err != nil {
		b.logger.Warn("模拟平仓失败", zap.String("id", id), zap.Error(err))
		return
	}
	b.onClosed(*closed)
	b.publishPerformance(b.CurrentPrice())
}

func (b *SignalBot) cancelAllTimers() int {
	b.timersMu.Lock()
	defer b.timersMu.Unlock()
	n := len(b.timers)
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	return n
}

func (b *SignalBot) pendingCloses() int {
	b.timersMu.Lock()
	defer b.timersMu.Unlock()
	return len(b.timers)
}

func (b *SignalBot) pendingCloseIDs() []string {
	b.timersMu.Lock()
	defer b.timersMu.Unlock()
	ids := make([]string, 0, len(b.timers))
	for id := range b.timers {
		ids = append(ids, id)
	}
	return ids
}

func (b *SignalBot) publishPerformance(price float64) {
	stats, balance := b.Performance()
	b.bus.PublishPerformance(stats, balance, price)

	at := b.now()
	b.persist(func(ctx context.Context, h HistoryWriter) error {
		if err := h.InsertPerformanceSnapshot(ctx, stats, balance, at); err != nil {
			return err
		}
		if price <= 0 {
			return nil
		}
		return h.InsertBalanceSnapshot(ctx, balance, price, at)
	})
}

// persist runs a history write in the background, bounded by the persistence timeout.
func (b *SignalBot) persist(write func(ctx context.Context, h HistoryWriter) error) {
	b.persistAfter(nil, write)
}

// persistAfter is persist, but the write starts only once wait is closed.
func (b *SignalBot) persistAfter(wait <-chan struct{}, write func(ctx context.Context, h HistoryWriter) error) {
	if b.history == nil {
		return
	}
	b.mutex.RLock()
	timeout := time.Duration(b.config.PersistenceTimeoutSec) * time.Second
	b.mutex.RUnlock()

	b.background.Add(1)
	go func() {
		defer b.background.Done()
		if wait != nil {
			<-wait
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := write(ctx, b.history); err != nil {
			b.logger.Warn("写入历史记录失败", zap.Error(fmt.Errorf("%w: %v", models.ErrPersistence, err)))
		}
	}()
}

// record logs a display-level event, publishes it and stores it as a bot log.
func (b *SignalBot) record(level zapcore.Level, message string, data map[string]interface{}) {
	fields := make([]zap.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}
	if ce := b.logger.Check(level, message); ce != nil {
		ce.Write(fields...)
	}

	lvl := strings.ToLower(level.String())
	b.bus.PublishLog(lvl, message)
	at := b.now()
	b.persist(func(ctx context.Context, h HistoryWriter) error {
		return h.InsertBotLog(ctx, lvl, message, data, at)
	})
}

func (b *SignalBot) startStreamLocked() {
	if b.stream == nil || !b.config.StreamKlines {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.streamCancel = cancel
	window := b.window
	runner := b.stream(b.config.Symbol, b.config.Timeframe, func(c models.Candle) {
		if window.Apply(c) {
			b.mutex.Lock()
			if b.window == window {
				b.currentPrice = c.Close
			}
			b.mutex.Unlock()
		}
	})
	go runner.Run(ctx)
}

func (b *SignalBot) stopStreamLocked() {
	if b.streamCancel != nil {
		b.streamCancel()
		b.streamCancel = nil
	}
}

// printStatus 定期打印绩效表格
func (b *SignalBot) printStatus() {
	stats, balance := b.Performance()
	var winRates []models.WinRateSnapshot
	if b.winRates != nil {
		winRates = b.winRates.Latest()
	}
	var sb strings.Builder
	reporter.Render(&sb, "Performance", stats, balance, winRates)
	b.logger.Info("当前状态\n" + sb.String())
}
