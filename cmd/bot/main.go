package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"
	"trader-bot/internal/api"
	"trader-bot/internal/auth"
	"trader-bot/internal/bot"
	"trader-bot/internal/cache"
	"trader-bot/internal/config"
	"trader-bot/internal/events"
	"trader-bot/internal/logger"
	"trader-bot/internal/market"
	"trader-bot/internal/models"
	"trader-bot/internal/persistence"
	"trader-bot/internal/reporter"
	"trader-bot/internal/simulator"
	"trader-bot/internal/statemanager"
	"trader-bot/internal/storage"
	"trader-bot/internal/winrate"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "run", "running mode: run or report")
	flag.Parse()

	// 先用默认配置初始化日志，加载配置时就能记录
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.S().Fatalf("无法加载配置文件: %v", err)
		}
		logger.S().Warnf("未找到配置文件 %s，使用默认配置。", *configPath)
		cfg = config.Defaults()
	}
	config.ApplyEnv(cfg)

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("无法打开本地存储 %s: %v", cfg.DBPath, err)
	}
	defer repo.Close()

	switch *mode {
	case "run":
		runBotMode(cfg, repo)
	case "report":
		runReportMode(cfg, repo)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'run' 或 'report'。", *mode)
	}
}

// runBotMode 运行信号机器人及其 API
func runBotMode(cfg *models.Config, repo persistence.StateRepository) {
	logger.S().Info("--- 启动模拟交易模式 ---")

	if saved, err := repo.LoadSettings(); err != nil {
		logger.S().Warnf("无法加载已保存的设置: %v", err)
	} else if saved != nil {
		cfg.ApplySettings(*saved)
		logger.S().Info("已应用保存的运行时设置。")
	}

	session, err := repo.LoadSession()
	if err != nil {
		logger.S().Warnf("无法加载会话: %v，将以全新状态启动。", err)
		session = nil
	} else if session != nil {
		logger.S().Infof("已恢复会话 %s，共 %d 笔交易。", session.SessionID, len(session.Trades))
	}

	profile, err := simulator.ProfileByName(cfg.SimProfile)
	if err != nil {
		// 机器人会以横幅形式提示，直到设置被修正
		profile, _ = simulator.ProfileByName(simulator.DefaultProfile)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sim := simulator.New(profile, rng, logger.L())

	initial := models.Balance{Quote: cfg.InitialQuote, Base: cfg.InitialBase}
	state := statemanager.NewStateManager(initial, session, sim, repo, logger.L())
	state.Start()
	defer state.Stop()

	bus := events.NewEventBus()

	// --- 可选的 PostgreSQL 历史库 ---
	var (
		history    bot.HistoryWriter
		winHistory winrate.History
		winSink    winrate.Sink
	)
	if cfg.DatabaseURL != "" {
		store, err := openStore(cfg.DatabaseURL)
		if err != nil {
			logger.S().Warnf("PostgreSQL 不可用，历史记录将不会落库: %v", err)
		} else {
			defer store.Close()
			history, winHistory, winSink = store, store, store
		}
	}
	if winHistory == nil {
		winHistory = winrate.HistoryFunc(func(_ context.Context, since time.Time) ([]models.Trade, error) {
			var out []models.Trade
			for _, t := range state.GetStateSnapshot().Trades {
				if t.Status == models.TradeClosed && t.Timestamp.After(since) {
					out = append(out, t)
				}
			}
			return out, nil
		})
	}

	// --- 可选的 Redis 推送 ---
	if cfg.RedisAddr != "" {
		publisher := cache.NewPublisher(cfg.RedisAddr, cfg.RedisPass, logger.L())
		publisher.Attach(bus)
		defer publisher.Close()
	}

	persistTimeout := time.Duration(cfg.PersistenceTimeoutSec) * time.Second
	winRates := winrate.NewService(winHistory, winSink, bus.PublishWinRates, persistTimeout, logger.L())
	winRates.Start()
	defer winRates.Stop()

	source := market.NewBinanceSource(cfg.APIKey, cfg.SecretKey, cfg.IsTestnet, logger.L())
	pingCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.FetchTimeoutSec)*time.Second)
	if err := source.Ping(pingCtx); err != nil {
		logger.S().Warnf("无法连接币安行情接口: %v", err)
	}
	cancel()

	signalBot := bot.NewSignalBot(*cfg, bot.Deps{
		Source:   source,
		State:    state,
		Repo:     repo,
		History:  history,
		Bus:      bus,
		WinRates: winRates,
		Rand:     rng,
		Stream: func(symbol, interval string, onCandle func(models.Candle)) bot.StreamRunner {
			return market.NewStream(symbol, interval, onCandle, logger.L())
		},
	}, logger.L())
	defer signalBot.Close()

	var jwtManager *auth.JWTManager
	if cfg.AuthEnabled {
		secret := cfg.JWTSecret
		if secret == "" {
			// 仅用于保护 API, 重启后令牌失效
			secret = uuid.NewString()
			logger.S().Warn("JWT_SECRET 未设置，API 使用临时密钥。")
		}
		jwtManager = auth.NewJWTManager(secret, cfg.AdminUser, cfg.AdminPassword)
	}

	server := api.NewServer(cfg.HTTPAddr, signalBot, jwtManager, bus, api.Sources{
		WinRates: winRates.Latest,
		Logs:     logger.Recent,
	}, logger.L())
	go func() {
		if err := server.Start(); err != nil {
			logger.S().Errorf("API 服务异常退出: %v", err)
		}
	}()

	if err := signalBot.Start(); err != nil {
		logger.S().Warnf("机器人未启动: %v", err)
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.S().Warnf("API 服务关闭失败: %v", err)
	}
	signalBot.Stop()
	logger.S().Info("机器人已成功停止，状态已保存。")
}

func openStore(dsn string) (*storage.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := storage.NewStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// runReportMode 打印已保存会话的绩效报告
func runReportMode(cfg *models.Config, repo persistence.StateRepository) {
	session, err := repo.LoadSession()
	if err != nil {
		logger.S().Fatalf("无法加载会话: %v", err)
	}
	if session == nil {
		session = &models.Session{Balance: models.Balance{Quote: cfg.InitialQuote, Base: cfg.InitialBase}}
		logger.S().Info("没有已保存的会话。")
	}

	stats := reporter.ComputeStats(session.Trades, &session.Simulator)
	winRates := reporter.RollingWinRates(session.Trades, time.Now())
	title := fmt.Sprintf("%s %s (%s)", cfg.Symbol, cfg.Timeframe, cfg.SimProfile)
	reporter.Render(os.Stdout, title, stats, session.Balance, winRates)
}
