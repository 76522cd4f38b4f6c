package api

import (
	"context"
	"errors"
	"net/http"
	"time"
	"trader-bot/internal/auth"
	"trader-bot/internal/events"
	"trader-bot/internal/logger"
	"trader-bot/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BotAPI defines the methods the bot must expose to the API
type BotAPI interface {
	Start() error
	Stop()
	Refresh()
	Reset()
	UpdateSettings(settings models.Settings) error
	Settings() models.Settings
	Status() models.BotStatus
	Trades() []models.Trade
	Signals() []models.Signal
	Performance() (models.PerformanceStats, models.Balance)
}

// Sources are the read-only feeds that do not belong to the bot itself.
type Sources struct {
	WinRates func() []models.WinRateSnapshot
	Logs     func() []logger.Entry
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	bot        BotAPI
	jwt        *auth.JWTManager // nil when auth is disabled
	hub        *WSHub
	sources    Sources
	logger     *zap.Logger
}

// NewServer creates the API server and subscribes its WebSocket hub to the bus.
func NewServer(addr string, bot BotAPI, jwt *auth.JWTManager, bus *events.EventBus, sources Sources, lg *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	if sources.WinRates == nil {
		sources.WinRates = func() []models.WinRateSnapshot { return nil }
	}
	if sources.Logs == nil {
		sources.Logs = logger.Recent
	}

	s := &Server{
		router:  router,
		bot:     bot,
		jwt:     jwt,
		hub:     NewWSHub(lg),
		sources: sources,
		logger:  lg,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if bus != nil {
		bus.SubscribeAll(s.hub.BroadcastEvent)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	api.POST("/auth/login", s.handleLogin)

	protected := api.Group("")
	if s.jwt != nil {
		protected.Use(auth.Middleware(s.jwt))
	}
	protected.GET("/status", s.handleStatus)
	protected.GET("/trades", s.handleTrades)
	protected.GET("/signals", s.handleSignals)
	protected.GET("/performance", s.handlePerformance)
	protected.GET("/logs", s.handleLogs)
	protected.GET("/winrates", s.handleWinRates)
	protected.GET("/settings", s.handleGetSettings)
	protected.PUT("/settings", s.handleUpdateSettings)
	protected.POST("/bot/start", s.handleStart)
	protected.POST("/bot/stop", s.handleStop)
	protected.POST("/bot/refresh", s.handleRefresh)
	protected.POST("/bot/reset", s.handleReset)

	ws := s.router.Group("/ws")
	if s.jwt != nil {
		ws.Use(auth.Middleware(s.jwt))
	}
	ws.GET("", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and serves HTTP until Shutdown.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("API server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every WebSocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.httpServer.Shutdown(ctx)
}
