package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"trader-bot/internal/auth"
	"trader-bot/internal/events"
	"trader-bot/internal/logger"
	"trader-bot/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBot struct {
	sync.Mutex
	running  bool
	banner   string
	settings models.Settings
	trades   []models.Trade
	resets   int
	refresh  int
}

func (f *fakeBot) Start() error {
	f.Lock()
	defer f.Unlock()
	if f.banner != "" {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, f.banner)
	}
	if f.running {
		return models.ErrBotRunning
	}
	f.running = true
	return nil
}

func (f *fakeBot) Stop() {
	f.Lock()
	defer f.Unlock()
	f.running = false
}

func (f *fakeBot) Refresh() {
	f.Lock()
	defer f.Unlock()
	f.refresh++
}

func (f *fakeBot) Reset() {
	f.Lock()
	defer f.Unlock()
	f.resets++
	f.trades = nil
}

func (f *fakeBot) UpdateSettings(s models.Settings) error {
	f.Lock()
	defer f.Unlock()
	if s.RiskPerTrade <= 0 {
		return fmt.Errorf("%w: risk per trade must be positive", models.ErrConfiguration)
	}
	f.settings = s
	return nil
}

func (f *fakeBot) Settings() models.Settings {
	f.Lock()
	defer f.Unlock()
	return f.settings
}

func (f *fakeBot) Status() models.BotStatus {
	f.Lock()
	defer f.Unlock()
	return models.BotStatus{Running: f.running, Banner: f.banner, Symbol: f.settings.Symbol}
}

func (f *fakeBot) Trades() []models.Trade {
	f.Lock()
	defer f.Unlock()
	return append([]models.Trade(nil), f.trades...)
}

func (f *fakeBot) Signals() []models.Signal { return []models.Signal{{Type: models.Buy, Score: 4}} }

func (f *fakeBot) Performance() (models.PerformanceStats, models.Balance) {
	return models.PerformanceStats{TotalTrades: 2}, models.Balance{Quote: 10000}
}

func newTestServer(t *testing.T, withAuth bool) (*Server, *fakeBot, *events.EventBus) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bot := &fakeBot{
		settings: models.Settings{Symbol: "BTCUSDT", Timeframe: "5m", RiskPerTrade: 1, RiskRewardRate: 2.5},
		trades: []models.Trade{
			{ID: "a", Status: models.TradeClosed},
			{ID: "b", Status: models.TradeOpen},
			{ID: "c", Status: models.TradeClosed},
		},
	}
	var jwt *auth.JWTManager
	if withAuth {
		jwt = auth.NewJWTManager("secret", "admin", "admin123")
	}
	bus := events.NewEventBus()
	srv := NewServer(":0", bot, jwt, bus, Sources{
		WinRates: func() []models.WinRateSnapshot { return []models.WinRateSnapshot{{Period: "1h", WinRate: 50}} },
		Logs:     func() []logger.Entry { return []logger.Entry{{Level: "info", Message: "hi"}} },
	}, zap.NewNop())
	return srv, bot, bus
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin", "password": "admin123"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	return resp.Token
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	h := srv.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin", "password": "x"}).Code)

	token := login(t, h)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/status", token, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", nil).Code)
}

func TestBotControl(t *testing.T) {
	srv, bot, _ := newTestServer(t, false)
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/api/bot/start", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":true`)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/bot/start", "", nil).Code)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/bot/stop", "", nil).Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/bot/refresh", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/bot/reset", "", nil).Code)
	assert.Equal(t, 1, bot.resets)
	assert.Equal(t, 1, bot.refresh)

	bot.banner = "missing API credentials"
	w = do(t, h, http.MethodPost, "/api/bot/start", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "missing API credentials")
}

func TestReadEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	h := srv.Handler()

	w := do(t, h, http.MethodGet, "/api/trades?status=CLOSED&limit=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trades struct {
		Trades []models.Trade `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	require.Len(t, trades.Trades, 1)
	assert.Equal(t, "c", trades.Trades[0].ID)

	for path, want := range map[string]string{
		"/api/signals":     `"score":4`,
		"/api/performance": `"total_trades":2`,
		"/api/logs":        `"message":"hi"`,
		"/api/winrates":    `"period":"1h"`,
		"/api/settings":    `"symbol":"BTCUSDT"`,
	} {
		w := do(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), want, path)
	}
}

func TestUpdateSettings(t *testing.T) {
	srv, bot, _ := newTestServer(t, false)
	h := srv.Handler()

	w := do(t, h, http.MethodPut, "/api/settings", "", gin.H{"risk_per_trade": 2})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, bot.Settings().RiskPerTrade)
	assert.Equal(t, "5m", bot.Settings().Timeframe)

	w = do(t, h, http.MethodPut, "/api/settings", "", gin.H{"risk_per_trade": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2.0, bot.Settings().RiskPerTrade)
}

func TestWebSocketStreamsEvents(t *testing.T) {
	srv, _, bus := newTestServer(t, true)
	go srv.hub.Run()
	defer srv.hub.Stop()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	token := login(t, srv.Handler())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var welcome map[string]interface{}
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "CONNECTED", welcome["type"])

	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	bus.PublishTradeOpened(models.Trade{ID: "SIM-9"})

	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.EventTradeOpened, ev.Type)
}
