package api

import (
	"errors"
	"net/http"
	"strconv"
	"trader-bot/internal/auth"
	"trader-bot/internal/models"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"remember_me"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.jwt == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, ttl, err := s.jwt.Login(req.Username, req.Password, req.RememberMe)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int64(ttl.Seconds()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.Status())
}

func (s *Server) handleTrades(c *gin.Context) {
	trades := s.bot.Trades()
	if status := c.Query("status"); status != "" {
		filtered := make([]models.Trade, 0, len(trades))
		for _, t := range trades {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(trades) {
		trades = trades[len(trades)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.bot.Signals()})
}

func (s *Server) handlePerformance(c *gin.Context) {
	stats, balance := s.bot.Performance()
	c.JSON(http.StatusOK, gin.H{"stats": stats, "balance": balance})
}

func (s *Server) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": s.sources.Logs()})
}

func (s *Server) handleWinRates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"winrates": s.sources.WinRates()})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.Settings())
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	settings := s.bot.Settings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.bot.UpdateSettings(settings); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.bot.Settings())
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.bot.Start(); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, models.ErrConfiguration), errors.Is(err, models.ErrBotRunning):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.bot.Status())
}

func (s *Server) handleStop(c *gin.Context) {
	s.bot.Stop()
	c.JSON(http.StatusOK, s.bot.Status())
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.bot.Refresh()
	c.JSON(http.StatusAccepted, gin.H{"message": "refresh scheduled"})
}

func (s *Server) handleReset(c *gin.Context) {
	s.bot.Reset()
	c.JSON(http.StatusOK, s.bot.Status())
}

// username returns the authenticated user, or "" when auth is disabled.
func username(c *gin.Context) string {
	return c.GetString(auth.ContextKeyUsername)
}
