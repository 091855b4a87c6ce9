package main

import (
	"net/http"
	"strconv"
	"time"

	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIHandler serves the read-only dashboard endpoints.
type APIHandler struct {
	log   *zap.Logger
	store *database.Store
	now   func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, store *database.Store) *APIHandler {
	return &APIHandler{log: log, store: store, now: time.Now}
}

// Register mounts the dashboard routes on r.
func (h *APIHandler) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.GET("/trades", h.TradesHandler)
	api.GET("/statistics", h.StatisticsHandler)
	api.GET("/positions", h.PositionsHandler)
	api.GET("/pnl", h.PnLHandler)
}

// TradesHandler returns recent fills, most recent first.
func (h *APIHandler) TradesHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	trades, err := h.store.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get trades"})
		return
	}
	c.JSON(http.StatusOK, trades)
}

// PositionsHandler returns the open positions.
func (h *APIHandler) PositionsHandler(c *gin.Context) {
	positions, err := h.store.OpenPositions(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to get positions from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get positions"})
		return
	}
	c.JSON(http.StatusOK, positions)
}

// PnLPoint is one closing fill on the cumulative PnL curve.
type PnLPoint struct {
	Time       time.Time `json:"time"`
	Symbol     string    `json:"symbol"`
	PnL        float64   `json:"pnl"`
	Cumulative float64   `json:"cumulative"`
}

// PnLHandler returns the cumulative realized PnL curve over the window given
// by the since query (a Go duration, default 24h).
func (h *APIHandler) PnLHandler(c *gin.Context) {
	window, err := time.ParseDuration(c.DefaultQuery("since", "24h"))
	if err != nil || window <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a positive duration"})
		return
	}
	trades, err := h.store.ClosingTradesSince(c.Request.Context(), h.now().Add(-window))
	if err != nil {
		h.log.Error("Failed to get trades for pnl curve", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get pnl"})
		return
	}
	points := make([]PnLPoint, 0, len(trades))
	var total float64
	for _, t := range trades {
		total += t.PnL
		points = append(points, PnLPoint{Time: t.CreatedAt, Symbol: t.Symbol, PnL: t.PnL, Cumulative: total})
	}
	c.JSON(http.StatusOK, points)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
	Commission       float64 `json:"commission"`
}

func (s *StatsDetail) add(t models.Trade) {
	s.TotalTrades++
	if t.PnL > 0 {
		s.ProfitableTrades++
	}
	s.TotalProfit += t.PnL
	s.Commission += t.Commission
}

func (s *StatsDetail) finish() {
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.ProfitableTrades) / float64(s.TotalTrades)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
	Paper    StatsDetail `json:"paper"`
	Live     StatsDetail `json:"live"`
}

// StatisticsHandler calculates win rate and profit over closing fills.
func (h *APIHandler) StatisticsHandler(c *gin.Context) {
	trades, err := h.store.ClosingTrades(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to calculate statistics"})
		return
	}
	c.JSON(http.StatusOK, computeStatistics(trades, h.now()))
}

func computeStatistics(trades []models.Trade, now time.Time) StatisticsResponse {
	since24h := now.Add(-24 * time.Hour)

	var resp StatisticsResponse
	for _, trade := range trades {
		resp.AllTime.add(trade)
		if trade.CreatedAt.After(since24h) {
			resp.Since24h.add(trade)
		}
		if trade.IsPaperTrade {
			resp.Paper.add(trade)
		} else {
			resp.Live.add(trade)
		}
	}
	resp.AllTime.finish()
	resp.Since24h.finish()
	resp.Paper.finish()
	resp.Live.finish()
	return resp
}
