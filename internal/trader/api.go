package trader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/exchange"
	"voice-trade-bot-go/internal/models"
	"voice-trade-bot-go/internal/risk"
	"voice-trade-bot-go/internal/validate"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIServer provides an HTTP interface for the trading engine.
type APIServer struct {
	server   *http.Server
	router   *gin.Engine
	engine   *Engine
	executor *Executor
	commands *CommandService
	logger   *zap.Logger
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(port int, engine *Engine, executor *Executor, commands *CommandService, logger *zap.Logger) *APIServer {
	gin.SetMode(gin.ReleaseMode)
	s := &APIServer{
		router:   gin.New(),
		engine:   engine,
		executor: executor,
		commands: commands,
		logger:   logger.Named("api-server"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.RegisterRoutes(s.router)
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// RegisterRoutes registers the control endpoints on r.
func (s *APIServer) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", s.health)
	r.GET("/status", s.status)
	r.GET("/balance", s.balance)

	r.GET("/orders", s.listOrders)
	r.POST("/orders", s.placeOrder)
	r.GET("/orders/:id", s.getOrder)
	r.POST("/orders/:id/cancel", s.cancelOrder)

	r.GET("/positions", s.listPositions)
	r.POST("/positions/close", s.closePositions)
	r.PUT("/positions/:id/protection", s.setProtection)

	r.GET("/trades", s.listTrades)
	r.GET("/stats/daily", s.dailyStats)

	r.POST("/commands", s.runCommand)
	r.POST("/emergency", s.emergency)
	r.PUT("/paper-trading", s.setPaperTrading)
	r.POST("/paper/reset", s.resetPaper)
	r.GET("/settings", s.listSettings)
	r.PUT("/settings/:key", s.setSetting)
	r.DELETE("/settings/:key", s.deleteSetting)
	r.GET("/logs", s.systemLogs)

	r.GET("/exchanges", s.listExchanges)

	r.POST("/exchanges/:name/keys", s.saveKeys)
	r.DELETE("/exchanges/:name/keys", s.deleteKeys)
	r.POST("/exchanges/:name/connect", s.connect)
	r.POST("/exchanges/:name/disconnect", s.disconnect)
	r.PUT("/exchanges/:name/active", s.setActive)
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// statusCode maps domain errors to HTTP status codes.
func statusCode(err error) int {
	var limit *risk.LimitError
	switch {
	case errors.As(err, &limit), errors.Is(err, ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotCancellable), errors.Is(err, exchange.ErrNotConnected), errors.Is(err, ErrPaperPositionsOpen):
		return http.StatusConflict
	case errors.Is(err, ErrOrderValidation), errors.Is(err, exchange.ErrUnsupportedExchange),
		errors.Is(err, exchange.ErrUnknownSymbol), errors.Is(err, database.ErrNoCredentials):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound), errors.Is(err, ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, ErrOrderExecution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) fail(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func limitQuery(c *gin.Context, def int) (int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit < 1 || limit > 1000 {
		badRequest(c, "invalid limit")
		return 0, false
	}
	return limit, true
}

func (s *APIServer) health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *APIServer) status(c *gin.Context) {
	ctx := c.Request.Context()
	exchanges, err := s.executor.exchanges.Status(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	open, err := s.executor.store.CountOpenPositions(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	pending, err := s.executor.store.CountPendingOrders(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{
		"paper_trading":  s.executor.PaperTrading(),
		"paper_realized": s.executor.PaperRealizedPnL(),
		"exchanges":      exchanges,
		"open_positions": open,
		"pending_orders": pending,
		"risk_limits":    s.executor.risk.Limits(ctx),
	}
	if s.engine != nil {
		resp["uuid"] = s.engine.UUID
		resp["name"] = s.engine.Name
		resp["running"] = s.engine.Running()
		resp["start_time"] = s.engine.StartTime.Format(time.RFC3339)
		resp["uptime"] = time.Since(s.engine.StartTime).Round(time.Second).String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) balance(c *gin.Context) {
	b, err := s.executor.Balance(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": b, "paper_trading": s.executor.PaperTrading()})
}

func (s *APIServer) listOrders(c *gin.Context) {
	limit, ok := limitQuery(c, 50)
	if !ok {
		return
	}
	var paper *bool
	if v := c.Query("paper"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid paper filter")
			return
		}
		paper = &b
	}
	orders, err := s.executor.store.RecentOrders(c.Request.Context(), limit, paper)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *APIServer) placeOrder(c *gin.Context) {
	var p OrderParams
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	if p.Source == "" {
		p.Source = "api"
	}

	var (
		res *OrderResult
		err error
	)
	if strings.EqualFold(p.OrderType, models.OrderTypeLimit) {
		res, err = s.executor.ExecuteLimitOrder(c.Request.Context(), p)
	} else {
		res, err = s.executor.ExecuteMarketOrder(c.Request.Context(), p)
	}
	if err != nil {
		c.JSON(statusCode(err), res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *APIServer) getOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	order, err := s.executor.GetOrderStatus(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *APIServer) cancelOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	order, err := s.executor.CancelOrder(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *APIServer) listPositions(c *gin.Context) {
	status := c.DefaultQuery("status", models.PositionStatusOpen)
	if status != models.PositionStatusOpen && status != models.PositionStatusClosed {
		badRequest(c, "status must be open or closed")
		return
	}
	positions, err := s.executor.store.ListPositions(c.Request.Context(), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

type closeRequest struct {
	Symbol string `json:"symbol"`
}

func (s *APIServer) closePositions(c *gin.Context) {
	var req closeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	var (
		results []*OrderResult
		err     error
	)
	if req.Symbol != "" {
		results, err = s.executor.ClosePosition(c.Request.Context(), req.Symbol)
	} else {
		results, err = s.executor.CloseAllPositions(c.Request.Context())
	}
	if err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error(), "results": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type protectionRequest struct {
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
}

func (s *APIServer) setProtection(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req protectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	for _, v := range []*float64{req.StopLoss, req.TakeProfit} {
		if v == nil {
			continue
		}
		if err := validate.Price(*v, 0, 0); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	if err := s.executor.store.SetProtection(ctx, id, req.StopLoss, req.TakeProfit); err != nil {
		s.fail(c, err)
		return
	}
	p, err := s.executor.store.GetPosition(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *APIServer) listTrades(c *gin.Context) {
	limit, ok := limitQuery(c, 50)
	if !ok {
		return
	}
	trades, err := s.executor.store.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *APIServer) dailyStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 || days > 366 {
		badRequest(c, "invalid days")
		return
	}
	stats, err := s.executor.store.RecentDailyStats(c.Request.Context(), days)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type commandRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *APIServer) runCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := s.commands.Handle(c.Request.Context(), req.Text)
	switch {
	case err != nil:
		c.JSON(statusCode(err), gin.H{"error": err.Error(), "result": res})
	case len(res.Problems) > 0:
		c.JSON(http.StatusUnprocessableEntity, res)
	default:
		c.JSON(http.StatusOK, res)
	}
}

func (s *APIServer) emergency(c *gin.Context) {
	report := s.executor.EmergencyStop(c.Request.Context())
	c.JSON(http.StatusOK, report)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *APIServer) setPaperTrading(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.executor.SetPaperTrading(c.Request.Context(), *req.Enabled); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paper_trading": *req.Enabled})
}

func (s *APIServer) listSettings(c *gin.Context) {
	settings, err := s.executor.store.ListSettings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// deleteSetting removes a stored setting. Risk rules without a setting are
// disabled.
func (s *APIServer) deleteSetting(c *gin.Context) {
	key := c.Param("key")
	if key == database.SettingPaperTrading {
		badRequest(c, "use PUT /paper-trading to change the trading mode")
		return
	}
	ctx := c.Request.Context()
	if err := s.executor.store.DeleteSetting(ctx, key); err != nil {
		s.fail(c, err)
		return
	}
	s.executor.store.InsertSystemLog(ctx, "INFO", "setting deleted", map[string]interface{}{"key": key})
	c.JSON(http.StatusOK, gin.H{"key": key, "deleted": true})
}

func (s *APIServer) systemLogs(c *gin.Context) {
	limit, ok := limitQuery(c, 100)
	if !ok {
		return
	}
	logs, err := s.executor.store.RecentSystemLogs(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

type resetRequest struct {
	Balance float64 `json:"balance" binding:"required"`
}

func (s *APIServer) resetPaper(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.executor.ResetPaper(c.Request.Context(), req.Balance); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.executor.paper.Balance())
}

type settingRequest struct {
	Value string `json:"value"`
}

func (s *APIServer) setSetting(c *gin.Context) {
	key := c.Param("key")
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	if key == database.SettingPaperTrading {
		enabled, err := strconv.ParseBool(req.Value)
		if err != nil {
			badRequest(c, "value must be true or false")
			return
		}
		if err := s.executor.SetPaperTrading(ctx, enabled); err != nil {
			s.fail(c, err)
			return
		}
	} else if err := s.executor.store.SetSetting(ctx, key, req.Value); err != nil {
		s.fail(c, err)
		return
	}
	s.executor.store.InsertSystemLog(ctx, "INFO", "setting updated", map[string]interface{}{"key": key, "value": req.Value})
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}

type keysRequest struct {
	APIKey     string `json:"api_key" binding:"required"`
	SecretKey  string `json:"secret_key" binding:"required"`
	Passphrase string `json:"passphrase"`
	Testnet    *bool  `json:"testnet"`
}

func (s *APIServer) saveKeys(c *gin.Context) {
	name := strings.ToLower(c.Param("name"))
	if err := validate.ExchangeName(name); err != nil {
		badRequest(c, err.Error())
		return
	}
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := validate.APIKey(req.APIKey); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := validate.SecretKey(req.SecretKey); err != nil {
		badRequest(c, err.Error())
		return
	}
	testnet := s.executor.exchanges.Testnet()
	if req.Testnet != nil {
		testnet = *req.Testnet
	}

	creds := database.Credentials{APIKey: req.APIKey, SecretKey: req.SecretKey, Passphrase: req.Passphrase}
	if err := s.executor.store.SaveAPIKeys(c.Request.Context(), name, creds, testnet); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": name, "configured": true, "testnet": testnet})
}

func (s *APIServer) listExchanges(c *gin.Context) {
	rows, err := s.executor.store.ListExchanges(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": rows, "active": s.executor.exchanges.Active()})
}

func (s *APIServer) deleteKeys(c *gin.Context) {
	name := strings.ToLower(c.Param("name"))
	ctx := c.Request.Context()
	if err := s.executor.exchanges.Disconnect(ctx, name); err != nil && !errors.Is(err, exchange.ErrNotConnected) {
		s.fail(c, err)
		return
	}
	if err := s.executor.store.DeleteAPIKeys(ctx, name); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": name, "configured": false})
}

func (s *APIServer) connect(c *gin.Context) {
	name := strings.ToLower(c.Param("name"))
	if err := s.executor.exchanges.ConnectStored(c.Request.Context(), name); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": name, "connected": true, "active": s.executor.exchanges.Active()})
}

func (s *APIServer) disconnect(c *gin.Context) {
	name := strings.ToLower(c.Param("name"))
	if err := s.executor.exchanges.Disconnect(c.Request.Context(), name); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": name, "connected": false, "active": s.executor.exchanges.Active()})
}

func (s *APIServer) setActive(c *gin.Context) {
	name := strings.ToLower(c.Param("name"))
	if err := s.executor.exchanges.SetActive(c.Request.Context(), name); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": name, "active": true})
}
