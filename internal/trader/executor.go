// Package trader executes orders and runs the trading loop, the text
// command service and the control API on top of the ledger.
package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/events"
	"voice-trade-bot-go/internal/exchange"
	"voice-trade-bot-go/internal/models"
	"voice-trade-bot-go/internal/paper"
	"voice-trade-bot-go/internal/position"
	"voice-trade-bot-go/internal/risk"
	"voice-trade-bot-go/internal/validate"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperExchange is the exchange name of orders and positions of the paper
// engine.
const PaperExchange = "paper"

// Amount types of OrderParams.
const (
	AmountUSD = "usd"
	AmountQty = "qty"
)

const (
	maxLeverage = 125
	epsilon     = 1e-9
)

var (
	ErrOrderValidation     = errors.New("order validation failed")
	ErrOrderExecution      = errors.New("order execution failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoPosition          = errors.New("no open position")
	ErrNotCancellable      = errors.New("only pending orders can be cancelled")
	ErrPaperPositionsOpen  = errors.New("paper positions are open")
)

// OrderParams is an order request from the API or a text command.
type OrderParams struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Amount        float64 `json:"amount"`
	AmountType    string  `json:"amount_type"`
	Leverage      int     `json:"leverage"`
	OrderType     string  `json:"order_type"`
	Price         float64 `json:"price,omitempty"`
	ReduceOnly    bool    `json:"reduce_only"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	VoiceCommand  string  `json:"voice_command,omitempty"`
	Source        string  `json:"source,omitempty"`
}

// OrderResult is the outcome of an order request.
type OrderResult struct {
	Success         bool    `json:"success"`
	OrderID         uint    `json:"order_id,omitempty"`
	ExchangeOrderID string  `json:"exchange_order_id,omitempty"`
	ClientOrderID   string  `json:"client_order_id,omitempty"`
	Exchange        string  `json:"exchange,omitempty"`
	Symbol          string  `json:"symbol,omitempty"`
	Side            string  `json:"side,omitempty"`
	Status          string  `json:"status,omitempty"`
	Quantity        float64 `json:"quantity,omitempty"`
	FilledQty       float64 `json:"filled_qty"`
	AvgPrice        float64 `json:"avg_price"`
	RealizedPnL     float64 `json:"realized_pnl"`
	IsPaper         bool    `json:"is_paper"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// route says where an order goes.
type route struct {
	paper    bool
	exchange string
}

// Executor places orders on the paper engine or the active exchange and
// keeps the ledger in step.
type Executor struct {
	cfg       config.Trading
	store     *database.Store
	exchanges *exchange.Manager
	paper     *paper.Engine
	risk      *risk.Manager
	ledger    *position.Ledger
	events    events.Publisher
	logger    *zap.Logger

	paperMode atomic.Bool
	mu        sync.Mutex

	hookMu sync.Mutex
	onStop []func()
}

// NewExecutor wires an executor. Paper mode starts from cfg.PaperTrading
// until LoadSettings reads the stored toggle.
func NewExecutor(
	cfg config.Trading,
	store *database.Store,
	exchanges *exchange.Manager,
	paperEngine *paper.Engine,
	riskManager *risk.Manager,
	ledger *position.Ledger,
	publisher events.Publisher,
	logger *zap.Logger,
) *Executor {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	e := &Executor{
		cfg:       cfg,
		store:     store,
		exchanges: exchanges,
		paper:     paperEngine,
		risk:      riskManager,
		ledger:    ledger,
		events:    publisher,
		logger:    logger.Named("executor"),
	}
	e.paperMode.Store(cfg.PaperTrading)
	return e
}

// LoadSettings applies the persisted paper trading toggle.
func (e *Executor) LoadSettings(ctx context.Context) error {
	value, ok, err := e.store.GetSetting(ctx, database.SettingPaperTrading)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		e.logger.Warn("Ignoring invalid paper trading setting", zap.String("value", value))
		return nil
	}
	e.paperMode.Store(enabled)
	return nil
}

// PaperTrading reports whether new orders go to the paper engine.
func (e *Executor) PaperTrading() bool {
	return e.paperMode.Load()
}

// SetPaperTrading switches between paper and real execution and persists
// the choice.
func (e *Executor) SetPaperTrading(ctx context.Context, enabled bool) error {
	if err := e.store.SetSetting(ctx, database.SettingPaperTrading, strconv.FormatBool(enabled)); err != nil {
		return err
	}
	e.paperMode.Store(enabled)
	mode := "REAL"
	if enabled {
		mode = "PAPER"
	}
	e.logger.Warn("Trading mode changed", zap.String("mode", mode))
	e.store.InsertSystemLog(ctx, "WARNING", "trading mode changed to "+mode, nil)
	return nil
}

// ResetPaper restarts the paper wallet with balance. It refuses while paper
// positions are open, since the ledger would no longer match the wallet.
func (e *Executor) ResetPaper(ctx context.Context, balance float64) error {
	if err := validate.Price(balance, 0, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrOrderValidation, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range open {
		if p.IsPaperTrade {
			return fmt.Errorf("%w: paper position %s is open", ErrPaperPositionsOpen, p.Symbol)
		}
	}
	e.paper.Reset(balance)
	e.store.InsertSystemLog(ctx, "WARNING", "paper wallet reset", map[string]interface{}{"balance": balance})
	return nil
}

// PaperRealizedPnL is the paper wallet's realized profit since its last reset.
func (e *Executor) PaperRealizedPnL() float64 {
	return e.paper.RealizedPnL()
}

// OnEmergencyStop registers fn to run at the end of EmergencyStop.
func (e *Executor) OnEmergencyStop(fn func()) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.onStop = append(e.onStop, fn)
}

func (e *Executor) currentRoute() route {
	if e.PaperTrading() {
		return route{paper: true, exchange: PaperExchange}
	}
	return route{exchange: e.exchanges.Active()}
}

// Balance returns the paper wallet or the active exchange balance.
func (e *Executor) Balance(ctx context.Context) (*exchange.Balance, error) {
	if e.PaperTrading() {
		return e.paper.Balance(), nil
	}
	return e.exchanges.Balance(ctx)
}

// ExecuteMarketOrder executes a market order.
func (e *Executor) ExecuteMarketOrder(ctx context.Context, p OrderParams) (*OrderResult, error) {
	if p.OrderType == "" {
		p.OrderType = models.OrderTypeMarket
	}
	if !strings.EqualFold(p.OrderType, models.OrderTypeMarket) {
		return e.invalid(p, fmt.Errorf("order type %q is not a market order", p.OrderType))
	}
	return e.execute(ctx, p, e.currentRoute())
}

// ExecuteLimitOrder executes a limit order at p.Price.
func (e *Executor) ExecuteLimitOrder(ctx context.Context, p OrderParams) (*OrderResult, error) {
	if p.OrderType == "" {
		p.OrderType = models.OrderTypeLimit
	}
	if !strings.EqualFold(p.OrderType, models.OrderTypeLimit) {
		return e.invalid(p, fmt.Errorf("order type %q is not a limit order", p.OrderType))
	}
	if p.Price <= 0 {
		return e.invalid(p, errors.New("limit orders need a price"))
	}
	return e.execute(ctx, p, e.currentRoute())
}

func (e *Executor) invalid(p OrderParams, err error) (*OrderResult, error) {
	err = fmt.Errorf("%w: %w", ErrOrderValidation, err)
	return &OrderResult{Symbol: p.Symbol, Side: p.Side, ErrorMessage: err.Error()}, err
}

// sizing is the quantity math of one order.
type sizing struct {
	price    float64
	qty      float64
	notional float64
	margin   float64
}

func (e *Executor) normalize(ctx context.Context, p *OrderParams) error {
	p.Side = strings.ToLower(strings.TrimSpace(p.Side))
	p.OrderType = strings.ToLower(strings.TrimSpace(p.OrderType))
	p.AmountType = strings.ToLower(strings.TrimSpace(p.AmountType))
	if p.AmountType == "" {
		p.AmountType = AmountUSD
	}
	if p.Leverage == 0 {
		p.Leverage = e.cfg.DefaultLeverage
	}
	if p.ClientOrderID == "" {
		p.ClientOrderID = uuid.NewString()
	}

	switch p.Side {
	case "long":
		p.Side = models.OrderSideBuy
	case "short":
		p.Side = models.OrderSideSell
	}
	if err := validate.OrderSide(p.Side); err != nil {
		return err
	}
	if err := validate.OrderType(p.OrderType); err != nil {
		return err
	}
	if p.OrderType != models.OrderTypeMarket && p.OrderType != models.OrderTypeLimit {
		return fmt.Errorf("order type %s is not supported", p.OrderType)
	}
	if p.AmountType != AmountUSD && p.AmountType != AmountQty {
		return fmt.Errorf("amount type must be %s or %s", AmountUSD, AmountQty)
	}
	if err := validate.Quantity(p.Amount, 0, 0); err != nil {
		return err
	}
	if err := validate.Leverage(p.Leverage, 1, maxLeverage); err != nil {
		return err
	}
	if p.OrderType == models.OrderTypeLimit {
		if err := validate.Price(p.Price, 0, 0); err != nil {
			return err
		}
	}

	symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
	if err := validate.Symbol(symbol); err != nil {
		return err
	}
	if !validate.HasCommonQuote(symbol) {
		e.logger.Warn("Uncommon quote currency", zap.String("symbol", symbol))
	}
	native, err := e.exchanges.NormalizeSymbol(ctx, symbol)
	if err != nil {
		return err
	}
	p.Symbol = native
	return nil
}

func (e *Executor) size(ctx context.Context, p OrderParams) (sizing, error) {
	var s sizing
	if p.OrderType == models.OrderTypeLimit {
		s.price = p.Price
	} else {
		t, err := e.exchanges.Ticker(ctx, p.Symbol)
		if err != nil {
			return s, fmt.Errorf("failed to get price of %s: %w", p.Symbol, err)
		}
		s.price = t.Last
	}
	if s.price <= 0 {
		return s, fmt.Errorf("no valid price for %s", p.Symbol)
	}

	mk, mkErr := e.exchanges.MarketInfo(ctx, p.Symbol)
	price := decimal.NewFromFloat(s.price)
	if mkErr == nil && mk.TickSize > 0 && p.OrderType == models.OrderTypeLimit {
		tick := decimal.NewFromFloat(mk.TickSize)
		price = price.Div(tick).Floor().Mul(tick)
		if !price.IsPositive() {
			return s, fmt.Errorf("limit price %g is below the tick size %g of %s", s.price, mk.TickSize, p.Symbol)
		}
		s.price = price.InexactFloat64()
	}

	qty := decimal.NewFromFloat(p.Amount)
	if p.AmountType == AmountUSD {
		qty = qty.Div(price)
	}

	if mkErr == nil {
		if mk.StepSize > 0 {
			step := decimal.NewFromFloat(mk.StepSize)
			qty = qty.Div(step).Floor().Mul(step)
		}
		if qty.InexactFloat64() < mk.MinQty {
			return s, fmt.Errorf("quantity %s is below the minimum %g of %s", qty.String(), mk.MinQty, p.Symbol)
		}
	}
	if !qty.IsPositive() {
		return s, fmt.Errorf("order amount %g is too small for %s at %g", p.Amount, p.Symbol, s.price)
	}

	notional := qty.Mul(price)
	s.qty = qty.InexactFloat64()
	s.notional = notional.InexactFloat64()
	s.margin = notional.Div(decimal.NewFromInt(int64(p.Leverage))).InexactFloat64()
	return s, nil
}

func (e *Executor) execute(ctx context.Context, p OrderParams, r route) (*OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.normalize(ctx, &p); err != nil {
		return e.invalid(p, err)
	}
	if !r.paper && r.exchange == "" {
		return e.invalid(p, exchange.ErrNotConnected)
	}

	l := e.logger.With(
		zap.String("symbol", p.Symbol),
		zap.String("side", p.Side),
		zap.String("type", p.OrderType),
		zap.String("exchange", r.exchange),
		zap.Bool("paper", r.paper),
	)

	s, err := e.size(ctx, p)
	if err != nil {
		return e.reject(ctx, p, r, s, fmt.Errorf("%w: %w", ErrOrderExecution, err))
	}

	open, err := e.store.OpenPosition(ctx, r.exchange, p.Symbol)
	if err != nil {
		return e.reject(ctx, p, r, s, fmt.Errorf("%w: %w", ErrOrderExecution, err))
	}
	opens := !p.ReduceOnly && !reduces(open, p.Side, s.qty)

	if err := e.risk.CheckOrder(ctx, risk.OrderContext{
		Symbol:        p.Symbol,
		Side:          p.Side,
		NotionalUSD:   s.notional,
		Leverage:      p.Leverage,
		IsPaper:       r.paper,
		OpensPosition: opens && open == nil,
	}); err != nil {
		return e.reject(ctx, p, r, s, err)
	}

	if opens {
		if err := e.checkBalance(ctx, r, s.margin); err != nil {
			return e.reject(ctx, p, r, s, err)
		}
	}

	req := exchange.OrderRequest{
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.OrderType,
		Quantity:      s.qty,
		ReduceOnly:    p.ReduceOnly,
		ClientOrderID: p.ClientOrderID,
	}
	if p.OrderType == models.OrderTypeLimit {
		req.Price = s.price
	}

	l.Info("Executing order", zap.Float64("qty", s.qty), zap.Float64("price", s.price), zap.Float64("notional", s.notional))
	ack, err := e.place(ctx, r, req, s.price, p.Leverage)
	if err != nil {
		if !errors.Is(err, ErrInsufficientBalance) {
			err = fmt.Errorf("%w: %w", ErrOrderExecution, err)
		}
		return e.reject(ctx, p, r, s, err)
	}
	if ack.Status == models.OrderStatusRejected {
		return e.reject(ctx, p, r, s, fmt.Errorf("%w: rejected by %s", ErrOrderExecution, r.exchange))
	}

	order := e.orderRow(p, r, s)
	order.ExchangeOrderID = ack.ExchangeOrderID
	order.Status = ack.Status
	order.FilledQuantity = ack.FilledQty
	order.AverageFillPrice = ack.AvgPrice
	order.Commission = ack.Commission
	order.CommissionAsset = ack.CommissionAsset
	if err := e.store.InsertOrder(ctx, order); err != nil {
		// The exchange already has the order; only the ledger row is missing.
		l.Error("Failed to record executed order", zap.String("exchange_order_id", ack.ExchangeOrderID), zap.Error(err))
		return nil, fmt.Errorf("order %s executed but not recorded: %w", ack.ExchangeOrderID, err)
	}

	result := &OrderResult{
		Success:         true,
		OrderID:         order.ID,
		ExchangeOrderID: ack.ExchangeOrderID,
		ClientOrderID:   p.ClientOrderID,
		Exchange:        r.exchange,
		Symbol:          p.Symbol,
		Side:            p.Side,
		Status:          ack.Status,
		Quantity:        s.qty,
		FilledQty:       ack.FilledQty,
		AvgPrice:        ack.AvgPrice,
		IsPaper:         r.paper,
	}

	if ack.FilledQty > epsilon {
		fillPrice := ack.AvgPrice
		if fillPrice <= 0 {
			fillPrice = s.price
		}
		res, err := e.ledger.ApplyFill(ctx, position.Fill{
			OrderID:         order.ID,
			Exchange:        r.exchange,
			Symbol:          p.Symbol,
			Side:            p.Side,
			Quantity:        ack.FilledQty,
			Price:           fillPrice,
			Commission:      ack.Commission,
			CommissionAsset: ack.CommissionAsset,
			Leverage:        p.Leverage,
			IsPaper:         r.paper,
		})
		if err != nil {
			l.Error("Failed to apply fill to ledger", zap.Uint("order_id", order.ID), zap.Error(err))
			e.store.InsertSystemLog(ctx, "ERROR", "fill not applied to ledger", map[string]interface{}{
				"order_id": order.ID, "error": err.Error(),
			})
			result.ErrorMessage = err.Error()
		} else {
			result.RealizedPnL = res.RealizedPnL
			e.publishClosed(ctx, r.exchange, res)
		}
	}

	e.store.InsertSystemLog(ctx, "INFO", "order executed", map[string]interface{}{
		"order_id":          order.ID,
		"exchange_order_id": ack.ExchangeOrderID,
		"exchange":          r.exchange,
		"symbol":            p.Symbol,
		"side":              p.Side,
		"type":              p.OrderType,
		"quantity":          s.qty,
		"price":             s.price,
		"status":            ack.Status,
		"is_paper":          r.paper,
		"source":            p.Source,
	})
	e.publish(ctx, events.New(events.TypeOrderRecorded, r.exchange, p.Symbol, result))
	l.Info("Order recorded", zap.Uint("order_id", order.ID), zap.String("status", ack.Status))
	return result, nil
}

// reduces reports whether an order of side and qty only shrinks open.
func reduces(open *models.Position, side string, qty float64) bool {
	if open == nil {
		return false
	}
	opposite := (open.Side == models.PositionSideLong && side == models.OrderSideSell) ||
		(open.Side == models.PositionSideShort && side == models.OrderSideBuy)
	return opposite && qty <= open.Quantity+epsilon
}

func (e *Executor) checkBalance(ctx context.Context, r route, margin float64) error {
	var b *exchange.Balance
	if r.paper {
		b = e.paper.Balance()
	} else {
		var err error
		b, err = e.exchanges.Balance(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOrderExecution, err)
		}
	}
	if b.Free+epsilon < margin {
		return fmt.Errorf("%w: need %.2f USDT margin, %.2f free", ErrInsufficientBalance, margin, b.Free)
	}
	return nil
}

func (e *Executor) place(ctx context.Context, r route, req exchange.OrderRequest, price float64, leverage int) (*exchange.OrderAck, error) {
	if r.paper {
		ack, err := e.paper.Execute(req, price, leverage)
		if errors.Is(err, paper.ErrInsufficientBalance) {
			return nil, fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
		}
		return ack, err
	}

	client, err := e.exchanges.Client(r.exchange)
	if err != nil {
		return nil, err
	}
	if !req.ReduceOnly {
		if err := client.SetLeverage(ctx, req.Symbol, leverage); err != nil {
			return nil, fmt.Errorf("failed to set leverage: %w", err)
		}
	}
	return client.PlaceOrder(ctx, req)
}

func (e *Executor) orderRow(p OrderParams, r route, s sizing) *models.Order {
	order := &models.Order{
		Exchange:      r.exchange,
		ClientOrderID: p.ClientOrderID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.OrderType,
		Quantity:      s.qty,
		Leverage:      p.Leverage,
		ReduceOnly:    p.ReduceOnly,
		IsPaperTrade:  r.paper,
	}
	if p.OrderType == models.OrderTypeLimit {
		price := s.price
		order.Price = &price
	}
	if p.VoiceCommand != "" {
		text := p.VoiceCommand
		order.VoiceCommand = &text
	}
	return order
}

// reject records a failed order and returns err.
func (e *Executor) reject(ctx context.Context, p OrderParams, r route, s sizing, err error) (*OrderResult, error) {
	order := e.orderRow(p, r, s)
	order.Status = models.OrderStatusRejected
	order.ErrorMessage = err.Error()
	if insertErr := e.store.InsertOrder(ctx, order); insertErr != nil {
		e.logger.Error("Failed to record rejected order", zap.Error(insertErr))
	}
	e.logger.Warn("Order rejected",
		zap.String("symbol", p.Symbol),
		zap.String("side", p.Side),
		zap.Error(err),
	)
	e.store.InsertSystemLog(ctx, "WARNING", "order rejected", map[string]interface{}{
		"order_id": order.ID,
		"symbol":   p.Symbol,
		"side":     p.Side,
		"error":    err.Error(),
		"is_paper": r.paper,
	})
	return &OrderResult{
		OrderID:       order.ID,
		ClientOrderID: p.ClientOrderID,
		Exchange:      order.Exchange,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Status:        models.OrderStatusRejected,
		Quantity:      s.qty,
		IsPaper:       r.paper,
		ErrorMessage:  err.Error(),
	}, err
}

func (e *Executor) publish(ctx context.Context, ev events.Event) {
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn("Failed to publish event", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (e *Executor) publishClosed(ctx context.Context, exchangeName string, res *position.Result) {
	if res == nil || res.Closed == nil {
		return
	}
	e.publish(ctx, events.New(events.TypePositionClosed, exchangeName, res.Closed.Symbol, res.Closed))
}

// GetOrderStatus returns an order, first refreshing a pending real order
// from its exchange.
func (e *Executor) GetOrderStatus(ctx context.Context, id uint) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending || order.IsPaperTrade || order.ExchangeOrderID == "" {
		return order, nil
	}

	client, err := e.exchanges.Client(order.Exchange)
	if err != nil {
		return order, nil
	}
	ack, err := client.QueryOrder(ctx, order.Symbol, order.ExchangeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order %d: %w", id, err)
	}
	if err := e.sync(ctx, order, ack, ack.Status); err != nil {
		return nil, err
	}
	return e.store.GetOrder(ctx, id)
}

// sync applies the fills an exchange reports beyond what the ledger holds
// and stores status.
func (e *Executor) sync(ctx context.Context, order *models.Order, ack *exchange.OrderAck, status string) error {
	delta := ack.FilledQty - order.FilledQuantity
	if delta > epsilon {
		price := ack.AvgPrice
		if order.FilledQuantity > 0 {
			if p := (ack.AvgPrice*ack.FilledQty - order.AverageFillPrice*order.FilledQuantity) / delta; p > 0 {
				price = p
			}
		}
		res, err := e.ledger.ApplyFill(ctx, position.Fill{
			OrderID:         order.ID,
			Exchange:        order.Exchange,
			Symbol:          order.Symbol,
			Side:            order.Side,
			Quantity:        delta,
			Price:           price,
			Commission:      math.Max(ack.Commission-order.Commission, 0),
			CommissionAsset: ack.CommissionAsset,
			Leverage:        order.Leverage,
			IsPaper:         order.IsPaperTrade,
		})
		if err != nil {
			return err
		}
		e.publishClosed(ctx, order.Exchange, res)
	}

	upd := database.OrderUpdate{Status: status}
	if ack.FilledQty > order.FilledQuantity {
		upd.FilledQuantity = &ack.FilledQty
		upd.AverageFillPrice = &ack.AvgPrice
		upd.Commission = &ack.Commission
		upd.CommissionAsset = &ack.CommissionAsset
	}
	if err := e.store.UpdateOrderStatus(ctx, order.ID, upd); err != nil {
		return err
	}
	if status != order.Status {
		e.logger.Info("Order status changed",
			zap.Uint("order_id", order.ID),
			zap.String("from", order.Status),
			zap.String("to", status),
		)
	}
	return nil
}

// CancelOrder cancels a pending order, on its exchange first for real orders.
func (e *Executor) CancelOrder(ctx context.Context, id uint) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("order %d is %s: %w", id, order.Status, ErrNotCancellable)
	}

	ack := &exchange.OrderAck{FilledQty: order.FilledQuantity, AvgPrice: order.AverageFillPrice, Commission: order.Commission}
	if !order.IsPaperTrade && order.ExchangeOrderID != "" {
		client, err := e.exchanges.Client(order.Exchange)
		if err != nil {
			return nil, err
		}
		ack, err = client.CancelOrder(ctx, order.Symbol, order.ExchangeOrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel order %d on %s: %w", id, order.Exchange, err)
		}
	}
	if err := e.sync(ctx, order, ack, models.OrderStatusCancelled); err != nil {
		return nil, err
	}
	e.store.InsertSystemLog(ctx, "INFO", "order cancelled", map[string]interface{}{"order_id": id, "symbol": order.Symbol})
	return e.store.GetOrder(ctx, id)
}

// CancelAllOrders cancels every pending order and returns how many were
// cancelled.
func (e *Executor) CancelAllOrders(ctx context.Context) (int, error) {
	pending, err := e.store.PendingOrders(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, o := range pending {
		if _, err := e.CancelOrder(ctx, o.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// OpenPositions returns every open position of the ledger.
func (e *Executor) OpenPositions(ctx context.Context) ([]models.Position, error) {
	return e.store.OpenPositions(ctx)
}

// ClosePosition closes the open positions of symbol with reduce-only market
// orders.
func (e *Executor) ClosePosition(ctx context.Context, symbol string) ([]*OrderResult, error) {
	native, err := e.exchanges.NormalizeSymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrderValidation, err)
	}
	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	var results []*OrderResult
	var errs []error
	for i := range open {
		if open[i].Symbol != native {
			continue
		}
		res, err := e.closePosition(ctx, &open[i], "close")
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s: %w", native, ErrNoPosition)
	}
	return results, errors.Join(errs...)
}

// CloseAllPositions closes every open position.
func (e *Executor) CloseAllPositions(ctx context.Context) ([]*OrderResult, error) {
	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*OrderResult, 0, len(open))
	var errs []error
	for i := range open {
		res, err := e.closePosition(ctx, &open[i], "close_all")
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

func (e *Executor) closePosition(ctx context.Context, p *models.Position, source string) (*OrderResult, error) {
	side := models.OrderSideSell
	if p.Side == models.PositionSideShort {
		side = models.OrderSideBuy
	}
	r := route{paper: p.IsPaperTrade, exchange: p.Exchange}
	return e.execute(ctx, OrderParams{
		Symbol:     p.Symbol,
		Side:       side,
		Amount:     decimal.NewFromFloat(p.Quantity).Round(8).InexactFloat64(),
		AmountType: AmountQty,
		Leverage:   p.Leverage,
		OrderType:  models.OrderTypeMarket,
		ReduceOnly: true,
		Source:     source,
	}, r)
}

// EmergencyReport summarises an emergency stop.
type EmergencyReport struct {
	Timestamp             time.Time `json:"timestamp"`
	CancelledOrders       int       `json:"cancelled_orders"`
	ClosedPositions       []string  `json:"closed_positions"`
	ForceClosedPositions  []string  `json:"force_closed_positions"`
	DisconnectedExchanges []string  `json:"disconnected_exchanges"`
	Errors                []string  `json:"errors"`
	Success               bool      `json:"success"`
}

// EmergencyStop cancels pending orders, closes every position, disconnects
// all exchanges and stops the trading loop. It carries on past failures and
// reports them.
func (e *Executor) EmergencyStop(ctx context.Context) *EmergencyReport {
	report := &EmergencyReport{Timestamp: time.Now().UTC()}
	e.logger.Warn("EMERGENCY STOP triggered")
	e.store.InsertSystemLog(ctx, "CRITICAL", "emergency stop triggered", nil)
	fail := func(step string, err error) {
		e.logger.Error("Emergency stop step failed", zap.String("step", step), zap.Error(err))
		report.Errors = append(report.Errors, step+": "+err.Error())
	}

	n, err := e.CancelAllOrders(ctx)
	report.CancelledOrders = n
	if err != nil {
		fail("cancel orders", err)
	}
	if rest, err := e.store.CancelPendingOrders(ctx); err != nil {
		fail("cancel orders", err)
	} else {
		report.CancelledOrders += int(rest)
	}

	results, err := e.CloseAllPositions(ctx)
	for _, res := range results {
		if res != nil && res.Success {
			report.ClosedPositions = append(report.ClosedPositions, res.Symbol)
		}
	}
	if err != nil {
		fail("close positions", err)
	}
	forced, err := e.ledger.ForceCloseAll(ctx)
	if err != nil {
		fail("force close", err)
	}
	for _, p := range forced {
		if p.IsPaperTrade {
			mark := p.MarkPrice
			if mark <= 0 {
				mark = p.EntryPrice
			}
			e.paper.Settle(p.Symbol, mark)
		}
		report.ForceClosedPositions = append(report.ForceClosedPositions, p.Symbol)
	}

	if st, err := e.exchanges.Status(ctx); err == nil {
		report.DisconnectedExchanges = st.Connected
	}
	if err := e.exchanges.Cleanup(ctx); err != nil {
		fail("disconnect", err)
	}

	e.hookMu.Lock()
	hooks := append([]func(){}, e.onStop...)
	e.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	report.Success = len(report.Errors) == 0
	e.store.InsertSystemLog(ctx, "CRITICAL", "emergency stop completed", map[string]interface{}{
		"cancelled_orders": report.CancelledOrders,
		"closed_positions": report.ClosedPositions,
		"force_closed":     report.ForceClosedPositions,
		"errors":           report.Errors,
	})
	e.publish(ctx, events.New(events.TypeEmergencyStop, "", "", report))
	e.logger.Warn("Emergency stop completed",
		zap.Int("cancelled_orders", report.CancelledOrders),
		zap.Int("closed_positions", len(report.ClosedPositions)),
		zap.Int("force_closed", len(report.ForceClosedPositions)),
		zap.Bool("success", report.Success),
	)
	return report
}
