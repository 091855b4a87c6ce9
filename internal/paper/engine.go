// Package paper simulates an exchange: every order fills immediately at the
// given price against a virtual USDT margin wallet.
package paper

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voice-trade-bot-go/internal/exchange"
	"voice-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

const epsilon = 1e-9

var (
	// ErrInsufficientBalance is returned when free margin cannot cover an order.
	ErrInsufficientBalance = errors.New("insufficient paper balance")
	// ErrReduceOnly is returned when a reduce-only order would grow a position.
	ErrReduceOnly = errors.New("reduce-only order would increase position")
)

type netPosition struct {
	Qty      float64 // signed, negative for short
	AvgPrice float64
	Margin   float64
}

// Engine is the paper trading venue.
type Engine struct {
	logger  *zap.Logger
	feeRate float64
	counter atomic.Uint64

	mu           sync.Mutex
	startBalance float64
	realizedPnL  float64
	commission   float64
	positions    map[string]netPosition
}

// NewEngine creates an engine with a starting USDT balance.
func NewEngine(startBalance, feeRate float64, logger *zap.Logger) *Engine {
	return &Engine{
		logger:       logger.Named("paper"),
		feeRate:      feeRate,
		startBalance: startBalance,
		positions:    make(map[string]netPosition),
	}
}

// Restore loads open paper positions from the ledger after a restart.
func (e *Engine) Restore(open []models.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range open {
		if !p.IsPaperTrade {
			continue
		}
		e.positions[p.Symbol] = netPosition{Qty: p.Quantity * p.Direction(), AvgPrice: p.EntryPrice, Margin: p.Margin}
	}
}

// Execute fills req completely at price.
func (e *Engine) Execute(req exchange.OrderRequest, price float64, leverage int) (*exchange.OrderAck, error) {
	if req.Quantity <= 0 {
		return nil, errors.New("quantity must be positive")
	}
	if price <= 0 {
		return nil, errors.New("price must be positive")
	}
	if leverage < 1 {
		leverage = 1
	}
	dir := 1.0
	switch req.Side {
	case models.OrderSideBuy:
	case models.OrderSideSell:
		dir = -1
	default:
		return nil, fmt.Errorf("unknown order side %q", req.Side)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.positions[req.Symbol]
	qty := req.Quantity
	notional := qty * price
	fee := notional * e.feeRate
	realized := 0.0

	// Reduce the opposite exposure first.
	if state.Qty*dir < 0 {
		closeQty := math.Min(qty, math.Abs(state.Qty))
		sign := state.Qty / math.Abs(state.Qty)
		realized = (price - state.AvgPrice) * closeQty * sign
		released := state.Margin * closeQty / math.Abs(state.Qty)
		state.Qty += closeQty * dir
		state.Margin -= released
		qty -= closeQty
		if math.Abs(state.Qty) <= epsilon {
			state = netPosition{}
		}
	}

	if qty > epsilon {
		if req.ReduceOnly {
			return nil, ErrReduceOnly
		}
		margin := qty * price / float64(leverage)
		usedElsewhere := e.usedLocked() - e.positions[req.Symbol].Margin
		free := e.totalLocked() + realized - fee - usedElsewhere - state.Margin
		if margin > free+epsilon {
			return nil, fmt.Errorf("need %.2f USDT margin, %.2f free: %w", margin, free, ErrInsufficientBalance)
		}
		absQty := math.Abs(state.Qty)
		state.AvgPrice = (state.AvgPrice*absQty + price*qty) / (absQty + qty)
		state.Qty += qty * dir
		state.Margin += margin
	}

	if state.Qty == 0 {
		delete(e.positions, req.Symbol)
	} else {
		e.positions[req.Symbol] = state
	}
	e.realizedPnL += realized
	e.commission += fee

	id := fmt.Sprintf("paper-%d", e.counter.Add(1))
	e.logger.Info("Paper order filled",
		zap.String("id", id),
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.Float64("qty", req.Quantity),
		zap.Float64("price", price),
		zap.Float64("cost", notional),
	)

	return &exchange.OrderAck{
		ExchangeOrderID: id,
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Status:          models.OrderStatusFilled,
		FilledQty:       req.Quantity,
		AvgPrice:        price,
		Commission:      fee,
		CommissionAsset: "USDT",
	}, nil
}

func (e *Engine) totalLocked() float64 {
	return e.startBalance + e.realizedPnL - e.commission
}

func (e *Engine) usedLocked() float64 {
	used := 0.0
	for _, p := range e.positions {
		used += p.Margin
	}
	return used
}

// Balance reports the virtual wallet in the exchange format.
func (e *Engine) Balance() *exchange.Balance {
	e.mu.Lock()
	defer e.mu.Unlock()
	used := e.usedLocked()
	total := e.totalLocked()
	return &exchange.Balance{Asset: "USDT", Total: total, Free: total - used, Used: used}
}

// RealizedPnL returns closed-trade profit and loss since start.
func (e *Engine) RealizedPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realizedPnL
}

// Position returns the signed net quantity of symbol.
func (e *Engine) Position(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[symbol].Qty
}

// Reset clears every position and sets a new starting balance.
func (e *Engine) Reset(startBalance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startBalance = startBalance
	e.realizedPnL = 0
	e.commission = 0
	e.positions = make(map[string]netPosition)
	e.logger.Info("Paper wallet reset", zap.Float64("balance", startBalance), zap.Time("at", time.Now()))
}

// Settle drops the position of symbol at price without a fee. It keeps the
// wallet in step with positions closed directly in the ledger.
func (e *Engine) Settle(symbol string, price float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.positions[symbol]
	if !ok {
		return 0
	}
	realized := (price - state.AvgPrice) * state.Qty
	e.realizedPnL += realized
	delete(e.positions, symbol)
	return realized
}
