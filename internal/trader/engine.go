package trader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/exchange"
	"voice-trade-bot-go/internal/models"
	"voice-trade-bot-go/internal/position"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const tickerWorkers = 8

// Engine is the polling loop that marks positions to market, fires
// stop-loss and take-profit closes and follows pending exchange orders.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger    *zap.Logger
	cfg       config.Trading
	store     *database.Store
	exchanges *exchange.Manager
	ledger    *position.Ledger
	executor  *Executor
	pool      *ants.Pool

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

// NewEngine creates a trading engine and registers it to be stopped by an
// emergency stop.
func NewEngine(cfg config.Trading, store *database.Store, exchanges *exchange.Manager, ledger *position.Ledger, executor *Executor, logger *zap.Logger) (*Engine, error) {
	pool, err := ants.NewPool(tickerWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker pool: %w", err)
	}
	e := &Engine{
		UUID:      uuid.NewString(),
		Name:      "voice-trade-bot",
		StartTime: time.Now(),
		logger:    logger.Named("engine"),
		cfg:       cfg,
		store:     store,
		exchanges: exchanges,
		ledger:    ledger,
		executor:  executor,
		pool:      pool,
		stop:      make(chan struct{}),
	}
	executor.OnEmergencyStop(e.Stop)
	return e, nil
}

// Run starts the engine's main loop and blocks until ctx is done or Stop
// is called.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.TickInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.running.Store(true)
	defer e.running.Store(false)
	e.logger.Info("Starting trading loop", zap.Duration("interval", interval), zap.String("uuid", e.UUID))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			return
		case <-e.stop:
			e.logger.Warn("Trading engine stopped")
			return
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				e.logger.Error("Tick failed", zap.Error(err))
			}
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Release frees the worker pool.
func (e *Engine) Release() {
	e.pool.Release()
}

func (e *Engine) tick(ctx context.Context) error {
	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("could not load open positions: %w", err)
	}

	if len(open) > 0 {
		prices := e.fetchPrices(ctx, open)
		for i := range open {
			p := &open[i]
			mark, ok := prices[p.Symbol]
			if !ok {
				continue
			}
			if _, err := e.ledger.MarkToMarket(ctx, p, mark); err != nil {
				e.logger.Error("Failed to mark position", zap.Uint("position_id", p.ID), zap.Error(err))
				continue
			}
			if reason, hit := position.CheckTriggers(p, mark); hit {
				e.trigger(ctx, p, reason, mark)
			}
		}
	}

	e.refreshPending(ctx)
	return nil
}

// fetchPrices reads the last price of every symbol in positions concurrently.
func (e *Engine) fetchPrices(ctx context.Context, positions []models.Position) map[string]float64 {
	symbols := make(map[string]struct{})
	for _, p := range positions {
		symbols[p.Symbol] = struct{}{}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		prices = make(map[string]float64, len(symbols))
	)
	for symbol := range symbols {
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			t, err := e.exchanges.Ticker(ctx, symbol)
			if err != nil {
				e.logger.Warn("Failed to get ticker", zap.String("symbol", symbol), zap.Error(err))
				return
			}
			if t.Last <= 0 {
				return
			}
			mu.Lock()
			prices[symbol] = t.Last
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			e.logger.Error("Failed to submit ticker fetch", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	wg.Wait()
	return prices
}

func (e *Engine) trigger(ctx context.Context, p *models.Position, reason string, mark float64) {
	l := e.logger.With(
		zap.Uint("position_id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.String("reason", reason),
		zap.Float64("mark", mark),
	)
	l.Warn("Protection triggered, closing position")
	res, err := e.executor.closePosition(ctx, p, reason)
	if err != nil {
		l.Error("Failed to close triggered position", zap.Error(err))
		return
	}
	e.store.InsertSystemLog(ctx, "WARNING", reason+" triggered", map[string]interface{}{
		"position_id":  p.ID,
		"symbol":       p.Symbol,
		"mark":         mark,
		"order_id":     res.OrderID,
		"realized_pnl": res.RealizedPnL,
	})
}

func (e *Engine) refreshPending(ctx context.Context) {
	pending, err := e.store.PendingOrders(ctx)
	if err != nil {
		e.logger.Error("Failed to load pending orders", zap.Error(err))
		return
	}
	for _, o := range pending {
		if o.IsPaperTrade || o.ExchangeOrderID == "" {
			continue
		}
		if _, err := e.executor.GetOrderStatus(ctx, o.ID); err != nil {
			e.logger.Warn("Failed to refresh order", zap.Uint("order_id", o.ID), zap.Error(err))
		}
	}
}
