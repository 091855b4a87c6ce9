// Package position keeps the one-way position ledger: fills open, grow,
// reduce, close or flip the single open position of an (exchange, symbol).
package position

import (
	"context"
	"fmt"
	"time"

	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Fill is an executed quantity of a recorded order.
type Fill struct {
	OrderID         uint
	Exchange        string
	Symbol          string
	Side            string // buy or sell
	Quantity        float64
	Price           float64
	Commission      float64
	CommissionAsset string
	Leverage        int
	IsPaper         bool
	At              time.Time
}

// Result describes what a fill did to the ledger.
type Result struct {
	Open        *models.Position // open position after the fill, nil when flat
	Closed      *models.Position // closed row the fill folded into, if any
	RealizedPnL float64
	Trade       *models.Trade
}

// Ledger applies fills and marks positions to market.
type Ledger struct {
	store  *database.Store
	logger *zap.Logger
}

// NewLedger creates a position ledger.
func NewLedger(store *database.Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger.Named("position")}
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func direction(orderSide string) int64 {
	if orderSide == models.OrderSideSell {
		return -1
	}
	return 1
}

func sideFor(dir int64) string {
	if dir < 0 {
		return models.PositionSideShort
	}
	return models.PositionSideLong
}

// UnrealizedPnL is (mark - entry) * qty * direction.
func UnrealizedPnL(p *models.Position, mark float64) float64 {
	return dec(mark).Sub(dec(p.EntryPrice)).Mul(dec(p.Quantity)).Mul(dec(p.Direction())).InexactFloat64()
}

// ApplyFill updates the ledger for f in one transaction and writes the trade row.
func (l *Ledger) ApplyFill(ctx context.Context, f Fill) (*Result, error) {
	if f.Quantity <= 0 || f.Price <= 0 {
		return nil, fmt.Errorf("invalid fill: qty=%f price=%f", f.Quantity, f.Price)
	}
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	if f.Leverage < 1 {
		f.Leverage = 1
	}

	var res *Result
	err := l.store.Transaction(ctx, func(tx *database.Store) error {
		var err error
		res, err = l.applyFill(ctx, tx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply fill of order %d: %w", f.OrderID, err)
	}

	fields := []zap.Field{
		zap.Uint("order_id", f.OrderID),
		zap.String("symbol", f.Symbol),
		zap.String("side", f.Side),
		zap.Float64("qty", f.Quantity),
		zap.Float64("price", f.Price),
		zap.Float64("realized_pnl", res.RealizedPnL),
	}
	if res.Open != nil {
		fields = append(fields, zap.String("position", res.Open.Side), zap.Float64("position_qty", res.Open.Quantity))
	}
	l.logger.Info("Fill applied", fields...)
	return res, nil
}

func (l *Ledger) applyFill(ctx context.Context, tx *database.Store, f Fill) (*Result, error) {
	res := &Result{}
	dir := direction(f.Side)
	qty := dec(f.Quantity)
	price := dec(f.Price)

	open, err := tx.OpenPosition(ctx, f.Exchange, f.Symbol)
	if err != nil {
		return nil, err
	}

	realized := decimal.Zero
	if open != nil && int64(open.Direction()) != dir {
		openQty := dec(open.Quantity)
		closeQty := decimal.Min(qty, openQty)
		realized = price.Sub(dec(open.EntryPrice)).Mul(closeQty).Mul(dec(open.Direction()))
		released := dec(open.Margin).Mul(closeQty).Div(openQty)

		open.RealizedPnL = dec(open.RealizedPnL).Add(realized).InexactFloat64()
		open.Quantity = openQty.Sub(closeQty).InexactFloat64()
		open.ClosedQty = dec(open.ClosedQty).Add(closeQty).InexactFloat64()
		open.Margin = dec(open.Margin).Sub(released).InexactFloat64()
		qty = qty.Sub(closeQty)

		if open.Quantity <= 0 {
			closed, err := l.close(ctx, tx, open, f.At)
			if err != nil {
				return nil, err
			}
			res.Closed = closed
			open = nil
		} else {
			open.UnrealizedPnL = UnrealizedPnL(open, f.Price)
			if err := tx.SavePosition(ctx, open); err != nil {
				return nil, err
			}
			res.Open = open
		}
	}

	if qty.IsPositive() {
		margin := qty.Mul(price).Div(decimal.NewFromInt(int64(f.Leverage)))
		if open == nil {
			open = &models.Position{
				Exchange:     f.Exchange,
				Symbol:       f.Symbol,
				Side:         sideFor(dir),
				Status:       models.PositionStatusOpen,
				EntryPrice:   f.Price,
				Quantity:     qty.InexactFloat64(),
				Margin:       margin.InexactFloat64(),
				Leverage:     f.Leverage,
				MarkPrice:    f.Price,
				IsPaperTrade: f.IsPaper,
				OpenedAt:     f.At,
			}
			if err := tx.InsertPosition(ctx, open); err != nil {
				return nil, err
			}
		} else {
			oldQty := dec(open.Quantity)
			newQty := oldQty.Add(qty)
			open.EntryPrice = dec(open.EntryPrice).Mul(oldQty).Add(price.Mul(qty)).Div(newQty).InexactFloat64()
			open.Quantity = newQty.InexactFloat64()
			open.Margin = dec(open.Margin).Add(margin).InexactFloat64()
			open.Leverage = f.Leverage
			open.MarkPrice = f.Price
			open.UnrealizedPnL = UnrealizedPnL(open, f.Price)
			if err := tx.SavePosition(ctx, open); err != nil {
				return nil, err
			}
		}
		res.Open = open
	}

	res.RealizedPnL = realized.InexactFloat64()

	// The trade belongs to the position that realized PnL, else the open one.
	var tradePos, orderPos *models.Position
	switch {
	case res.Closed != nil:
		tradePos = res.Closed
	default:
		tradePos = res.Open
	}
	orderPos = res.Open
	if orderPos == nil {
		orderPos = res.Closed
	}

	trade := &models.Trade{
		Exchange:        f.Exchange,
		OrderID:         f.OrderID,
		PositionID:      &tradePos.ID,
		Symbol:          f.Symbol,
		Side:            f.Side,
		Price:           f.Price,
		Quantity:        f.Quantity,
		Commission:      f.Commission,
		CommissionAsset: f.CommissionAsset,
		PnL:             res.RealizedPnL,
		IsPaperTrade:    f.IsPaper,
		CreatedAt:       f.At,
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return nil, err
	}
	res.Trade = trade

	if err := tx.UpdateOrderStatus(ctx, f.OrderID, database.OrderUpdate{PositionID: &orderPos.ID}); err != nil {
		return nil, err
	}
	notional := dec(f.Quantity).Mul(price).InexactFloat64()
	if err := tx.RecordTradeStat(ctx, f.At, res.RealizedPnL, f.Commission, notional); err != nil {
		return nil, err
	}
	return res, nil
}

// close marks p closed, folding it into an earlier closed row of the same
// tuple when one exists. p.ClosedQty must already include the final fill.
func (l *Ledger) close(ctx context.Context, tx *database.Store, p *models.Position, at time.Time) (*models.Position, error) {
	existing, err := tx.ClosedPosition(ctx, p.Exchange, p.Symbol, p.Side)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		p.Status = models.PositionStatusClosed
		p.Quantity = p.ClosedQty
		p.Margin = 0
		p.UnrealizedPnL = 0
		p.ClosedAt = &at
		p.StopLoss, p.TakeProfit = nil, nil
		if err := tx.SavePosition(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	existing.RealizedPnL = dec(existing.RealizedPnL).Add(dec(p.RealizedPnL)).InexactFloat64()
	existing.Quantity = dec(existing.Quantity).Add(dec(p.ClosedQty)).InexactFloat64()
	existing.ClosedQty = existing.Quantity
	existing.EntryPrice = p.EntryPrice
	existing.Leverage = p.Leverage
	existing.MarkPrice = p.MarkPrice
	existing.IsPaperTrade = p.IsPaperTrade
	existing.OpenedAt = p.OpenedAt
	existing.ClosedAt = &at

	if err := tx.RepointOrders(ctx, p.ID, existing.ID); err != nil {
		return nil, err
	}
	if err := tx.RepointTrades(ctx, p.ID, existing.ID); err != nil {
		return nil, err
	}
	if err := tx.DeletePosition(ctx, p.ID); err != nil {
		return nil, err
	}
	if err := tx.SavePosition(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// MarkToMarket stores mark and the resulting unrealized PnL of p.
func (l *Ledger) MarkToMarket(ctx context.Context, p *models.Position, mark float64) (float64, error) {
	pnl := UnrealizedPnL(p, mark)
	if err := l.store.UpdatePositionMark(ctx, p.ID, mark, pnl); err != nil {
		return 0, err
	}
	p.MarkPrice = mark
	p.UnrealizedPnL = pnl
	return pnl, nil
}

// Trigger reasons returned by CheckTriggers.
const (
	TriggerStopLoss   = "stop_loss"
	TriggerTakeProfit = "take_profit"
)

// CheckTriggers reports whether mark hits the stop-loss or take-profit of p.
func CheckTriggers(p *models.Position, mark float64) (string, bool) {
	if mark <= 0 {
		return "", false
	}
	long := p.Side == models.PositionSideLong
	if p.StopLoss != nil {
		if (long && mark <= *p.StopLoss) || (!long && mark >= *p.StopLoss) {
			return TriggerStopLoss, true
		}
	}
	if p.TakeProfit != nil {
		if (long && mark >= *p.TakeProfit) || (!long && mark <= *p.TakeProfit) {
			return TriggerTakeProfit, true
		}
	}
	return "", false
}

// ForceCloseAll closes every open position in the ledger at its last mark,
// realizing the unrealized PnL into the daily stats. It is the fallback when
// market orders cannot be placed.
func (l *Ledger) ForceCloseAll(ctx context.Context) ([]models.Position, error) {
	var closed []models.Position
	err := l.store.Transaction(ctx, func(tx *database.Store) error {
		open, err := tx.OpenPositions(ctx)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range open {
			p := &open[i]
			mark := p.MarkPrice
			if mark <= 0 {
				mark = p.EntryPrice
			}
			pnl := UnrealizedPnL(p, mark)
			volume := dec(p.Quantity).Mul(dec(mark)).InexactFloat64()
			p.RealizedPnL = dec(p.RealizedPnL).Add(dec(pnl)).InexactFloat64()
			p.ClosedQty = dec(p.ClosedQty).Add(dec(p.Quantity)).InexactFloat64()
			p.MarkPrice = mark
			row, err := l.close(ctx, tx, p, now)
			if err != nil {
				return err
			}
			if err := tx.RecordTradeStat(ctx, now, pnl, 0, volume); err != nil {
				return err
			}
			closed = append(closed, *row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to force close positions: %w", err)
	}
	if len(closed) > 0 {
		l.logger.Warn("Force closed positions in ledger", zap.Int("count", len(closed)))
	}
	return closed, nil
}
