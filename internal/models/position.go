package models

import "time"

const (
	PositionSideLong  = "long"
	PositionSideShort = "short"

	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Position is an open or closed futures position.
// At most one row exists per (exchange, symbol, side, status).
type Position struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	Exchange      string  `gorm:"not null;uniqueIndex:idx_position_key" json:"exchange"`
	Symbol        string  `gorm:"not null;uniqueIndex:idx_position_key" json:"symbol"`
	Side          string  `gorm:"not null;uniqueIndex:idx_position_key" json:"side"`
	Status        string  `gorm:"not null;default:open;uniqueIndex:idx_position_key;index" json:"status"`
	EntryPrice    float64 `gorm:"not null" json:"entry_price"`
	Quantity      float64 `gorm:"not null" json:"quantity"`
	Margin        float64 `json:"margin"`
	Leverage      int     `gorm:"default:1" json:"leverage"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl" json:"unrealized_pnl"`
	RealizedPnL   float64 `gorm:"column:realized_pnl" json:"realized_pnl"`
	// ClosedQty is the quantity reduced so far. A closed row's Quantity is
	// its total closed quantity.
	ClosedQty    float64    `gorm:"column:closed_qty" json:"closed_qty"`
	StopLoss     *float64   `json:"stop_loss,omitempty"`
	TakeProfit   *float64   `json:"take_profit,omitempty"`
	IsPaperTrade bool       `json:"is_paper_trade"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Direction is +1 for long and -1 for short positions.
func (p *Position) Direction() float64 {
	if p.Side == PositionSideShort {
		return -1
	}
	return 1
}
