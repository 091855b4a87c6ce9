package models

import "time"

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"

	OrderStatusPending   = "pending"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// Order is the lifecycle record of an order sent to an exchange or to the
// paper engine.
type Order struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Exchange         string    `gorm:"not null;index" json:"exchange"`
	ExchangeOrderID  string    `gorm:"index" json:"exchange_order_id"`
	ClientOrderID    string    `gorm:"index" json:"client_order_id"`
	Symbol           string    `gorm:"not null" json:"symbol"`
	Side             string    `gorm:"not null" json:"side"`
	Type             string    `gorm:"not null" json:"type"`
	Quantity         float64   `gorm:"not null" json:"quantity"`
	Price            *float64  `json:"price,omitempty"`
	StopPrice        *float64  `json:"stop_price,omitempty"`
	Leverage         int       `gorm:"default:1" json:"leverage"`
	Status           string    `gorm:"not null;default:pending;index" json:"status"`
	FilledQuantity   float64   `json:"filled_quantity"`
	AverageFillPrice float64   `json:"average_fill_price"`
	Commission       float64   `json:"commission"`
	CommissionAsset  string    `json:"commission_asset"`
	ReduceOnly       bool      `json:"reduce_only"`
	PositionID       *uint     `gorm:"index" json:"position_id,omitempty"`
	Position         *Position `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	IsPaperTrade     bool      `json:"is_paper_trade"`
	VoiceCommand     *string   `json:"voice_command,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
