package models

import "time"

// Trade represents an executed fill of an order.
type Trade struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Exchange        string    `gorm:"not null" json:"exchange"`
	OrderID         uint      `gorm:"not null;index" json:"order_id"`
	Order           *Order    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	PositionID      *uint     `gorm:"index" json:"position_id,omitempty"`
	Position        *Position `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"-"`
	Symbol          string    `gorm:"not null" json:"symbol"`
	Side            string    `gorm:"not null" json:"side"`
	Price           float64   `gorm:"not null" json:"price"`
	Quantity        float64   `gorm:"not null" json:"quantity"`
	Commission      float64   `json:"commission"`
	CommissionAsset string    `json:"commission_asset"`
	PnL             float64   `gorm:"column:pnl" json:"pnl"`
	IsPaperTrade    bool      `json:"is_paper_trade"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}
