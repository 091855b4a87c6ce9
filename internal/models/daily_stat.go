package models

import "time"

// DailyStat aggregates the trading results of one calendar day (UTC).
type DailyStat struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Date            string    `gorm:"uniqueIndex;not null" json:"date"` // YYYY-MM-DD
	TotalTrades     int       `json:"total_trades"`
	WinningTrades   int       `json:"winning_trades"`
	LosingTrades    int       `json:"losing_trades"`
	TotalPnL        float64   `gorm:"column:total_pnl" json:"total_pnl"`
	TotalCommission float64   `json:"total_commission"`
	TotalVolume     float64   `json:"total_volume"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
