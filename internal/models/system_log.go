package models

import "time"

// SystemLog is an audit entry for business events (orders, risk, emergency).
type SystemLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"not null;index" json:"level"`
	Message   string    `gorm:"not null" json:"message"`
	Context   string    `gorm:"type:text" json:"context"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
