package models

import "time"

// VoiceCommand maps a spoken phrase to a command category.
type VoiceCommand struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Category  string    `gorm:"not null" json:"category"`
	Phrase    string    `gorm:"not null" json:"phrase"`
	Language  string    `gorm:"default:tr" json:"language"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// CommandKeyword is a single trigger word for a trading intent.
type CommandKeyword struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Keyword   string    `gorm:"not null;uniqueIndex:idx_keyword_lang" json:"keyword"`
	Intent    string    `gorm:"not null" json:"intent"` // buy, sell, close, stop
	Language  string    `gorm:"not null;default:tr;uniqueIndex:idx_keyword_lang" json:"language"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
