package models

import "time"

// Exchange is a supported trading venue together with its stored credentials.
// Credential columns hold base64 ciphertext, never plain keys.
type Exchange struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"uniqueIndex;not null" json:"name"`
	DisplayName  string    `json:"display_name"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	IsConfigured bool      `gorm:"default:false" json:"is_configured"`
	IsConnected  bool      `gorm:"default:false" json:"is_connected"`
	Testnet      bool      `gorm:"default:true" json:"testnet"`
	APIKey       *string   `json:"-"`
	SecretKey    *string   `json:"-"`
	Passphrase   *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
