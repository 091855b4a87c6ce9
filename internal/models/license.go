package models

import "time"

// LicenseInfo is a hardware-bound license record.
type LicenseInfo struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	LicenseKey      string     `gorm:"uniqueIndex;not null" json:"license_key"`
	HardwareID      string     `gorm:"not null" json:"hardware_id"`
	ValidFrom       time.Time  `json:"valid_from"`
	ValidUntil      time.Time  `json:"valid_until"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	ValidationCount int        `gorm:"default:0" json:"validation_count"`
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName keeps the singular table name of the original schema.
func (LicenseInfo) TableName() string {
	return "license_info"
}
