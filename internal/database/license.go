package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-trade-bot-go/internal/models"

	"gorm.io/gorm"
)

// ActiveLicense returns the most recent active license, or nil.
func (s *Store) ActiveLicense(ctx context.Context) (*models.LicenseInfo, error) {
	var lic models.LicenseInfo
	err := s.conn(ctx).Where("is_active = ?", true).Order("id desc").First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}
	return &lic, nil
}

// SaveLicense inserts or updates a license row.
func (s *Store) SaveLicense(ctx context.Context, lic *models.LicenseInfo) error {
	if err := s.conn(ctx).Save(lic).Error; err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}
	return nil
}

// TouchLicense records a successful validation.
func (s *Store) TouchLicense(ctx context.Context, id uint, at time.Time) error {
	err := s.conn(ctx).Model(&models.LicenseInfo{}).Where("id = ?", id).Updates(map[string]interface{}{
		"validation_count":  gorm.Expr("validation_count + ?", 1),
		"last_validated_at": at,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update license %d: %w", id, err)
	}
	return nil
}
