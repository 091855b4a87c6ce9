package database

import (
	"context"
	"errors"
	"fmt"

	"voice-trade-bot-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Well-known setting keys.
const (
	SettingMaxNotional      = "risk.max_notional_usd"
	SettingMaxLeverage      = "risk.max_leverage"
	SettingMaxOpenPositions = "risk.max_open_positions"
	SettingDailyLossLimit   = "risk.daily_loss_limit"
	SettingPaperTrading     = "trading.paper"
	SettingActiveExchange   = "exchange.active"
)

// GetSetting returns the value stored under key. ok is false when the key
// is not set.
func (s *Store) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	var setting models.Setting
	err = s.conn(ctx).Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting '%s': %w", key, err)
	}
	return setting.Value, true, nil
}

// SetSetting inserts or replaces the value of key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	setting := models.Setting{Key: key, Value: value}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to set setting '%s': %w", key, err)
	}
	s.logger.Debug("Setting updated", zap.String("key", key), zap.String("value", value))
	return nil
}

// DeleteSetting removes key; deleting a missing key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if err := s.conn(ctx).Where("key = ?", key).Delete(&models.Setting{}).Error; err != nil {
		return fmt.Errorf("failed to delete setting '%s': %w", key, err)
	}
	return nil
}

// ListSettings returns every stored setting ordered by key.
func (s *Store) ListSettings(ctx context.Context) ([]models.Setting, error) {
	var settings []models.Setting
	if err := s.conn(ctx).Order("key").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}
