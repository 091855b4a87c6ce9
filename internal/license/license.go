// Package license binds the bot to a single machine.
package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

var (
	ErrNoLicense        = errors.New("no active license")
	ErrInactive         = errors.New("license is inactive")
	ErrExpired          = errors.New("license is outside its validity window")
	ErrHardwareMismatch = errors.New("license is bound to different hardware")
)

// Service activates and validates hardware-bound licenses.
type Service struct {
	store      *database.Store
	hardwareID string
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a license service for the machine with hardwareID.
func NewService(store *database.Store, hardwareID string, logger *zap.Logger) *Service {
	return &Service{store: store, hardwareID: hardwareID, logger: logger.Named("license"), now: time.Now}
}

// Activate stores key bound to this machine, valid from now for validFor.
func (s *Service) Activate(ctx context.Context, key string, validFor time.Duration) (*models.LicenseInfo, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("license key cannot be empty")
	}
	if validFor <= 0 {
		return nil, errors.New("license validity must be positive")
	}
	now := s.now().UTC()
	lic := &models.LicenseInfo{
		LicenseKey: key,
		HardwareID: s.hardwareID,
		ValidFrom:  now,
		ValidUntil: now.Add(validFor),
		IsActive:   true,
	}
	if err := s.store.SaveLicense(ctx, lic); err != nil {
		return nil, err
	}
	s.logger.Info("License activated", zap.Time("valid_until", lic.ValidUntil))
	return lic, nil
}

// Validate checks the active license against this machine and the clock and
// records the validation.
func (s *Service) Validate(ctx context.Context) (*models.LicenseInfo, error) {
	lic, err := s.store.ActiveLicense(ctx)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, ErrNoLicense
	}
	if !lic.IsActive {
		return lic, ErrInactive
	}
	if lic.HardwareID != s.hardwareID {
		s.logger.Warn("Hardware ID validation failed - mismatch detected")
		return lic, ErrHardwareMismatch
	}
	now := s.now().UTC()
	if now.Before(lic.ValidFrom) || now.After(lic.ValidUntil) {
		return lic, fmt.Errorf("valid until %s: %w", lic.ValidUntil.Format(time.RFC3339), ErrExpired)
	}

	if err := s.store.TouchLicense(ctx, lic.ID, now); err != nil {
		return nil, err
	}
	lic.ValidationCount++
	lic.LastValidatedAt = &now
	return lic, nil
}
