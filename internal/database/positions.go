package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-trade-bot-go/internal/models"

	"gorm.io/gorm"
)

// InsertPosition creates a position row. A second row for the same
// (exchange, symbol, side, status) yields ErrDuplicatePosition.
func (s *Store) InsertPosition(ctx context.Context, p *models.Position) error {
	if p.Status == "" {
		p.Status = models.PositionStatusOpen
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	if err := s.conn(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %s %s %s: %w", p.Exchange, p.Symbol, p.Side, p.Status, ErrDuplicatePosition)
		}
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

// SavePosition writes every column of p.
func (s *Store) SavePosition(ctx context.Context, p *models.Position) error {
	if err := s.conn(ctx).Save(p).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %s %s %s: %w", p.Exchange, p.Symbol, p.Side, p.Status, ErrDuplicatePosition)
		}
		return fmt.Errorf("failed to save position %d: %w", p.ID, err)
	}
	return nil
}

// DeletePosition removes a position row that no longer has references.
func (s *Store) DeletePosition(ctx context.Context, id uint) error {
	if err := s.conn(ctx).Delete(&models.Position{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete position %d: %w", id, err)
	}
	return nil
}

// GetPosition returns a position by id.
func (s *Store) GetPosition(ctx context.Context, id uint) (*models.Position, error) {
	var p models.Position
	if err := s.conn(ctx).First(&p, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get position %d: %w", id, notFound(err))
	}
	return &p, nil
}

// OpenPosition returns the open position of exchange/symbol, or nil.
func (s *Store) OpenPosition(ctx context.Context, exchange, symbol string) (*models.Position, error) {
	var p models.Position
	err := s.conn(ctx).
		Where("exchange = ? AND symbol = ? AND status = ?", exchange, symbol, models.PositionStatusOpen).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open position %s %s: %w", exchange, symbol, err)
	}
	return &p, nil
}

// ClosedPosition returns the closed row of a tuple, or nil.
func (s *Store) ClosedPosition(ctx context.Context, exchange, symbol, side string) (*models.Position, error) {
	var p models.Position
	err := s.conn(ctx).
		Where("exchange = ? AND symbol = ? AND side = ? AND status = ?", exchange, symbol, side, models.PositionStatusClosed).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get closed position: %w", err)
	}
	return &p, nil
}

// OpenPositions returns every open position.
func (s *Store) OpenPositions(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	err := s.conn(ctx).Where("status = ?", models.PositionStatusOpen).Order("id").Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get open positions: %w", err)
	}
	return positions, nil
}

// ListPositions returns positions filtered by status ("" for all).
func (s *Store) ListPositions(ctx context.Context, status string) ([]models.Position, error) {
	q := s.conn(ctx).Model(&models.Position{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var positions []models.Position
	if err := q.Order("id").Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return positions, nil
}

// CountOpenPositions returns the number of open positions.
func (s *Store) CountOpenPositions(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&models.Position{}).Where("status = ?", models.PositionStatusOpen).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return count, nil
}

// UpdatePositionMark stores the latest mark price and unrealized PnL.
func (s *Store) UpdatePositionMark(ctx context.Context, id uint, mark, unrealized float64) error {
	err := s.conn(ctx).Model(&models.Position{}).Where("id = ?", id).Updates(map[string]interface{}{
		"mark_price":     mark,
		"unrealized_pnl": unrealized,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update mark of position %d: %w", id, err)
	}
	return nil
}

// SetProtection sets or clears (nil) stop-loss and take-profit of an open position.
func (s *Store) SetProtection(ctx context.Context, id uint, stopLoss, takeProfit *float64) error {
	res := s.conn(ctx).Model(&models.Position{}).
		Where("id = ? AND status = ?", id, models.PositionStatusOpen).
		Updates(map[string]interface{}{"stop_loss": stopLoss, "take_profit": takeProfit})
	if res.Error != nil {
		return fmt.Errorf("failed to set protection of position %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("open position %d: %w", id, ErrNotFound)
	}
	return nil
}
