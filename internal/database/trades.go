package database

import (
	"context"
	"fmt"
	"time"

	"voice-trade-bot-go/internal/models"
)

// InsertTrade stores an executed fill.
func (s *Store) InsertTrade(ctx context.Context, trade *models.Trade) error {
	if err := s.conn(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// TradesByOrder returns the fills of one order, oldest first.
func (s *Store) TradesByOrder(ctx context.Context, orderID uint) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.conn(ctx).Where("order_id = ?", orderID).Order("created_at asc, id asc").Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get trades for order %d: %w", orderID, err)
	}
	return trades, nil
}

// RecentTrades returns the newest fills first.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.conn(ctx).Order("created_at desc, id desc").Limit(limit).Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get recent trades: %w", err)
	}
	return trades, nil
}

// ClosingTradesSince returns fills that realized PnL at or after t.
func (s *Store) ClosingTradesSince(ctx context.Context, t time.Time) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.conn(ctx).Where("created_at >= ? AND pnl != 0", t).Order("created_at").Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	return trades, nil
}

// ClosingTrades returns every fill that realized PnL.
func (s *Store) ClosingTrades(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.conn(ctx).Where("pnl != 0").Order("created_at").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	return trades, nil
}

// RepointTrades moves trades of one position onto another.
func (s *Store) RepointTrades(ctx context.Context, fromPositionID, toPositionID uint) error {
	err := s.conn(ctx).Model(&models.Trade{}).
		Where("position_id = ?", fromPositionID).
		Update("position_id", toPositionID).Error
	if err != nil {
		return fmt.Errorf("failed to re-point trades of position %d: %w", fromPositionID, err)
	}
	return nil
}
