package database

import (
	"context"
	"fmt"

	"voice-trade-bot-go/internal/models"
)

// OrderUpdate carries the execution fields of an order status change.
// An empty Status and nil fields are left untouched.
type OrderUpdate struct {
	Status           string
	ExchangeOrderID  *string
	FilledQuantity   *float64
	AverageFillPrice *float64
	Commission       *float64
	CommissionAsset  *string
	PositionID       *uint
	ErrorMessage     *string
}

// InsertOrder stores a new order and fills in its ID.
func (s *Store) InsertOrder(ctx context.Context, order *models.Order) error {
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	if err := s.conn(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus sets the status of an order plus any provided fields.
func (s *Store) UpdateOrderStatus(ctx context.Context, id uint, upd OrderUpdate) error {
	fields := map[string]interface{}{}
	if upd.Status != "" {
		fields["status"] = upd.Status
	}
	if upd.ExchangeOrderID != nil {
		fields["exchange_order_id"] = *upd.ExchangeOrderID
	}
	if upd.FilledQuantity != nil {
		fields["filled_quantity"] = *upd.FilledQuantity
	}
	if upd.AverageFillPrice != nil {
		fields["average_fill_price"] = *upd.AverageFillPrice
	}
	if upd.Commission != nil {
		fields["commission"] = *upd.Commission
	}
	if upd.CommissionAsset != nil {
		fields["commission_asset"] = *upd.CommissionAsset
	}
	if upd.PositionID != nil {
		fields["position_id"] = *upd.PositionID
	}
	if upd.ErrorMessage != nil {
		fields["error_message"] = *upd.ErrorMessage
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.conn(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to update order %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetOrder returns a single order by ledger id.
func (s *Store) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := s.conn(ctx).First(&order, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, notFound(err))
	}
	return &order, nil
}

// RecentOrders returns the newest orders, optionally filtered by the paper flag.
func (s *Store) RecentOrders(ctx context.Context, limit int, paper *bool) ([]models.Order, error) {
	q := s.conn(ctx).Model(&models.Order{})
	if paper != nil {
		q = q.Where("is_paper_trade = ?", *paper)
	}
	var orders []models.Order
	if err := q.Order("created_at desc, id desc").Limit(limit).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to get recent orders: %w", err)
	}
	return orders, nil
}

// PendingOrders returns every order still waiting for a fill.
func (s *Store) PendingOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.conn(ctx).Where("status = ?", models.OrderStatusPending).Order("id").Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pending orders: %w", err)
	}
	return orders, nil
}

// CountPendingOrders returns the number of pending orders.
func (s *Store) CountPendingOrders(ctx context.Context) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&models.Order{}).Where("status = ?", models.OrderStatusPending).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending orders: %w", err)
	}
	return count, nil
}

// CancelPendingOrders marks every pending order cancelled and returns how many changed.
func (s *Store) CancelPendingOrders(ctx context.Context) (int64, error) {
	res := s.conn(ctx).Model(&models.Order{}).
		Where("status = ?", models.OrderStatusPending).
		Update("status", models.OrderStatusCancelled)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel pending orders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RepointOrders moves orders of one position onto another.
func (s *Store) RepointOrders(ctx context.Context, fromPositionID, toPositionID uint) error {
	err := s.conn(ctx).Model(&models.Order{}).
		Where("position_id = ?", fromPositionID).
		Update("position_id", toPositionID).Error
	if err != nil {
		return fmt.Errorf("failed to re-point orders of position %d: %w", fromPositionID, err)
	}
	return nil
}
