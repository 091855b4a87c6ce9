package database

import (
	"context"
	"fmt"
	"time"

	"voice-trade-bot-go/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DayKey formats t as the daily_stats date key (UTC).
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RecordTradeStat adds one fill to the aggregate row of its day.
func (s *Store) RecordTradeStat(ctx context.Context, at time.Time, pnl, commission, volume float64) error {
	win, loss := 0, 0
	switch {
	case pnl > 0:
		win = 1
	case pnl < 0:
		loss = 1
	}

	stat := models.DailyStat{
		Date:            DayKey(at),
		TotalTrades:     1,
		WinningTrades:   win,
		LosingTrades:    loss,
		TotalPnL:        pnl,
		TotalCommission: commission,
		TotalVolume:     volume,
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_trades":     gorm.Expr("total_trades + ?", 1),
			"winning_trades":   gorm.Expr("winning_trades + ?", win),
			"losing_trades":    gorm.Expr("losing_trades + ?", loss),
			"total_pnl":        gorm.Expr("total_pnl + ?", pnl),
			"total_commission": gorm.Expr("total_commission + ?", commission),
			"total_volume":     gorm.Expr("total_volume + ?", volume),
			"updated_at":       time.Now().UTC(),
		}),
	}).Create(&stat).Error
	if err != nil {
		return fmt.Errorf("failed to record daily stat: %w", err)
	}
	return nil
}

// DailyStat returns the aggregate of day, or a zero row if nothing traded.
func (s *Store) DailyStat(ctx context.Context, day string) (*models.DailyStat, error) {
	var stat models.DailyStat
	err := s.conn(ctx).Where("date = ?", day).Limit(1).Find(&stat).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stat %s: %w", day, err)
	}
	stat.Date = day
	return &stat, nil
}

// RecentDailyStats returns the last n days that have data, newest first.
func (s *Store) RecentDailyStats(ctx context.Context, n int) ([]models.DailyStat, error) {
	var stats []models.DailyStat
	if err := s.conn(ctx).Order("date desc").Limit(n).Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	return stats, nil
}
