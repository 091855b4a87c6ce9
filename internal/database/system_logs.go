package database

import (
	"context"
	"encoding/json"

	"voice-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

// InsertSystemLog writes an audit entry. Failures are logged and swallowed
// so auditing never breaks the trading path.
func (s *Store) InsertSystemLog(ctx context.Context, level, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		payload = []byte("{}")
	}
	entry := models.SystemLog{Level: level, Message: message, Context: string(payload)}
	if err := s.conn(ctx).Create(&entry).Error; err != nil {
		s.logger.Warn("Failed to write system log", zap.String("message", message), zap.Error(err))
	}
}

// RecentSystemLogs returns the newest audit entries first.
func (s *Store) RecentSystemLogs(ctx context.Context, limit int) ([]models.SystemLog, error) {
	var logs []models.SystemLog
	err := s.conn(ctx).Order("created_at desc, id desc").Limit(limit).Find(&logs).Error
	return logs, err
}
