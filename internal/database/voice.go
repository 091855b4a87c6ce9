package database

import (
	"context"
	"fmt"

	"voice-trade-bot-go/internal/models"
)

// ActiveVoiceCommands returns every enabled phrase mapping in insertion order.
func (s *Store) ActiveVoiceCommands(ctx context.Context) ([]models.VoiceCommand, error) {
	var cmds []models.VoiceCommand
	if err := s.conn(ctx).Where("is_active = ?", true).Order("id").Find(&cmds).Error; err != nil {
		return nil, fmt.Errorf("failed to load voice commands: %w", err)
	}
	return cmds, nil
}

// AddVoiceCommand stores a new phrase mapping.
func (s *Store) AddVoiceCommand(ctx context.Context, category, phrase, language string) (*models.VoiceCommand, error) {
	cmd := models.VoiceCommand{Category: category, Phrase: phrase, Language: language, IsActive: true}
	if err := s.conn(ctx).Create(&cmd).Error; err != nil {
		return nil, fmt.Errorf("failed to add voice command: %w", err)
	}
	return &cmd, nil
}

// ActiveKeywords returns enabled keywords, optionally for one language.
func (s *Store) ActiveKeywords(ctx context.Context, language string) ([]models.CommandKeyword, error) {
	q := s.conn(ctx).Where("is_active = ?", true)
	if language != "" {
		q = q.Where("language = ?", language)
	}
	var kws []models.CommandKeyword
	if err := q.Order("id").Find(&kws).Error; err != nil {
		return nil, fmt.Errorf("failed to load command keywords: %w", err)
	}
	return kws, nil
}

// AddKeyword stores a trigger word for intent.
func (s *Store) AddKeyword(ctx context.Context, keyword, intent, language string) error {
	kw := models.CommandKeyword{Keyword: keyword, Intent: intent, Language: language, IsActive: true}
	if err := s.conn(ctx).Create(&kw).Error; err != nil {
		return fmt.Errorf("failed to add keyword '%s': %w", keyword, err)
	}
	return nil
}
