package command

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"voice-trade-bot-go/internal/models"
)

// VoiceCommandSource provides the phrase table.
type VoiceCommandSource interface {
	ActiveVoiceCommands(ctx context.Context) ([]models.VoiceCommand, error)
}

type lexiconEntry struct {
	category string
	phrase   string
	tokens   []string
}

// Lexicon maps known phrases to command categories.
type Lexicon struct {
	mu      sync.RWMutex
	entries []lexiconEntry
}

// NewLexicon creates an empty lexicon.
func NewLexicon() *Lexicon {
	return &Lexicon{}
}

// Load replaces the entries with the active rows of src.
func (l *Lexicon) Load(ctx context.Context, src VoiceCommandSource) error {
	rows, err := src.ActiveVoiceCommands(ctx)
	if err != nil {
		return fmt.Errorf("failed to load voice commands: %w", err)
	}
	entries := make([]lexiconEntry, 0, len(rows))
	for _, r := range rows {
		tokens := strings.Fields(Normalize(r.Phrase))
		if len(tokens) == 0 {
			continue
		}
		entries = append(entries, lexiconEntry{category: r.Category, phrase: r.Phrase, tokens: tokens})
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// Len returns the number of loaded phrases.
func (l *Lexicon) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Match returns the first phrase found in text.
func (l *Lexicon) Match(text string) (category, phrase string, ok bool) {
	tokens := strings.Fields(Normalize(text))
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if containsPhrase(tokens, e.tokens) {
			return e.category, e.phrase, true
		}
	}
	return "", "", false
}
