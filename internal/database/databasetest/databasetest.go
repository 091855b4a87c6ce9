// Package databasetest provides in-memory ledger stores for tests.
package databasetest

import (
	"testing"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/database"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// StaticCipher is a reversible stand-in for secure.Box in tests.
type StaticCipher struct{}

func (StaticCipher) EncryptToBase64(plain string) (string, error) { return "enc:" + plain, nil }

func (StaticCipher) DecryptFromBase64(sealed string) (string, error) {
	return sealed[len("enc:"):], nil
}

// Config returns a config pointing at a private in-memory SQLite database.
func Config() *config.Config {
	return &config.Config{
		Database: config.Database{Driver: "sqlite", DSN: "file::memory:"},
	}
}

// NewStore migrates a fresh in-memory database and wraps it in a Store.
func NewStore(t *testing.T) *database.Store {
	t.Helper()
	return NewStoreWithConfig(t, Config())
}

// NewStoreWithConfig is NewStore with custom risk seeds.
func NewStoreWithConfig(t *testing.T, cfg *config.Config) *database.Store {
	t.Helper()
	db, err := database.NewDatabase(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return database.NewStore(db, StaticCipher{}, zap.NewNop())
}
