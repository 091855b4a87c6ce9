package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	t.Run("FileValuesOverrideDefaults", func(t *testing.T) {
		dir := writeConfig(t, `
exchange:
  default: binance
trading:
  default_leverage: 5
  paper_balance: 2500
risk:
  max_notional_usd: 1000
database:
  driver: sqlite
  dsn: test.db
`)
		cfg, err := LoadConfig(dir)
		require.NoError(t, err)

		assert.Equal(t, "binance", cfg.Exchange.Default)
		assert.Equal(t, 5, cfg.Trading.DefaultLeverage)
		assert.Equal(t, 2500.0, cfg.Trading.PaperBalance)
		assert.Equal(t, 1000.0, cfg.Risk.MaxNotionalUSD)
		assert.Equal(t, "test.db", cfg.Database.DSN)
		// defaults still apply for keys the file omits
		assert.Equal(t, "BTCUSDT", cfg.Trading.DefaultSymbol)
		assert.Equal(t, 20.0, cfg.Exchange.RateLimit)
	})

	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.True(t, cfg.Trading.PaperTrading)
		assert.Equal(t, 10, cfg.Trading.DefaultLeverage)
	})

	t.Run("EnvironmentOverride", func(t *testing.T) {
		t.Setenv("TRADING_DEFAULT_SYMBOL", "ETHUSDT")
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "ETHUSDT", cfg.Trading.DefaultSymbol)
	})

	t.Run("InvalidLeverageRejected", func(t *testing.T) {
		dir := writeConfig(t, `
trading:
  default_leverage: 500
`)
		_, err := LoadConfig(dir)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("UnsupportedDriverRejected", func(t *testing.T) {
		dir := writeConfig(t, `
database:
  driver: oracle
  dsn: x
`)
		_, err := LoadConfig(dir)
		assert.Error(t, err)
	})
}
