package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SupportedExchanges is the registry seeded into the exchanges table.
var SupportedExchanges = []models.Exchange{
	{Name: "binance", DisplayName: "Binance Futures"},
	{Name: "bybit", DisplayName: "Bybit"},
	{Name: "kucoin", DisplayName: "KuCoin Futures"},
	{Name: "mexc", DisplayName: "MEXC"},
	{Name: "okx", DisplayName: "OKX"},
}

// DefaultKeywords seeds the command lexicon; the parser also carries
// built-in lists, these rows make them editable.
var DefaultKeywords = []models.CommandKeyword{
	{Keyword: "al", Intent: "buy", Language: "tr"},
	{Keyword: "long", Intent: "buy", Language: "tr"},
	{Keyword: "sat", Intent: "sell", Language: "tr"},
	{Keyword: "short", Intent: "sell", Language: "tr"},
	{Keyword: "kapat", Intent: "close", Language: "tr"},
	{Keyword: "dur", Intent: "stop", Language: "tr"},
	{Keyword: "buy", Intent: "buy", Language: "en"},
	{Keyword: "sell", Intent: "sell", Language: "en"},
	{Keyword: "close", Intent: "close", Language: "en"},
	{Keyword: "stop", Intent: "stop", Language: "en"},
}

// NewDatabase opens the configured database and performs auto-migration.
// gorm's own logging goes to logger.
func NewDatabase(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.Database)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true, Logger: NewGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		if err := configureSQLite(db); err != nil {
			return nil, err
		}
	}

	if err := AutoMigrate(db, cfg); err != nil {
		return nil, err
	}
	return db, nil
}

func dialectorFor(cfg config.Database) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.DSN); !strings.Contains(cfg.DSN, ":memory:") && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		return sqlite.Open(SQLiteDSN(cfg.DSN)), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// SQLiteDSN appends the foreign key pragma to a SQLite DSN.
func SQLiteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// configureSQLite pins the pool to one connection so the FK pragma and
// in-memory databases are shared by every query.
func configureSQLite(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

// AutoMigrate creates or updates the tables and seeds reference data.
// Existing ledger rows are never dropped.
func AutoMigrate(db *gorm.DB, cfg *config.Config) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	for _, ex := range SupportedExchanges {
		row := ex
		if err := db.Where(models.Exchange{Name: ex.Name}).FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("failed to seed exchange '%s': %w", ex.Name, err)
		}
	}

	for _, kw := range DefaultKeywords {
		row := kw
		row.IsActive = true
		if err := db.Where(models.CommandKeyword{Keyword: kw.Keyword, Language: kw.Language}).FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("failed to seed keyword '%s': %w", kw.Keyword, err)
		}
	}

	for key, value := range riskSeed(cfg.Risk) {
		if err := seedSetting(db, key, value); err != nil {
			return err
		}
	}
	return nil
}

func riskSeed(r config.Risk) map[string]string {
	seed := make(map[string]string)
	if r.MaxNotionalUSD > 0 {
		seed[SettingMaxNotional] = fmt.Sprintf("%g", r.MaxNotionalUSD)
	}
	if r.MaxLeverage > 0 {
		seed[SettingMaxLeverage] = fmt.Sprintf("%d", r.MaxLeverage)
	}
	if r.MaxOpenPositions > 0 {
		seed[SettingMaxOpenPositions] = fmt.Sprintf("%d", r.MaxOpenPositions)
	}
	if r.DailyLossLimit > 0 {
		seed[SettingDailyLossLimit] = fmt.Sprintf("%g", r.DailyLossLimit)
	}
	return seed
}

func seedSetting(db *gorm.DB, key, value string) error {
	var existing models.Setting
	err := db.Where("key = ?", key).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to read setting '%s': %w", key, err)
	}
	if err := db.Create(&models.Setting{Key: key, Value: value}).Error; err != nil {
		return fmt.Errorf("failed to seed setting '%s': %w", key, err)
	}
	return nil
}
