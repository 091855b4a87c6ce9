package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/validator.v2"
)

// Config holds all configuration for the application.
type Config struct {
	Exchange Exchange `mapstructure:"exchange"`
	Trading  Trading  `mapstructure:"trading"`
	Risk     Risk     `mapstructure:"risk"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Security Security `mapstructure:"security"`
	License  License  `mapstructure:"license"`
}

// Exchange holds connection settings shared by all exchange clients.
type Exchange struct {
	Default        string  `mapstructure:"default" validate:"nonzero"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit" validate:"min=1"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"min=1"`
	RecvWindow     int     `mapstructure:"recv_window"`
	AutoConnect    bool    `mapstructure:"auto_connect"`
}

// Server holds the configuration for the HTTP servers.
type Server struct {
	Port          int `mapstructure:"port" validate:"min=1,max=65535"`
	DashboardPort int `mapstructure:"dashboard_port"`
}

// Database holds the configuration for the database.
type Database struct {
	Driver string `mapstructure:"driver" validate:"nonzero"`
	DSN    string `mapstructure:"dsn" validate:"nonzero"`
}

// Trading holds the configuration for order execution.
type Trading struct {
	PaperTrading    bool    `mapstructure:"paper_trading"`
	PaperBalance    float64 `mapstructure:"paper_balance" validate:"min=0"`
	DefaultLeverage int     `mapstructure:"default_leverage" validate:"min=1,max=125"`
	DefaultSymbol   string  `mapstructure:"default_symbol" validate:"nonzero"`
	FeeRate         float64 `mapstructure:"fee_rate"`
	TickInterval    int     `mapstructure:"tick_interval" validate:"min=1"`
	PositionMode    string  `mapstructure:"position_mode"`
	Language        string  `mapstructure:"language"`
}

// Risk holds the initial risk limits. They are copied into the settings
// table on first start; from then on the table is authoritative.
type Risk struct {
	MaxNotionalUSD   float64 `mapstructure:"max_notional_usd"`
	MaxLeverage      int     `mapstructure:"max_leverage"`
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	DailyLossLimit   float64 `mapstructure:"daily_loss_limit"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Kafka configures the optional trade event sink.
type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Security holds the location of the credential encryption key.
type Security struct {
	KeyFile string `mapstructure:"key_file" validate:"nonzero"`
}

// License controls hardware-bound license enforcement.
type License struct {
	Required  bool   `mapstructure:"required"`
	Key       string `mapstructure:"key"`
	ValidDays int    `mapstructure:"valid_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.default", "binance")
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.rate_limit", 20) // requests per second
	v.SetDefault("exchange.rate_limit_burst", 5)
	v.SetDefault("exchange.recv_window", 5000)

	v.SetDefault("trading.paper_trading", true)
	v.SetDefault("trading.paper_balance", 10000.0)
	v.SetDefault("trading.default_leverage", 10)
	v.SetDefault("trading.default_symbol", "BTCUSDT")
	v.SetDefault("trading.fee_rate", 0.0004)
	v.SetDefault("trading.tick_interval", 5)
	v.SetDefault("trading.position_mode", "one-way")
	v.SetDefault("trading.language", "tr")

	v.SetDefault("risk.max_open_positions", 5)
	v.SetDefault("risk.daily_loss_limit", 500.0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dashboard_port", 8081)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/trading.db")

	v.SetDefault("kafka.topic", "trading-events")
	v.SetDefault("security.key_file", "data/.encryption_key")
	v.SetDefault("license.key", "")
	v.SetDefault("license.valid_days", 365)
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and env vars still apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("unmarshal config: %w", err)
	}

	err = config.Validate()
	return config, err
}

// Validate checks the struct tags and the few cross-field rules.
func (c *Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Trading.PositionMode != "" && c.Trading.PositionMode != "one-way" {
		return fmt.Errorf("invalid config: position mode %q is not supported", c.Trading.PositionMode)
	}
	return nil
}
