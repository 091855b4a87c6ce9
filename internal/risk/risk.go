// Package risk enforces per-order limits read from the settings table.
package risk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

// Rule names used in LimitError.
const (
	RuleMaxNotional      = "max_notional"
	RuleMaxLeverage      = "max_leverage"
	RuleMaxOpenPositions = "max_open_positions"
	RuleDailyLossLimit   = "daily_loss_limit"
)

// LimitError is returned when an order breaks a risk rule.
type LimitError struct {
	Rule  string
	Value float64
	Limit float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("risk limit %s exceeded: value=%.2f limit=%.2f", e.Rule, e.Value, e.Limit)
}

// Ledger is the part of the store the risk manager reads.
type Ledger interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	CountOpenPositions(ctx context.Context) (int64, error)
	DailyStat(ctx context.Context, day string) (*models.DailyStat, error)
	InsertSystemLog(ctx context.Context, level, message string, fields map[string]interface{})
}

// OrderContext describes the order being checked.
type OrderContext struct {
	Symbol        string
	Side          string
	NotionalUSD   float64
	Leverage      int
	IsPaper       bool
	OpensPosition bool
}

// Limits is the current rule set; nil means the rule is disabled.
type Limits struct {
	MaxNotionalUSD   *float64 `json:"max_notional_usd"`
	MaxLeverage      *float64 `json:"max_leverage"`
	MaxOpenPositions *float64 `json:"max_open_positions"`
	DailyLossLimit   *float64 `json:"daily_loss_limit"`
}

// Manager runs the risk checks.
type Manager struct {
	ledger Ledger
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a risk manager on top of ledger.
func NewManager(ledger Ledger, logger *zap.Logger) *Manager {
	return &Manager{ledger: ledger, logger: logger.Named("risk"), now: time.Now}
}

// Limits reads the current limits.
func (m *Manager) Limits(ctx context.Context) Limits {
	return Limits{
		MaxNotionalUSD:   m.floatSetting(ctx, database.SettingMaxNotional),
		MaxLeverage:      m.floatSetting(ctx, database.SettingMaxLeverage),
		MaxOpenPositions: m.floatSetting(ctx, database.SettingMaxOpenPositions),
		DailyLossLimit:   m.floatSetting(ctx, database.SettingDailyLossLimit),
	}
}

// CheckOrder returns a *LimitError for the first rule the order breaks.
func (m *Manager) CheckOrder(ctx context.Context, o OrderContext) error {
	limits := m.Limits(ctx)

	if limits.MaxNotionalUSD != nil && o.NotionalUSD > *limits.MaxNotionalUSD {
		return m.violation(ctx, o, RuleMaxNotional, o.NotionalUSD, *limits.MaxNotionalUSD)
	}
	if limits.MaxLeverage != nil && float64(o.Leverage) > *limits.MaxLeverage {
		return m.violation(ctx, o, RuleMaxLeverage, float64(o.Leverage), *limits.MaxLeverage)
	}
	if limits.MaxOpenPositions != nil && o.OpensPosition {
		count, err := m.ledger.CountOpenPositions(ctx)
		if err != nil {
			return fmt.Errorf("failed to count open positions: %w", err)
		}
		if float64(count) >= *limits.MaxOpenPositions {
			return m.violation(ctx, o, RuleMaxOpenPositions, float64(count), *limits.MaxOpenPositions)
		}
	}
	if limits.DailyLossLimit != nil {
		stat, err := m.ledger.DailyStat(ctx, database.DayKey(m.now()))
		if err != nil {
			return fmt.Errorf("failed to read daily stats: %w", err)
		}
		if loss := -stat.TotalPnL; loss >= *limits.DailyLossLimit {
			return m.violation(ctx, o, RuleDailyLossLimit, loss, *limits.DailyLossLimit)
		}
	}
	return nil
}

func (m *Manager) violation(ctx context.Context, o OrderContext, rule string, value, limit float64) error {
	m.logger.Warn("Risk limit exceeded",
		zap.String("rule", rule),
		zap.String("symbol", o.Symbol),
		zap.Float64("value", value),
		zap.Float64("limit", limit),
	)
	m.ledger.InsertSystemLog(ctx, "RISK", rule+" limit exceeded", map[string]interface{}{
		"symbol":       o.Symbol,
		"side":         o.Side,
		"notional_usd": o.NotionalUSD,
		"leverage":     o.Leverage,
		"value":        value,
		"limit":        limit,
		"is_paper":     o.IsPaper,
	})
	return &LimitError{Rule: rule, Value: value, Limit: limit}
}

func (m *Manager) floatSetting(ctx context.Context, key string) *float64 {
	value, ok, err := m.ledger.GetSetting(ctx, key)
	if err != nil {
		m.logger.Warn("Failed to read risk setting", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		m.logger.Warn("Ignoring non-numeric risk setting", zap.String("key", key), zap.String("value", value))
		return nil
	}
	return &f
}
