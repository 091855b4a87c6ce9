package database_test

import (
	"context"
	"testing"
	"time"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/database/databasetest"
	"voice-trade-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "trading.db?_foreign_keys=on", database.SQLiteDSN("trading.db"))
	assert.Equal(t, "file::memory:?cache=shared&_foreign_keys=on", database.SQLiteDSN("file::memory:?cache=shared"))
	assert.Equal(t, "x.db?_fk=1", database.SQLiteDSN("x.db?_fk=1"))
}

func TestAutoMigrate_SeedsReferenceData(t *testing.T) {
	cfg := databasetest.Config()
	cfg.Risk = config.Risk{MaxNotionalUSD: 2500, MaxLeverage: 20}
	store := databasetest.NewStoreWithConfig(t, cfg)
	ctx := context.Background()

	exchanges, err := store.ListExchanges(ctx)
	require.NoError(t, err)
	assert.Len(t, exchanges, len(database.SupportedExchanges))

	value, ok, err := store.GetSetting(ctx, database.SettingMaxNotional)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2500", value)

	_, ok, err = store.GetSetting(ctx, database.SettingDailyLossLimit)
	require.NoError(t, err)
	assert.False(t, ok, "unset limits must not be seeded")

	kws, err := store.ActiveKeywords(ctx, "tr")
	require.NoError(t, err)
	assert.NotEmpty(t, kws)

	// Running the migration again keeps operator changes.
	require.NoError(t, store.SetSetting(ctx, database.SettingMaxNotional, "100"))
	require.NoError(t, database.AutoMigrate(store.DB(), cfg))
	value, _, _ = store.GetSetting(ctx, database.SettingMaxNotional)
	assert.Equal(t, "100", value)
}

func TestPositionUniqueness(t *testing.T) {
	store := databasetest.NewStore(t)
	ctx := context.Background()

	first := &models.Position{Exchange: "binance", Symbol: "BTCUSDT", Side: models.PositionSideLong, EntryPrice: 100, Quantity: 1}
	require.NoError(t, store.InsertPosition(ctx, first))

	dup := &models.Position{Exchange: "binance", Symbol: "BTCUSDT", Side: models.PositionSideLong, EntryPrice: 101, Quantity: 2}
	err := store.InsertPosition(ctx, dup)
	assert.ErrorIs(t, err, database.ErrDuplicatePosition)

	t.Run("DifferentStatusAllowed", func(t *testing.T) {
		closed := &models.Position{Exchange: "binance", Symbol: "BTCUSDT", Side: models.PositionSideLong, Status: models.PositionStatusClosed, EntryPrice: 90, Quantity: 1}
		assert.NoError(t, store.InsertPosition(ctx, closed))
	})

	t.Run("DifferentSideAllowed", func(t *testing.T) {
		short := &models.Position{Exchange: "binance", Symbol: "BTCUSDT", Side: models.PositionSideShort, EntryPrice: 100, Quantity: 1}
		assert.NoError(t, store.InsertPosition(ctx, short))
	})
}

func TestForeignKeys(t *testing.T) {
	store := databasetest.NewStore(t)
	ctx := context.Background()

	t.Run("OrderWithUnknownPosition", func(t *testing.T) {
		missing := uint(999)
		order := &models.Order{Exchange: "binance", Symbol: "BTCUSDT", Side: "buy", Type: "market", Quantity: 1, PositionID: &missing}
		assert.Error(t, store.InsertOrder(ctx, order))
	})

	t.Run("TradeWithUnknownOrder", func(t *testing.T) {
		trade := &models.Trade{Exchange: "binance", OrderID: 999, Symbol: "BTCUSDT", Side: "buy", Price: 1, Quantity: 1}
		assert.Error(t, store.InsertTrade(ctx, trade))
	})

	t.Run("ValidReferences", func(t *testing.T) {
		pos := &models.Position{Exchange: "binance", Symbol: "ETHUSDT", Side: models.PositionSideLong, EntryPrice: 2000, Quantity: 1}
		require.NoError(t, store.InsertPosition(ctx, pos))
		order := &models.Order{Exchange: "binance", Symbol: "ETHUSDT", Side: "buy", Type: "market", Quantity: 1, PositionID: &pos.ID}
		require.NoError(t, store.InsertOrder(ctx, order))
		trade := &models.Trade{Exchange: "binance", OrderID: order.ID, PositionID: &pos.ID, Symbol: "ETHUSDT", Side: "buy", Price: 2000, Quantity: 1}
		require.NoError(t, store.InsertTrade(ctx, trade))

		trades, err := store.TradesByOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Len(t, trades, 1)
	})
}

func TestSettings(t *testing.T) {
	store := databasetest.NewStore(t)
	ctx := context.Background()

	_, ok, err := store.GetSetting(ctx, "ui.theme")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSetting(ctx, "ui.theme", "dark"))
	require.NoError(t, store.SetSetting(ctx, "ui.theme", "light"))

	value, ok, err := store.GetSetting(ctx, "ui.theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "light", value)

	require.NoError(t, store.DeleteSetting(ctx, "ui.theme"))
	_, ok, _ = store.GetSetting(ctx, "ui.theme")
	assert.False(t, ok)
}

func TestAPIKeys(t *testing.T) {
	store := databasetest.NewStore(t)
	ctx := context.Background()

	_, err := store.LoadAPIKeys(ctx, "binance")
	assert.ErrorIs(t, err, database.ErrNoCredentials)

	creds := database.Credentials{APIKey: "key-1234567890abcdef", SecretKey: "secret-1234567890abcdef", Passphrase: "pass"}
	require.NoError(t, store.SaveAPIKeys(ctx, "binance", creds, true))

	ex, err := store.GetExchange(ctx, "binance")
	require.NoError(t, err)
	assert.True(t, ex.IsConfigured)
	require.NotNil(t, ex.APIKey)
	assert.NotEqual(t, creds.APIKey, *ex.APIKey, "keys must be stored encrypted")

	loaded, err := store.LoadAPIKeys(ctx, "binance")
	require.NoError(t, err)
	assert.Equal(t, creds, *loaded)

	configured, err := store.ConfiguredExchanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"binance"}, configured)

	require.NoError(t, store.UpdateExchangeStatus(ctx, "binance", true))
	connected, err := store.ConnectedExchanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"binance"}, connected)

	require.NoError(t, store.DeleteAPIKeys(ctx, "binance"))
	configured, _ = store.ConfiguredExchanges(ctx)
	connected, _ = store.ConnectedExchanges(ctx)
	assert.Empty(t, configured)
	assert.Empty(t, connected)

	assert.ErrorIs(t, store.SaveAPIKeys(ctx, "unknown", creds, true), database.ErrNotFound)
}

func TestOrders(t *testing.T) {
	store := databasetest.NewStore(t)
	ctx := context.Background()

	paperOrder := &models.Order{Exchange: "binance", Symbol: "BTCUSDT", Side: "buy", Type: "market", Quantity: 0.1, IsPaperTrade: true}
	realOrder := &models.Order{Exchange: "binance", Symbol: "BTCUSDT", Side: "sell", Type: "limit", Quantity: 0.1}
	require.NoError(t, store.InsertOrder(ctx, paperOrder))
	require.NoError(t, store.InsertOrder(ctx, realOrder))
	assert.Equal(t, models.OrderStatusPending, paperOrder.Status)

	filled, avg := 0.1, 30000.0
	require.NoError(t, store.UpdateOrderStatus(ctx, paperOrder.ID, database.OrderUpdate{
		Status: models.OrderStatusFilled, FilledQuantity: &filled, AverageFillPrice: &avg,
	}))
	got, err := store.GetOrder(ctx, paperOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, got.Status)
	assert.Equal(t, 0.1, got.FilledQuantity)
	assert.Equal(t, 30000.0, got.AverageFillPrice)
	assert.Equal(t, 0.0, got.Commission, "nil fields stay untouched")

	paper := true
	onlyPaper, err := store.RecentOrders(ctx, 10, &paper)
	require.NoError(t, err)
	require.Len(t, onlyPaper, 1)
	assert.Equal(t, paperOrder.ID, onlyPaper[0].ID)

	all, err := store.RecentOrders(ctx, 10, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := store.CancelPendingOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	pending, err := store.CountPendingOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	_, err = store.GetOrder(ctx, 12345)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.ErrorIs(t, store.UpdateOrderStatus(ctx, 12345, database.OrderUpdate{Status: "filled"}), database.ErrNotFound)
}

func TestRecordTradeStat(t *testing.T) {
	store := databasetest.NewStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordTradeStat(ctx, day, 25, 1, 1000))
	require.NoError(t, store.RecordTradeStat(ctx, day.Add(time.Hour), -10, 0.5, 500))
	require.NoError(t, store.RecordTradeStat(ctx, day.Add(2*time.Hour), 0, 0.2, 200))

	stat, err := store.DailyStat(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 3, stat.TotalTrades)
	assert.Equal(t, 1, stat.WinningTrades)
	assert.Equal(t, 1, stat.LosingTrades)
	assert.InDelta(t, 15.0, stat.TotalPnL, 1e-9)
	assert.InDelta(t, 1.7, stat.TotalCommission, 1e-9)
	assert.InDelta(t, 1700.0, stat.TotalVolume, 1e-9)

	empty, err := store.DailyStat(ctx, "2026-03-15")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalTrades)
}

func TestSystemLogsAndVoiceCommands(t *testing.T) {
	store := databasetest.NewStore(t)
	ctx := context.Background()

	store.InsertSystemLog(ctx, "INFO", "Order recorded", map[string]interface{}{"symbol": "BTCUSDT"})
	logs, err := store.RecentSystemLogs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.JSONEq(t, `{"symbol":"BTCUSDT"}`, logs[0].Context)

	_, err = store.AddVoiceCommand(ctx, "buy", "uzun pozisyon", "tr")
	require.NoError(t, err)
	cmds, err := store.ActiveVoiceCommands(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "buy", cmds[0].Category)

	require.NoError(t, store.AddKeyword(ctx, "girelim", "buy", "tr"))
	assert.Error(t, store.AddKeyword(ctx, "girelim", "buy", "tr"), "keyword is unique per language")
}
