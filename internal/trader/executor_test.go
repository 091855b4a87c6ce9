package trader

import (
	"context"
	"errors"
	"testing"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/database/databasetest"
	"voice-trade-bot-go/internal/events"
	"voice-trade-bot-go/internal/events/eventstest"
	"voice-trade-bot-go/internal/exchange"
	"voice-trade-bot-go/internal/exchange/exchangetest"
	"voice-trade-bot-go/internal/models"
	"voice-trade-bot-go/internal/paper"
	"voice-trade-bot-go/internal/position"
	"voice-trade-bot-go/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testEnv struct {
	store     *database.Store
	client    *exchangetest.MockClient
	exchanges *exchange.Manager
	paper     *paper.Engine
	ledger    *position.Ledger
	executor  *Executor
	events    *eventstest.Recorder
}

// setupTest creates a full test environment with a mock exchange and an
// in-memory ledger.
func setupTest(t *testing.T, paperMode bool) *testEnv {
	t.Helper()
	store := databasetest.NewStore(t)
	log := zap.NewNop()

	client := exchangetest.NewMockClient("binance")
	client.On("Markets").Return(exchangetest.USDTMarkets("BTCUSDT", "ETHUSDT"), nil).Maybe()
	mgr := exchange.NewManager(config.Exchange{Default: "binance", Testnet: true}, store, log)
	mgr.RegisterFactory("binance", client.Factory())

	cfg := config.Trading{PaperTrading: paperMode, PaperBalance: 10000, DefaultLeverage: 10, DefaultSymbol: "BTCUSDT", TickInterval: 1}
	pe := paper.NewEngine(cfg.PaperBalance, 0, log)
	ledger := position.NewLedger(store, log)
	rec := &eventstest.Recorder{}
	ex := NewExecutor(cfg, store, mgr, pe, risk.NewManager(store, log), ledger, rec, log)

	return &testEnv{store: store, client: client, exchanges: mgr, paper: pe, ledger: ledger, executor: ex, events: rec}
}

func (env *testEnv) connect(t *testing.T, free float64) {
	t.Helper()
	env.client.On("Balance").Return(&exchange.Balance{Asset: "USDT", Total: free, Free: free}, nil)
	require.NoError(t, env.exchanges.Connect(context.Background(), "binance", exchange.Credentials{APIKey: "k", SecretKey: "s"}))
}

func ticker(price float64) *exchange.Ticker {
	return &exchange.Ticker{Symbol: "BTCUSDT", Last: price}
}

func TestExecuteMarketOrder_PaperOpenAndClose(t *testing.T) {
	env := setupTest(t, true)
	ctx := context.Background()

	env.client.On("Ticker", "BTCUSDT").Return(ticker(50000), nil).Once()
	env.client.On("Ticker", "BTCUSDT").Return(ticker(51000), nil).Once()

	res, err := env.executor.ExecuteMarketOrder(ctx, OrderParams{Symbol: "BTC/USDT", Side: "BUY", Amount: 1000})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.IsPaper)
	assert.Equal(t, PaperExchange, res.Exchange)
	assert.Equal(t, models.OrderStatusFilled, res.Status)
	assert.Equal(t, "paper-1", res.ExchangeOrderID)
	assert.InDelta(t, 0.02, res.FilledQty, 1e-12)
	assert.NotEmpty(t, res.ClientOrderID)

	order, err := env.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.True(t, order.IsPaperTrade)
	assert.Equal(t, 10, order.Leverage, "default leverage applies")
	require.NotNil(t, order.PositionID)

	open, err := env.store.OpenPosition(ctx, PaperExchange, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, models.PositionSideLong, open.Side)
	assert.InDelta(t, 100.0, open.Margin, 1e-9)
	assert.InDelta(t, 9900.0, env.paper.Balance().Free, 1e-9)

	results, err := env.executor.ClosePosition(ctx, "btcusdt")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, models.OrderSideSell, results[0].Side)
	assert.InDelta(t, 20.0, results[0].RealizedPnL, 1e-9)

	closeOrder, err := env.store.GetOrder(ctx, results[0].OrderID)
	require.NoError(t, err)
	assert.True(t, closeOrder.ReduceOnly)

	open, err = env.store.OpenPosition(ctx, PaperExchange, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, open)
	assert.InDelta(t, 10020.0, env.paper.Balance().Free, 1e-9)

	assert.Equal(t, []string{events.TypeOrderRecorded, events.TypePositionClosed, events.TypeOrderRecorded}, env.events.Types())

	_, err = env.executor.ClosePosition(ctx, "BTCUSDT")
	assert.True(t, errors.Is(err, ErrNoPosition))
	env.client.AssertExpectations(t)
}

func TestExecuteMarketOrder_Validation(t *testing.T) {
	env := setupTest(t, true)
	ctx := context.Background()

	tests := []struct {
		name   string
		params OrderParams
	}{
		{"UnknownSide", OrderParams{Symbol: "BTCUSDT", Side: "hold", Amount: 100}},
		{"ZeroAmount", OrderParams{Symbol: "BTCUSDT", Side: "buy"}},
		{"LeverageTooHigh", OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 100, Leverage: 200}},
		{"BadSymbol", OrderParams{Symbol: "BTC-USDT", Side: "buy", Amount: 100}},
		{"UnlistedSymbol", OrderParams{Symbol: "DOGEUSDT", Side: "buy", Amount: 100}},
		{"LimitTypeOnMarketCall", OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 100, OrderType: "limit"}},
		{"BadAmountType", OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 100, AmountType: "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.executor.ExecuteMarketOrder(ctx, tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrOrderValidation), err.Error())
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.ErrorMessage)
		})
	}

	orders, err := env.store.RecentOrders(ctx, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, orders, "validation failures are not recorded")
	env.client.AssertNotCalled(t, "Ticker", mock.Anything)
}

func TestExecuteLimitOrder_Paper(t *testing.T) {
	env := setupTest(t, true)
	ctx := context.Background()

	_, err := env.executor.ExecuteLimitOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 980})
	assert.True(t, errors.Is(err, ErrOrderValidation))

	_, err = env.executor.ExecuteLimitOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 980, Price: 49000, OrderType: "market"})
	assert.True(t, errors.Is(err, ErrOrderValidation))

	res, err := env.executor.ExecuteLimitOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "sell", Amount: 980, Price: 49000, Leverage: 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.02, res.FilledQty, 1e-12)
	assert.Equal(t, 49000.0, res.AvgPrice)

	order, err := env.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderTypeLimit, order.Type)
	require.NotNil(t, order.Price)
	assert.Equal(t, 49000.0, *order.Price)

	open, err := env.store.OpenPosition(ctx, PaperExchange, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, models.PositionSideShort, open.Side)
	env.client.AssertNotCalled(t, "Ticker", mock.Anything)
}

func TestExecuteLimitOrder_RoundsPriceToTick(t *testing.T) {
	env := setupTest(t, false)
	ctx := context.Background()
	env.connect(t, 1000)

	env.client.On("SetLeverage", "BTCUSDT", 10).Return(nil)
	env.client.On("PlaceOrder", mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Price == 48000.3 && req.Quantity == 0.01
	})).Return(&exchange.OrderAck{ExchangeOrderID: "9", Status: models.OrderStatusPending}, nil).Once()

	res, err := env.executor.ExecuteLimitOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 0.01, AmountType: AmountQty, Price: 48000.37})
	require.NoError(t, err)

	order, err := env.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order.Price)
	assert.Equal(t, 48000.3, *order.Price)
	env.client.AssertExpectations(t)
}

func TestExecuteMarketOrder_Rejections(t *testing.T) {
	t.Run("RiskLimit", func(t *testing.T) {
		env := setupTest(t, true)
		ctx := context.Background()
		require.NoError(t, env.store.SetSetting(ctx, database.SettingMaxNotional, "500"))
		env.client.On("Ticker", "BTCUSDT").Return(ticker(50000), nil)

		res, err := env.executor.ExecuteMarketOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 1000})
		var limitErr *risk.LimitError
		require.True(t, errors.As(err, &limitErr))
		assert.Equal(t, risk.RuleMaxNotional, limitErr.Rule)
		assert.Equal(t, models.OrderStatusRejected, res.Status)

		order, err := env.store.GetOrder(ctx, res.OrderID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusRejected, order.Status)
		assert.Contains(t, order.ErrorMessage, "max_notional")
		assert.Zero(t, env.paper.Position("BTCUSDT"))
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		env := setupTest(t, true)
		ctx := context.Background()
		env.client.On("Ticker", "BTCUSDT").Return(ticker(50000), nil)

		res, err := env.executor.ExecuteMarketOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 20000, Leverage: 1})
		assert.True(t, errors.Is(err, ErrInsufficientBalance))
		assert.Equal(t, models.OrderStatusRejected, res.Status)

		orders, err := env.store.RecentOrders(ctx, 10, nil)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, models.OrderStatusRejected, orders[0].Status)
	})

	t.Run("TickerUnavailable", func(t *testing.T) {
		env := setupTest(t, true)
		ctx := context.Background()
		env.client.On("Ticker", "BTCUSDT").Return(nil, errors.New("timeout"))

		_, err := env.executor.ExecuteMarketOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 100})
		assert.True(t, errors.Is(err, ErrOrderExecution))
	})

	t.Run("BelowStepSize", func(t *testing.T) {
		env := setupTest(t, true)
		ctx := context.Background()
		env.client.On("Ticker", "BTCUSDT").Return(ticker(50000), nil)

		_, err := env.executor.ExecuteMarketOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 10})
		assert.True(t, errors.Is(err, ErrOrderExecution))
	})

	t.Run("RealModeWithoutExchange", func(t *testing.T) {
		env := setupTest(t, false)
		_, err := env.executor.ExecuteMarketOrder(context.Background(), OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 100})
		assert.True(t, errors.Is(err, exchange.ErrNotConnected))
		assert.True(t, errors.Is(err, ErrOrderValidation))
	})
}

func TestExecuteMarketOrder_Real(t *testing.T) {
	env := setupTest(t, false)
	ctx := context.Background()
	env.connect(t, 1000)

	env.client.On("Ticker", "BTCUSDT").Return(ticker(50000), nil)
	env.client.On("SetLeverage", "BTCUSDT", 5).Return(nil)
	env.client.On("PlaceOrder", mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Symbol == "BTCUSDT" && req.Side == "buy" && req.Type == "market" && req.Quantity == 0.01 && !req.ReduceOnly
	})).Return(&exchange.OrderAck{
		ExchangeOrderID: "123",
		Symbol:          "BTCUSDT",
		Status:          models.OrderStatusFilled,
		FilledQty:       0.01,
		AvgPrice:        50010,
		Commission:      0.2,
		CommissionAsset: "USDT",
	}, nil)

	res, err := env.executor.ExecuteMarketOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "long", Amount: 500, Leverage: 5, VoiceCommand: "bitcoin al"})
	require.NoError(t, err)
	assert.False(t, res.IsPaper)
	assert.Equal(t, "binance", res.Exchange)
	assert.Equal(t, "123", res.ExchangeOrderID)

	order, err := env.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.False(t, order.IsPaperTrade)
	require.NotNil(t, order.VoiceCommand)
	assert.Equal(t, "bitcoin al", *order.VoiceCommand)
	assert.Equal(t, 0.2, order.Commission)

	open, err := env.store.OpenPosition(ctx, "binance", "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, 50010.0, open.EntryPrice)

	trades, err := env.store.TradesByOrder(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 0.2, trades[0].Commission)
	env.client.AssertExpectations(t)
}

func TestGetOrderStatus_AppliesNewFills(t *testing.T) {
	env := setupTest(t, false)
	ctx := context.Background()
	env.connect(t, 1000)

	env.client.On("SetLeverage", "BTCUSDT", 10).Return(nil)
	env.client.On("PlaceOrder", mock.AnythingOfType("exchange.OrderRequest")).
		Return(&exchange.OrderAck{ExchangeOrderID: "77", Status: models.OrderStatusPending}, nil)
	env.client.On("QueryOrder", "BTCUSDT", "77").
		Return(&exchange.OrderAck{ExchangeOrderID: "77", Status: models.OrderStatusPending, FilledQty: 0.005, AvgPrice: 48000}, nil).Once()
	env.client.On("QueryOrder", "BTCUSDT", "77").
		Return(&exchange.OrderAck{ExchangeOrderID: "77", Status: models.OrderStatusFilled, FilledQty: 0.01, AvgPrice: 48500}, nil).Once()

	res, err := env.executor.ExecuteLimitOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 0.01, AmountType: AmountQty, Price: 48000})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, res.Status)

	open, err := env.store.OpenPosition(ctx, "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, open, "nothing filled yet")

	order, err := env.executor.GetOrderStatus(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.InDelta(t, 0.005, order.FilledQuantity, 1e-12)

	order, err = env.executor.GetOrderStatus(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)

	open, err = env.store.OpenPosition(ctx, "binance", "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.InDelta(t, 0.01, open.Quantity, 1e-12)
	assert.InDelta(t, 48500.0, open.EntryPrice, 1e-6)

	trades, err := env.store.TradesByOrder(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.InDelta(t, 49000.0, trades[1].Price, 1e-6)

	// Settled orders are not queried again.
	_, err = env.executor.GetOrderStatus(ctx, res.OrderID)
	require.NoError(t, err)
	env.client.AssertNumberOfCalls(t, "QueryOrder", 2)
}

func TestCancelOrder(t *testing.T) {
	env := setupTest(t, false)
	ctx := context.Background()
	env.connect(t, 1000)

	env.client.On("SetLeverage", "BTCUSDT", 10).Return(nil)
	env.client.On("PlaceOrder", mock.AnythingOfType("exchange.OrderRequest")).
		Return(&exchange.OrderAck{ExchangeOrderID: "88", Status: models.OrderStatusPending}, nil)
	env.client.On("CancelOrder", "BTCUSDT", "88").
		Return(&exchange.OrderAck{ExchangeOrderID: "88", Status: models.OrderStatusCancelled}, nil).Once()

	res, err := env.executor.ExecuteLimitOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 480, Price: 48000})
	require.NoError(t, err)

	order, err := env.executor.CancelOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	_, err = env.executor.CancelOrder(ctx, res.OrderID)
	assert.True(t, errors.Is(err, ErrNotCancellable))

	_, err = env.executor.CancelOrder(ctx, 999)
	assert.True(t, errors.Is(err, database.ErrNotFound))
	env.client.AssertExpectations(t)
}

func TestSetPaperTrading(t *testing.T) {
	env := setupTest(t, true)
	ctx := context.Background()
	assert.True(t, env.executor.PaperTrading())

	require.NoError(t, env.executor.SetPaperTrading(ctx, false))
	assert.False(t, env.executor.PaperTrading())

	value, ok, err := env.store.GetSetting(ctx, database.SettingPaperTrading)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", value)

	restarted := NewExecutor(config.Trading{PaperTrading: true}, env.store, env.exchanges, env.paper, risk.NewManager(env.store, zap.NewNop()), env.ledger, nil, zap.NewNop())
	require.NoError(t, restarted.LoadSettings(ctx))
	assert.False(t, restarted.PaperTrading(), "the stored toggle wins over config")
}

func TestEmergencyStop(t *testing.T) {
	t.Run("ClosesEverything", func(t *testing.T) {
		env := setupTest(t, true)
		ctx := context.Background()
		env.client.On("Ticker", "BTCUSDT").Return(ticker(50000), nil)

		_, err := env.executor.ExecuteMarketOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 1000})
		require.NoError(t, err)
		pending := &models.Order{Exchange: "binance", Symbol: "ETHUSDT", Side: "buy", Type: "limit", Quantity: 1}
		require.NoError(t, env.store.InsertOrder(ctx, pending))

		stopped := false
		env.executor.OnEmergencyStop(func() { stopped = true })

		report := env.executor.EmergencyStop(ctx)
		assert.True(t, report.Success, report.Errors)
		assert.Equal(t, 1, report.CancelledOrders)
		assert.Equal(t, []string{"BTCUSDT"}, report.ClosedPositions)
		assert.Empty(t, report.ForceClosedPositions)
		assert.True(t, stopped)

		n, err := env.store.CountOpenPositions(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Contains(t, env.events.Types(), events.TypeEmergencyStop)
	})

	t.Run("FallsBackToLedgerClose", func(t *testing.T) {
		env := setupTest(t, true)
		ctx := context.Background()
		env.client.On("Ticker", "BTCUSDT").Return(ticker(50000), nil).Once()
		env.client.On("Ticker", "BTCUSDT").Return(nil, errors.New("exchange down"))

		_, err := env.executor.ExecuteMarketOrder(ctx, OrderParams{Symbol: "BTCUSDT", Side: "buy", Amount: 1000})
		require.NoError(t, err)

		report := env.executor.EmergencyStop(ctx)
		assert.False(t, report.Success)
		assert.NotEmpty(t, report.Errors)
		assert.Empty(t, report.ClosedPositions)
		assert.Equal(t, []string{"BTCUSDT"}, report.ForceClosedPositions)

		n, err := env.store.CountOpenPositions(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Zero(t, env.paper.Position("BTCUSDT"))
		assert.InDelta(t, 10000.0, env.paper.Balance().Free, 1e-9)
	})
}

func TestExecuteMarketOrder_UncommonQuote(t *testing.T) {
	env := setupTest(t, true)
	core, logs := observer.New(zap.WarnLevel)
	env.executor.logger = zap.New(core)

	_, err := env.executor.ExecuteMarketOrder(context.Background(), OrderParams{Symbol: "BTCTRY", Side: "buy", Amount: 100})
	assert.True(t, errors.Is(err, exchange.ErrUnknownSymbol))
	assert.True(t, errors.Is(err, ErrOrderValidation))

	warned := logs.FilterMessage("Uncommon quote currency").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "BTCTRY", warned[0].ContextMap()["symbol"])
}
