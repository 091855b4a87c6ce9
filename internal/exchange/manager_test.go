package exchange_test

import (
	"context"
	"errors"
	"testing"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/database/databasetest"
	"voice-trade-bot-go/internal/exchange"
	"voice-trade-bot-go/internal/exchange/exchangetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupManager(t *testing.T) (*exchange.Manager, *exchangetest.MockClient, *database.Store) {
	store := databasetest.NewStore(t)
	m := exchange.NewManager(config.Exchange{Default: "binance", Testnet: true}, store, zap.NewNop())
	client := exchangetest.NewMockClient("binance")
	m.RegisterFactory("binance", client.Factory())
	return m, client, store
}

func TestManager_ConnectAndDisconnect(t *testing.T) {
	m, client, store := setupManager(t)
	ctx := context.Background()

	client.On("Balance").Return(&exchange.Balance{Asset: "USDT", Total: 100, Free: 100}, nil)

	require.NoError(t, m.Connect(ctx, "Binance", exchange.Credentials{APIKey: "k", SecretKey: "s"}))
	assert.Equal(t, "binance", m.Active())

	ex, err := store.GetExchange(ctx, "binance")
	require.NoError(t, err)
	assert.True(t, ex.IsConnected)

	c, err := m.Client("")
	require.NoError(t, err)
	assert.Equal(t, "binance", c.Name())

	b, err := m.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, b.Free)

	require.NoError(t, m.Disconnect(ctx, "binance"))
	assert.Equal(t, "", m.Active())
	ex, err = store.GetExchange(ctx, "binance")
	require.NoError(t, err)
	assert.False(t, ex.IsConnected)

	_, err = m.Balance(ctx)
	assert.True(t, errors.Is(err, exchange.ErrNotConnected))
	assert.True(t, errors.Is(m.Disconnect(ctx, "binance"), exchange.ErrNotConnected))
	client.AssertExpectations(t)
}

func TestManager_ConnectFailure(t *testing.T) {
	m, client, store := setupManager(t)
	ctx := context.Background()

	client.On("Balance").Return(nil, errors.New("invalid api key"))

	err := m.Connect(ctx, "binance", exchange.Credentials{APIKey: "k", SecretKey: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, "", m.Active())

	ex, err := store.GetExchange(ctx, "binance")
	require.NoError(t, err)
	assert.False(t, ex.IsConnected)
}

func TestManager_UnsupportedExchanges(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	for _, name := range []string{"bybit", "kraken"} {
		err := m.Connect(ctx, name, exchange.Credentials{})
		assert.True(t, errors.Is(err, exchange.ErrUnsupportedExchange), name)
	}
	assert.True(t, errors.Is(m.SetActive(ctx, "okx"), exchange.ErrNotConnected))
}

func TestManager_ConnectStored(t *testing.T) {
	m, client, store := setupManager(t)
	ctx := context.Background()

	err := m.ConnectStored(ctx, "binance")
	assert.True(t, errors.Is(err, database.ErrNoCredentials))

	require.NoError(t, store.SaveAPIKeys(ctx, "binance", database.Credentials{APIKey: "k", SecretKey: "s"}, true))
	client.On("Balance").Return(&exchange.Balance{Asset: "USDT"}, nil)
	require.NoError(t, m.ConnectStored(ctx, "binance"))

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "binance", st.Active)
	assert.Equal(t, []string{"binance"}, st.Connected)
	assert.Equal(t, []string{"binance"}, st.Configured)
	assert.Contains(t, st.Supported, "binance")

	require.NoError(t, m.Cleanup(ctx))
	st, err = m.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Connected)
}

func TestManager_MarketDataWithoutConnection(t *testing.T) {
	m, client, _ := setupManager(t)
	ctx := context.Background()

	client.On("Ticker", "BTCUSDT").Return(&exchange.Ticker{Symbol: "BTCUSDT", Last: 65000}, nil)
	client.On("Markets").Return(exchangetest.USDTMarkets("BTCUSDT", "ETHUSDT"), nil).Once()

	assert.Equal(t, "binance", m.MarketExchange())
	ticker, err := m.Ticker(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 65000.0, ticker.Last)

	testCases := []struct {
		input string
		want  string
	}{
		{"BTCUSDT", "BTCUSDT"},
		{"btc", "BTCUSDT"},
		{"BTC/USDT", "BTCUSDT"},
		{"eth/usdt:usdt", "ETHUSDT"},
	}
	for _, tc := range testCases {
		got, err := m.NormalizeSymbol(ctx, tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}

	_, err = m.NormalizeSymbol(ctx, "DOGE")
	assert.True(t, errors.Is(err, exchange.ErrUnknownSymbol))
	assert.Error(t, m.ValidateSymbol(ctx, "BTC-USDT"))
	assert.NoError(t, m.ValidateSymbol(ctx, "BTC/USDT"))

	mk, err := m.MarketInfo(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.001, mk.StepSize)

	// Markets is served from cache after the first load.
	client.AssertNumberOfCalls(t, "Markets", 1)
	client.AssertExpectations(t)
}

func TestManager_SetActive(t *testing.T) {
	m, client, _ := setupManager(t)
	ctx := context.Background()

	second := exchangetest.NewMockClient("okx")
	m.RegisterFactory("okx", second.Factory())
	client.On("Balance").Return(&exchange.Balance{}, nil)
	second.On("Balance").Return(&exchange.Balance{}, nil)

	require.NoError(t, m.Connect(ctx, "binance", exchange.Credentials{}))
	require.NoError(t, m.Connect(ctx, "okx", exchange.Credentials{}))
	assert.Equal(t, "okx", m.Active())

	assert.Equal(t, "binance", m.Preferred(ctx), "configured default until one is chosen")
	require.NoError(t, m.SetActive(ctx, "binance"))
	assert.Equal(t, "binance", m.Active())
	require.NoError(t, m.SetActive(ctx, "okx"))
	assert.Equal(t, "okx", m.Preferred(ctx))
	require.NoError(t, m.SetActive(ctx, "binance"))

	require.NoError(t, m.Disconnect(ctx, "binance"))
	assert.Equal(t, "okx", m.Active(), "another connected exchange takes over")
	second.AssertNotCalled(t, "PlaceOrder", mock.Anything)
}
