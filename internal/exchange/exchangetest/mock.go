// Package exchangetest provides a testify mock of exchange.Client.
package exchangetest

import (
	"context"

	"voice-trade-bot-go/internal/exchange"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of exchange.Client.
type MockClient struct {
	mock.Mock
	ExchangeName string
}

var _ exchange.Client = (*MockClient)(nil)

// NewMockClient returns a mock named name.
func NewMockClient(name string) *MockClient {
	return &MockClient{ExchangeName: name}
}

// Factory returns an exchange.Factory that always yields m.
func (m *MockClient) Factory() exchange.Factory {
	return func(exchange.Credentials, bool) (exchange.Client, error) {
		return m, nil
	}
}

func (m *MockClient) Name() string { return m.ExchangeName }

func (m *MockClient) Ping(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockClient) Balance(ctx context.Context) (*exchange.Balance, error) {
	args := m.Called()
	b, _ := args.Get(0).(*exchange.Balance)
	return b, args.Error(1)
}

func (m *MockClient) Ticker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	args := m.Called(symbol)
	t, _ := args.Get(0).(*exchange.Ticker)
	return t, args.Error(1)
}

func (m *MockClient) Markets(ctx context.Context) ([]exchange.Market, error) {
	args := m.Called()
	mk, _ := args.Get(0).([]exchange.Market)
	return mk, args.Error(1)
}

func (m *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return m.Called(symbol, leverage).Error(0)
}

func (m *MockClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	args := m.Called(req)
	ack, _ := args.Get(0).(*exchange.OrderAck)
	return ack, args.Error(1)
}

func (m *MockClient) CancelOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderAck, error) {
	args := m.Called(symbol, orderID)
	ack, _ := args.Get(0).(*exchange.OrderAck)
	return ack, args.Error(1)
}

func (m *MockClient) QueryOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderAck, error) {
	args := m.Called(symbol, orderID)
	ack, _ := args.Get(0).(*exchange.OrderAck)
	return ack, args.Error(1)
}

// USDTMarkets lists perpetual contracts for symbols with a 0.001 step.
func USDTMarkets(symbols ...string) []exchange.Market {
	out := make([]exchange.Market, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, exchange.Market{Symbol: s, Base: s[:len(s)-4], Quote: "USDT", StepSize: 0.001, TickSize: 0.1, MinQty: 0.001})
	}
	return out
}
