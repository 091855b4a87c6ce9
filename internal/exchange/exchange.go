// Package exchange connects the bot to futures venues.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-trade-bot-go/internal/database"
)

var (
	// ErrUnsupportedExchange is returned for venues without a registered client.
	ErrUnsupportedExchange = errors.New("exchange is not supported")
	// ErrNotConnected is returned when an operation needs a connected exchange.
	ErrNotConnected = errors.New("exchange is not connected")
	// ErrUnknownSymbol is returned when a symbol is not listed on the exchange.
	ErrUnknownSymbol = errors.New("symbol is not listed on exchange")
)

// Credentials are the API keys used to authenticate with a venue.
type Credentials = database.Credentials

// Client is the minimal futures API the bot needs from an exchange.
type Client interface {
	Name() string
	Ping(ctx context.Context) error
	Balance(ctx context.Context) (*Balance, error)
	Ticker(ctx context.Context, symbol string) (*Ticker, error)
	Markets(ctx context.Context) ([]Market, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (*OrderAck, error)
	QueryOrder(ctx context.Context, symbol, orderID string) (*OrderAck, error)
}

// Factory builds a client for one venue. Empty credentials produce a client
// limited to public market data.
type Factory func(creds Credentials, testnet bool) (Client, error)

// Balance is the USDT margin wallet of an account.
type Balance struct {
	Asset string  `json:"asset"`
	Total float64 `json:"total"`
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
}

// Ticker is the latest traded price of a symbol.
type Ticker struct {
	Symbol string    `json:"symbol"`
	Last   float64   `json:"last"`
	Time   time.Time `json:"time"`
}

// Market describes a tradable perpetual contract.
type Market struct {
	Symbol   string  `json:"symbol"`
	Base     string  `json:"base"`
	Quote    string  `json:"quote"`
	StepSize float64 `json:"step_size"`
	TickSize float64 `json:"tick_size"`
	MinQty   float64 `json:"min_qty"`
}

// OrderRequest is a new order. Side and Type use the ledger vocabulary
// (buy/sell, market/limit).
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      float64
	Price         float64
	ReduceOnly    bool
	ClientOrderID string
}

// OrderAck is the exchange view of an order. Status uses the ledger
// vocabulary (pending/filled/cancelled/rejected).
type OrderAck struct {
	ExchangeOrderID string  `json:"exchange_order_id"`
	ClientOrderID   string  `json:"client_order_id"`
	Symbol          string  `json:"symbol"`
	Status          string  `json:"status"`
	FilledQty       float64 `json:"filled_qty"`
	AvgPrice        float64 `json:"avg_price"`
	Commission      float64 `json:"commission"`
	CommissionAsset string  `json:"commission_asset"`
}

// APIError is an error payload returned by an exchange.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d (http %d): %s", e.Code, e.StatusCode, e.Message)
}
