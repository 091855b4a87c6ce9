package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	binanceFuturesURL        = "https://fapi.binance.com"
	binanceFuturesTestnetURL = "https://testnet.binancefuture.com"
	defaultRecvWindow        = 5000
	maxRetries               = 3
)

// BinanceFutures is a client for the Binance USDT-M futures REST API.
type BinanceFutures struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	recvWindow string
	logger     *zap.Logger
	limiter    *rate.Limiter
	backoff    time.Duration
}

// ensure BinanceFutures implements the interface
var _ Client = (*BinanceFutures)(nil)

// NewBinanceFutures creates a Binance futures client.
func NewBinanceFutures(cfg config.Exchange, creds Credentials, testnet bool, logger *zap.Logger) *BinanceFutures {
	logger = logger.Named("binance")
	baseURL := binanceFuturesURL
	if testnet {
		baseURL = binanceFuturesTestnetURL
		logger.Warn("Using Binance Futures Testnet")
	} else {
		logger.Info("Using Binance Futures Production API")
	}

	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindow
	}
	limit, burst := cfg.RateLimit, cfg.RateLimitBurst
	if limit <= 0 {
		limit = 10
	}
	if burst <= 0 {
		burst = 1
	}

	return &BinanceFutures{
		client:     resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second),
		apiKey:     creds.APIKey,
		secretKey:  creds.SecretKey,
		recvWindow: strconv.Itoa(recvWindow),
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		backoff:    time.Second,
	}
}

// BinanceFactory returns a Factory producing Binance futures clients.
func BinanceFactory(cfg config.Exchange, logger *zap.Logger) Factory {
	return func(creds Credentials, testnet bool) (Client, error) {
		return NewBinanceFutures(cfg, creds, testnet, logger), nil
	}
}

func (c *BinanceFutures) Name() string { return "binance" }

// sign creates a HMAC-SHA256 signature for the request.
func (c *BinanceFutures) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery adds timestamp, recvWindow and signature to params.
func (c *BinanceFutures) signedQuery(params url.Values) (string, error) {
	if c.apiKey == "" || c.secretKey == "" {
		return "", fmt.Errorf("binance credentials missing: %w", ErrNotConnected)
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", c.recvWindow)
	query := params.Encode()
	return query + "&signature=" + c.sign(query), nil
}

func (c *BinanceFutures) signedRequest(ctx context.Context, method, path string, params url.Values, result interface{}) (*resty.Response, error) {
	query, err := c.signedQuery(params)
	if err != nil {
		return nil, err
	}
	req := c.client.R().SetContext(ctx).SetHeader("X-MBX-APIKEY", c.apiKey)
	if result != nil {
		req.SetResult(result)
	}
	if method == http.MethodPost {
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded").SetBody(query)
		return c.doRequest(ctx, method, path, req)
	}
	// the signature covers the query exactly as sent
	return c.doRequest(ctx, method, path+"?"+query, req)
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *BinanceFutures) doRequest(ctx context.Context, method, path string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	req.SetError(&APIError{})
	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("path", path))
		resp, err = req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil && resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else {
			shouldRetry = true
		}

		if !shouldRetry {
			if apiErr, ok := resp.Error().(*APIError); ok && apiErr.Code != 0 {
				apiErr.StatusCode = resp.StatusCode()
				return nil, apiErr
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}
		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil && resp != nil {
		err = fmt.Errorf("status %s: %s", resp.Status(), resp.String())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// Ping checks connectivity with the public API.
func (c *BinanceFutures) Ping(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/ping", c.client.R().SetContext(ctx)); err != nil {
		return fmt.Errorf("failed to ping binance: %w", err)
	}
	return nil
}

type futuresBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// Balance returns the USDT futures wallet.
func (c *BinanceFutures) Balance(ctx context.Context) (*Balance, error) {
	var balances []futuresBalance
	if _, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, &balances); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	out := &Balance{Asset: "USDT"}
	for _, b := range balances {
		if b.Asset != "USDT" {
			continue
		}
		out.Total = parseFloat(b.Balance)
		out.Free = parseFloat(b.AvailableBalance)
		out.Used = math.Max(out.Total-out.Free, 0)
	}
	return out, nil
}

// Ticker returns the latest price of symbol.
func (c *BinanceFutures) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	var price struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
		Time   int64  `json:"time"`
	}
	req := c.client.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&price)
	if _, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/price", req); err != nil {
		return nil, fmt.Errorf("failed to get ticker %s: %w", symbol, err)
	}

	t := &Ticker{Symbol: price.Symbol, Last: parseFloat(price.Price), Time: time.UnixMilli(price.Time)}
	if price.Time == 0 {
		t.Time = time.Now()
	}
	return t, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		Status       string `json:"status"`
		ContractType string `json:"contractType"`
		BaseAsset    string `json:"baseAsset"`
		QuoteAsset   string `json:"quoteAsset"`
		Filters      []struct {
			FilterType string `json:"filterType"`
			MinQty     string `json:"minQty,omitempty"`
			StepSize   string `json:"stepSize,omitempty"`
			TickSize   string `json:"tickSize,omitempty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// Markets returns every trading USDT perpetual contract.
func (c *BinanceFutures) Markets(ctx context.Context) ([]Market, error) {
	var info exchangeInfo
	req := c.client.R().SetContext(ctx).SetResult(&info)
	if _, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", req); err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	markets := make([]Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.ContractType != "PERPETUAL" || s.QuoteAsset != "USDT" {
			continue
		}
		m := Market{Symbol: s.Symbol, Base: s.BaseAsset, Quote: s.QuoteAsset}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				m.StepSize = parseFloat(f.StepSize)
				m.MinQty = parseFloat(f.MinQty)
			case "PRICE_FILTER":
				m.TickSize = parseFloat(f.TickSize)
			}
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// SetLeverage changes the initial leverage of symbol.
func (c *BinanceFutures) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	if _, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, nil); err != nil {
		return fmt.Errorf("failed to set leverage %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

type futuresOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
}

func (o *futuresOrder) ack() *OrderAck {
	return &OrderAck{
		ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Status:          ledgerStatus(o.Status),
		FilledQty:       parseFloat(o.ExecutedQty),
		AvgPrice:        parseFloat(o.AvgPrice),
		CommissionAsset: "USDT",
	}
}

// PlaceOrder sends a new market or limit order.
func (c *BinanceFutures) PlaceOrder(ctx context.Context, r OrderRequest) (*OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", r.Symbol)
	params.Set("side", strings.ToUpper(r.Side))
	params.Set("type", strings.ToUpper(r.Type))
	params.Set("quantity", formatFloat(r.Quantity))
	params.Set("newOrderRespType", "RESULT")
	if r.Type == models.OrderTypeLimit {
		params.Set("price", formatFloat(r.Price))
		params.Set("timeInForce", "GTC")
	}
	if r.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if r.ClientOrderID != "" {
		params.Set("newClientOrderId", r.ClientOrderID)
	}

	var order futuresOrder
	if _, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &order); err != nil {
		c.logger.Error("Failed to create order",
			zap.Error(err),
			zap.String("symbol", r.Symbol),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	ack := order.ack()
	c.logger.Info("Successfully created order", zap.Any("order", ack))
	return ack, nil
}

// CancelOrder cancels an open order.
func (c *BinanceFutures) CancelOrder(ctx context.Context, symbol, orderID string) (*OrderAck, error) {
	var order futuresOrder
	if _, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", orderParams(symbol, orderID), &order); err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return order.ack(), nil
}

// QueryOrder returns the current state of an order.
func (c *BinanceFutures) QueryOrder(ctx context.Context, symbol, orderID string) (*OrderAck, error) {
	var order futuresOrder
	if _, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", orderParams(symbol, orderID), &order); err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", orderID, err)
	}
	return order.ack(), nil
}

func orderParams(symbol, orderID string) url.Values {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	return params
}

func ledgerStatus(s string) string {
	switch s {
	case "FILLED":
		return models.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return models.OrderStatusCancelled
	case "REJECTED":
		return models.OrderStatusRejected
	default:
		return models.OrderStatusPending
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
