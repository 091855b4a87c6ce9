// Package validate checks user supplied trading parameters and credentials.
// Every function returns nil when the input is acceptable.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	apiKeyPattern    = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
	secretKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-+=/]+$`)
	symbolPattern    = regexp.MustCompile(`^[A-Z0-9]+/?[A-Z0-9]+$`)

	// CommonQuotes are quote currencies a symbol is expected to end with.
	CommonQuotes = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}

	// SupportedExchanges are the venue names accepted by ExchangeName.
	SupportedExchanges = []string{"binance", "bybit", "kucoin", "mexc", "okx"}

	orderSides   = []string{"BUY", "SELL", "LONG", "SHORT"}
	orderTypes   = []string{"MARKET", "LIMIT", "STOP_MARKET", "STOP_LIMIT", "TAKE_PROFIT_MARKET", "TAKE_PROFIT_LIMIT"}
	timeInForces = []string{"GTC", "IOC", "FOK", "GTX"}
)

const maxDecimals = 8

// APIKey validates the format of an exchange API key.
func APIKey(key string) error {
	return credential("API key", key, apiKeyPattern)
}

// SecretKey validates the format of an exchange secret.
func SecretKey(secret string) error {
	return credential("Secret key", secret, secretKeyPattern)
}

func credential(name, value string, pattern *regexp.Regexp) error {
	const minLen, maxLen = 16, 128
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return fmt.Errorf("%s cannot be empty", name)
	case len(value) < minLen:
		return fmt.Errorf("%s too short (minimum %d characters)", name, minLen)
	case len(value) > maxLen:
		return fmt.Errorf("%s too long (maximum %d characters)", name, maxLen)
	case !pattern.MatchString(value):
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

// Symbol validates a trading pair such as BTCUSDT or BTC/USDT.
func Symbol(symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case symbol == "":
		return fmt.Errorf("symbol cannot be empty")
	case len(symbol) < 6:
		return fmt.Errorf("symbol too short")
	case len(symbol) > 20:
		return fmt.Errorf("symbol too long")
	case !symbolPattern.MatchString(symbol):
		return fmt.Errorf("invalid symbol format")
	}
	return nil
}

// HasCommonQuote reports whether symbol ends with a well-known quote currency.
func HasCommonQuote(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	for _, q := range CommonQuotes {
		if strings.HasSuffix(symbol, q) || strings.Contains(symbol, "/"+q) {
			return true
		}
	}
	return false
}

// Quantity validates an order quantity; max <= 0 means unbounded.
func Quantity(qty, min, max float64) error {
	return bounded("Quantity", qty, min, max)
}

// Price validates an order price; max <= 0 means unbounded.
func Price(price, min, max float64) error {
	return bounded("Price", price, min, max)
}

func bounded(name string, v, min, max float64) error {
	if v <= min {
		return fmt.Errorf("%s must be greater than %g", name, min)
	}
	if max > 0 && v > max {
		return fmt.Errorf("%s cannot exceed %g", name, max)
	}
	if decimals(v) > maxDecimals {
		return fmt.Errorf("%s has too many decimal places (max %d)", name, maxDecimals)
	}
	return nil
}

func decimals(v float64) int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// Leverage validates a leverage multiplier in [min, max].
func Leverage(leverage, min, max int) error {
	if leverage < min {
		return fmt.Errorf("leverage must be at least %dx", min)
	}
	if leverage > max {
		return fmt.Errorf("leverage cannot exceed %dx", max)
	}
	return nil
}

// Percentage validates a percentage in [min, max].
func Percentage(p, min, max float64) error {
	if p < min {
		return fmt.Errorf("percentage must be at least %g%%", min)
	}
	if p > max {
		return fmt.Errorf("percentage cannot exceed %g%%", max)
	}
	return nil
}

// OrderSide accepts BUY, SELL, LONG or SHORT in any case.
func OrderSide(side string) error {
	return oneOf("order side", side, orderSides, strings.ToUpper)
}

// OrderType accepts the futures order types understood by the exchanges.
func OrderType(orderType string) error {
	return oneOf("order type", orderType, orderTypes, strings.ToUpper)
}

// TimeInForce accepts GTC, IOC, FOK or GTX.
func TimeInForce(tif string) error {
	return oneOf("time in force", tif, timeInForces, strings.ToUpper)
}

// ExchangeName accepts the supported venue names in any case.
func ExchangeName(name string) error {
	return oneOf("exchange", name, SupportedExchanges, strings.ToLower)
}

func oneOf(what, value string, allowed []string, fold func(string) string) error {
	value = fold(strings.TrimSpace(value))
	if value == "" {
		return fmt.Errorf("%s cannot be empty", what)
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s, must be one of: %s", what, strings.Join(allowed, ", "))
}
