// Package command turns free-text trading commands (Turkish or English)
// into structured orders.
package command

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"voice-trade-bot-go/internal/models"
)

// Actions a command can resolve to, in detection priority.
const (
	ActionClose   = "close"
	ActionCancel  = "cancel"
	ActionBuy     = "buy"
	ActionSell    = "sell"
	ActionStop    = "stop"
	ActionStatus  = "status"
	ActionBalance = "balance"
)

var actionPriority = []string{ActionClose, ActionCancel, ActionBuy, ActionSell, ActionStop, ActionStatus, ActionBalance}

// Keyword lists are written in normalized form.
var builtinKeywords = map[string][]string{
	ActionBuy:     {"al", "satin al", "satinal", "buy", "long", "uzun", "ac", "pozisyon ac", "gir", "alim", "alalim"},
	ActionSell:    {"sat", "sell", "short", "kisa", "aciga sat", "satis", "satalim"},
	ActionClose:   {"kapat", "pozisyon kapat", "close", "cik", "cikis", "pozisyonu kapat", "kapatalim", "kapat pozisyonu"},
	ActionCancel:  {"iptal", "iptal et", "cancel", "vazgec", "sil", "emri iptal", "emri iptal et", "order iptal"},
	ActionStop:    {"dur", "durdur", "stop", "acil durum", "acil stop", "emergency", "hepsini durdur"},
	ActionStatus:  {"durum", "status", "pozisyon", "pozisyonlar", "acik pozisyon", "ne var", "goster"},
	ActionBalance: {"bakiye", "balance", "para", "hesap", "cuzdan", "ne kadar", "sermaye"},
}

var cryptoAliases = map[string]string{
	"bitcoin": "BTCUSDT", "btc": "BTCUSDT", "bitkoyn": "BTCUSDT", "bit": "BTCUSDT",
	"ethereum": "ETHUSDT", "eth": "ETHUSDT", "eter": "ETHUSDT", "eterium": "ETHUSDT",
	"bnb": "BNBUSDT", "binance": "BNBUSDT",
	"solana": "SOLUSDT", "sol": "SOLUSDT",
	"xrp": "XRPUSDT", "ripple": "XRPUSDT",
	"doge": "DOGEUSDT", "dogecoin": "DOGEUSDT", "doj": "DOGEUSDT",
	"ada": "ADAUSDT", "cardano": "ADAUSDT",
	"dot": "DOTUSDT", "polkadot": "DOTUSDT",
	"avax": "AVAXUSDT", "avalanche": "AVAXUSDT",
	"link": "LINKUSDT", "chainlink": "LINKUSDT",
	"ltc": "LTCUSDT", "litecoin": "LTCUSDT",
	"matic": "MATICUSDT", "polygon": "MATICUSDT",
}

var numberWords = map[string]int{
	"bir": 1, "iki": 2, "uc": 3, "dort": 4, "bes": 5,
	"alti": 6, "yedi": 7, "sekiz": 8, "dokuz": 9, "on": 10,
	"yirmi": 20, "otuz": 30, "kirk": 40, "elli": 50,
	"altmis": 60, "yetmis": 70, "seksen": 80, "doksan": 90,
	"yuz": 100, "bin": 1000,
}

var (
	thousandPattern = regexp.MustCompile(`\b(\d+(?:[.,]\d+)?)\s*(?:k|bin)\b`)
	currencyPattern = regexp.MustCompile(`\b(\d+(?:[.,]\d+)?)\s*(?:dolar|dollar|usd|usdt|tl|lira|euro|eur)\b`)
	numberPattern   = regexp.MustCompile(`\b(\d+(?:[.,]\d+)?)\b`)
	leveragePattern = regexp.MustCompile(`\b(\d+)\s*(?:x|kat)\b|\bx(\d+)\b`)
)

// ParsedCommand is a recognised command.
type ParsedCommand struct {
	Action     string  `json:"action"`
	Side       string  `json:"side,omitempty"`
	Symbol     string  `json:"symbol,omitempty"`
	Amount     float64 `json:"amount,omitempty"` // USD, 0 when not given
	Leverage   int     `json:"leverage,omitempty"`
	OrderType  string  `json:"order_type"`
	RawText    string  `json:"raw_text"`
	Confidence float64 `json:"confidence"`
}

// KeywordSource provides editable keywords.
type KeywordSource interface {
	ActiveKeywords(ctx context.Context, language string) ([]models.CommandKeyword, error)
}

// Parser detects actions by whole-word keyword matching.
type Parser struct {
	defaultSymbol string

	mu       sync.RWMutex
	keywords map[string][][]string
}

// NewParser creates a parser that falls back to defaultSymbol.
func NewParser(defaultSymbol string) *Parser {
	p := &Parser{defaultSymbol: defaultSymbol, keywords: make(map[string][][]string)}
	for action, words := range builtinKeywords {
		p.AddKeywords(action, words...)
	}
	return p
}

// AddKeywords extends the phrases that trigger action.
func (p *Parser) AddKeywords(action string, phrases ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, phrase := range phrases {
		tokens := strings.Fields(Normalize(phrase))
		if len(tokens) > 0 {
			p.keywords[action] = append(p.keywords[action], tokens)
		}
	}
}

// LoadKeywords adds the active keywords of language from src.
func (p *Parser) LoadKeywords(ctx context.Context, src KeywordSource, language string) error {
	kws, err := src.ActiveKeywords(ctx, language)
	if err != nil {
		return fmt.Errorf("failed to load command keywords: %w", err)
	}
	for _, kw := range kws {
		p.AddKeywords(kw.Intent, kw.Keyword)
	}
	return nil
}

// Parse returns nil when text contains no known action.
func (p *Parser) Parse(text string) *ParsedCommand {
	norm := Normalize(text)
	if norm == "" {
		return nil
	}
	tokens := strings.Fields(norm)

	action := p.detectAction(tokens)
	if action == "" {
		return nil
	}

	cmd := &ParsedCommand{Action: action, OrderType: models.OrderTypeMarket, RawText: norm, Confidence: 1}
	switch action {
	case ActionBuy, ActionSell:
		cmd.Side = models.OrderSideBuy
		if action == ActionSell {
			cmd.Side = models.OrderSideSell
		}
		cmd.Symbol = extractSymbol(tokens)
		rest := norm
		cmd.Leverage, rest = extractLeverage(rest)
		cmd.Amount = extractAmount(rest)

		if cmd.Symbol == "" {
			cmd.Symbol = p.defaultSymbol
			cmd.Confidence *= 0.8
		}
		if cmd.Amount == 0 {
			cmd.Confidence *= 0.5
		}
	case ActionClose:
		cmd.Symbol = extractSymbol(tokens)
	}
	return cmd
}

func (p *Parser) detectAction(tokens []string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, action := range actionPriority {
		for _, phrase := range p.keywords[action] {
			if containsPhrase(tokens, phrase) {
				return action
			}
		}
	}
	return ""
}

func extractSymbol(tokens []string) string {
	for _, tok := range tokens {
		if sym, ok := cryptoAliases[tok]; ok {
			return sym
		}
		if base := strings.TrimSuffix(tok, "usdt"); base != tok {
			if sym, ok := cryptoAliases[base]; ok {
				return sym
			}
		}
	}
	return ""
}

// extractLeverage removes a "10x" or "10 kat" leverage mention from text.
func extractLeverage(text string) (int, string) {
	m := leveragePattern.FindStringSubmatchIndex(text)
	if m == nil {
		return 0, text
	}
	digits := m[2:4]
	if digits[0] < 0 {
		digits = m[4:6]
	}
	lev, _ := strconv.Atoi(text[digits[0]:digits[1]])
	return lev, text[:m[0]] + " " + text[m[1]:]
}

func extractAmount(text string) float64 {
	if m := thousandPattern.FindStringSubmatch(text); m != nil {
		if v := parseNumber(m[1]); v > 0 {
			if v < 1000 {
				v *= 1000
			}
			return v
		}
	}

	converted := convertWordNumbers(text)
	for _, re := range []*regexp.Regexp{currencyPattern, numberPattern} {
		if m := re.FindStringSubmatch(converted); m != nil {
			if v := parseNumber(m[1]); v > 0 {
				return v
			}
		}
	}
	return 0
}

func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0
	}
	return v
}

// convertWordNumbers replaces runs of number words with their value, so
// "yuz elli dolar" becomes "150 dolar" and "iki bin" becomes "2000".
func convertWordNumbers(text string) string {
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	total, current, inRun := 0, 0, false

	flush := func() {
		if inRun {
			out = append(out, strconv.Itoa(total+current))
		}
		total, current, inRun = 0, 0, false
	}

	for _, tok := range tokens {
		n, ok := numberWords[tok]
		if !ok {
			flush()
			out = append(out, tok)
			continue
		}
		inRun = true
		switch n {
		case 100:
			if current == 0 {
				current = 1
			}
			current *= 100
		case 1000:
			if current == 0 {
				current = 1
			}
			total += current * 1000
			current = 0
		default:
			current += n
		}
	}
	flush()
	return strings.Join(out, " ")
}

// Summary is a one-line human readable description of cmd.
func Summary(cmd *ParsedCommand) string {
	amount := "?"
	if cmd.Amount > 0 {
		amount = strconv.FormatFloat(cmd.Amount, 'f', -1, 64)
	}
	switch cmd.Action {
	case ActionBuy:
		return fmt.Sprintf("BUY %s - %s USD", cmd.Symbol, amount)
	case ActionSell:
		return fmt.Sprintf("SELL %s - %s USD", cmd.Symbol, amount)
	case ActionClose:
		if cmd.Symbol == "" {
			return "CLOSE all positions"
		}
		return "CLOSE " + cmd.Symbol
	case ActionCancel:
		return "CANCEL pending orders"
	case ActionStop:
		return "EMERGENCY STOP"
	case ActionStatus:
		return "STATUS"
	case ActionBalance:
		return "BALANCE"
	default:
		return "UNKNOWN " + cmd.Action
	}
}
