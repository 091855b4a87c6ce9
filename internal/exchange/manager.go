package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"voice-trade-bot-go/internal/config"
	"voice-trade-bot-go/internal/database"
	"voice-trade-bot-go/internal/validate"

	"go.uber.org/zap"
)

const marketCacheTTL = 30 * time.Minute

type marketCache struct {
	bySymbol map[string]Market
	loadedAt time.Time
}

// Status is a snapshot of the connection state.
type Status struct {
	Active     string   `json:"active"`
	Connected  []string `json:"connected"`
	Configured []string `json:"configured"`
	Supported  []string `json:"supported"`
}

// Manager owns the exchange clients, the active venue and the market cache.
type Manager struct {
	cfg       config.Exchange
	store     *database.Store
	logger    *zap.Logger
	factories map[string]Factory

	mu      sync.RWMutex
	clients map[string]Client
	public  map[string]Client
	active  string
	markets map[string]*marketCache
}

// NewManager creates a Manager with the Binance futures factory registered.
func NewManager(cfg config.Exchange, store *database.Store, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     store,
		logger:    logger.Named("exchange"),
		factories: make(map[string]Factory),
		clients:   make(map[string]Client),
		public:    make(map[string]Client),
		markets:   make(map[string]*marketCache),
	}
	m.RegisterFactory("binance", BinanceFactory(cfg, logger))
	return m
}

// RegisterFactory adds or replaces the client factory of name.
func (m *Manager) RegisterFactory(name string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[strings.ToLower(name)] = f
}

func (m *Manager) factory(name string) (Factory, error) {
	if err := validate.ExchangeName(name); err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedExchange)
	}
	m.mu.RLock()
	f, ok := m.factories[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s has no client implementation: %w", name, ErrUnsupportedExchange)
	}
	return f, nil
}

func (m *Manager) testnet(ctx context.Context, name string) bool {
	ex, err := m.store.GetExchange(ctx, name)
	if err != nil {
		return m.cfg.Testnet
	}
	return ex.Testnet
}

// Connect authenticates against name, keeps the client and makes it active.
func (m *Manager) Connect(ctx context.Context, name string, creds Credentials) error {
	name = strings.ToLower(name)
	f, err := m.factory(name)
	if err != nil {
		return err
	}
	client, err := f(creds, m.testnet(ctx, name))
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", name, err)
	}
	if _, err := client.Balance(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", name, err)
	}

	m.mu.Lock()
	m.clients[name] = client
	m.active = name
	m.mu.Unlock()

	if err := m.store.UpdateExchangeStatus(ctx, name, true); err != nil {
		m.logger.Warn("Failed to persist exchange status", zap.String("exchange", name), zap.Error(err))
	}
	m.store.InsertSystemLog(ctx, "INFO", "exchange connected", map[string]interface{}{"exchange": name})
	m.logger.Info("Connected to exchange", zap.String("exchange", name))
	return nil
}

// ConnectStored connects name using the credentials kept in the ledger.
func (m *Manager) ConnectStored(ctx context.Context, name string) error {
	creds, err := m.store.LoadAPIKeys(ctx, strings.ToLower(name))
	if err != nil {
		return err
	}
	return m.Connect(ctx, name, *creds)
}

// Disconnect drops the client of name.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	name = strings.ToLower(name)
	m.mu.Lock()
	_, ok := m.clients[name]
	delete(m.clients, name)
	if m.active == name {
		m.active = ""
		for other := range m.clients {
			m.active = other
			break
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotConnected)
	}
	if err := m.store.UpdateExchangeStatus(ctx, name, false); err != nil {
		m.logger.Warn("Failed to persist exchange status", zap.String("exchange", name), zap.Error(err))
	}
	m.logger.Info("Disconnected from exchange", zap.String("exchange", name))
	return nil
}

// SetActive selects which connected exchange receives orders.
func (m *Manager) SetActive(ctx context.Context, name string) error {
	name = strings.ToLower(name)
	m.mu.Lock()
	if _, ok := m.clients[name]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrNotConnected)
	}
	m.active = name
	m.mu.Unlock()

	if err := m.store.SetSetting(ctx, database.SettingActiveExchange, name); err != nil {
		m.logger.Warn("Failed to persist active exchange", zap.String("exchange", name), zap.Error(err))
	}
	return nil
}

// Preferred returns the exchange last made active, or the configured
// default when none was chosen.
func (m *Manager) Preferred(ctx context.Context) string {
	name, ok, err := m.store.GetSetting(ctx, database.SettingActiveExchange)
	if err != nil || !ok || name == "" {
		return m.cfg.Default
	}
	return name
}

// Active returns the name of the active exchange, "" if none.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Client returns the connected client of name ("" for the active one).
func (m *Manager) Client(name string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name == "" {
		name = m.active
	}
	c, ok := m.clients[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotConnected)
	}
	return c, nil
}

// Testnet reports whether new exchange configurations default to testnet.
func (m *Manager) Testnet() bool {
	return m.cfg.Testnet
}

// MarketExchange is the venue market data is read from: the active exchange,
// or the configured default when nothing is connected.
func (m *Manager) MarketExchange() string {
	if active := m.Active(); active != "" {
		return active
	}
	return strings.ToLower(m.cfg.Default)
}

// marketClient returns the connected client of the market exchange, or a
// keyless client for public endpoints.
func (m *Manager) marketClient() (Client, error) {
	name := m.MarketExchange()
	if c, err := m.Client(name); err == nil {
		return c, nil
	}

	m.mu.RLock()
	c, ok := m.public[name]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	f, err := m.factory(name)
	if err != nil {
		return nil, err
	}
	c, err = f(Credentials{}, m.cfg.Testnet)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s market data client: %w", name, err)
	}
	m.mu.Lock()
	m.public[name] = c
	m.mu.Unlock()
	return c, nil
}

// Balance returns the wallet of the active exchange.
func (m *Manager) Balance(ctx context.Context) (*Balance, error) {
	c, err := m.Client("")
	if err != nil {
		return nil, err
	}
	return c.Balance(ctx)
}

// Ticker returns the latest price of symbol on the market exchange.
func (m *Manager) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	c, err := m.marketClient()
	if err != nil {
		return nil, err
	}
	return c.Ticker(ctx, symbol)
}

// Markets returns the cached market list of the market exchange.
func (m *Manager) Markets(ctx context.Context) (map[string]Market, error) {
	name := m.MarketExchange()
	m.mu.RLock()
	cached, ok := m.markets[name]
	m.mu.RUnlock()
	if ok && time.Since(cached.loadedAt) < marketCacheTTL {
		return cached.bySymbol, nil
	}

	c, err := m.marketClient()
	if err != nil {
		return nil, err
	}
	list, err := c.Markets(ctx)
	if err != nil {
		return nil, err
	}
	bySymbol := make(map[string]Market, len(list))
	for _, mk := range list {
		bySymbol[mk.Symbol] = mk
	}

	m.mu.Lock()
	m.markets[name] = &marketCache{bySymbol: bySymbol, loadedAt: time.Now()}
	m.mu.Unlock()
	m.logger.Debug("Loaded markets", zap.String("exchange", name), zap.Int("count", len(bySymbol)))
	return bySymbol, nil
}

// NormalizeSymbol maps BTC, btcusdt, BTC/USDT or BTC/USDT:USDT to the
// exchange native symbol.
func (m *Manager) NormalizeSymbol(ctx context.Context, symbol string) (string, error) {
	markets, err := m.Markets(ctx)
	if err != nil {
		return "", err
	}
	for _, candidate := range symbolCandidates(symbol) {
		if _, ok := markets[candidate]; ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s on %s: %w", symbol, m.MarketExchange(), ErrUnknownSymbol)
}

// ValidateSymbol checks the format of symbol and that it is listed.
func (m *Manager) ValidateSymbol(ctx context.Context, symbol string) error {
	if err := validate.Symbol(symbol); err != nil {
		return err
	}
	_, err := m.NormalizeSymbol(ctx, symbol)
	return err
}

// MarketInfo returns the contract of a normalized symbol.
func (m *Manager) MarketInfo(ctx context.Context, symbol string) (*Market, error) {
	markets, err := m.Markets(ctx)
	if err != nil {
		return nil, err
	}
	mk, ok := markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return &mk, nil
}

func symbolCandidates(symbol string) []string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	joined := strings.ReplaceAll(s, "/", "")
	candidates := []string{joined}
	if !strings.HasSuffix(joined, "USDT") {
		candidates = append(candidates, joined+"USDT")
	}
	return candidates
}

// Status reports the active, connected and configured exchanges.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	configured, err := m.store.ConfiguredExchanges(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	st := &Status{Active: m.active, Configured: configured, Connected: make([]string, 0, len(m.clients))}
	for name := range m.clients {
		st.Connected = append(st.Connected, name)
	}
	for name := range m.factories {
		st.Supported = append(st.Supported, name)
	}
	m.mu.RUnlock()

	sort.Strings(st.Connected)
	sort.Strings(st.Supported)
	return st, nil
}

// Cleanup disconnects every exchange.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := m.Disconnect(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
