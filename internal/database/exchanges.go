package database

import (
	"context"
	"errors"
	"fmt"

	"voice-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

// Credentials are decrypted API keys for one exchange.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// ErrNoCredentials is returned when an exchange has no stored API keys.
var ErrNoCredentials = errors.New("no API keys stored for exchange")

// GetExchange returns the registry row for name.
func (s *Store) GetExchange(ctx context.Context, name string) (*models.Exchange, error) {
	var ex models.Exchange
	if err := s.conn(ctx).Where("name = ?", name).First(&ex).Error; err != nil {
		return nil, fmt.Errorf("failed to get exchange '%s': %w", name, notFound(err))
	}
	return &ex, nil
}

// ListExchanges returns the full exchange registry.
func (s *Store) ListExchanges(ctx context.Context) ([]models.Exchange, error) {
	var exchanges []models.Exchange
	if err := s.conn(ctx).Order("id").Find(&exchanges).Error; err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	return exchanges, nil
}

// SaveAPIKeys encrypts and stores credentials for name and marks it configured.
func (s *Store) SaveAPIKeys(ctx context.Context, name string, creds Credentials, testnet bool) error {
	if s.cipher == nil {
		return errors.New("credential storage requires an encryption key")
	}
	apiKey, err := s.cipher.EncryptToBase64(creds.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	secret, err := s.cipher.EncryptToBase64(creds.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret key: %w", err)
	}
	var passphrase *string
	if creds.Passphrase != "" {
		p, err := s.cipher.EncryptToBase64(creds.Passphrase)
		if err != nil {
			return fmt.Errorf("failed to encrypt passphrase: %w", err)
		}
		passphrase = &p
	}

	res := s.conn(ctx).Model(&models.Exchange{}).Where("name = ?", name).Updates(map[string]interface{}{
		"api_key":       apiKey,
		"secret_key":    secret,
		"passphrase":    passphrase,
		"is_configured": true,
		"testnet":       testnet,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to save API keys for %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to save API keys for %s: %w", name, ErrNotFound)
	}
	s.logger.Info("API keys saved", zap.String("exchange", name))
	return nil
}

// LoadAPIKeys returns the decrypted credentials of name.
func (s *Store) LoadAPIKeys(ctx context.Context, name string) (*Credentials, error) {
	ex, err := s.GetExchange(ctx, name)
	if err != nil {
		return nil, err
	}
	if ex.APIKey == nil || *ex.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrNoCredentials)
	}
	if s.cipher == nil {
		return nil, errors.New("credential storage requires an encryption key")
	}

	creds := &Credentials{}
	if creds.APIKey, err = s.cipher.DecryptFromBase64(*ex.APIKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt keys for %s: %w", name, err)
	}
	if ex.SecretKey != nil {
		if creds.SecretKey, err = s.cipher.DecryptFromBase64(*ex.SecretKey); err != nil {
			return nil, fmt.Errorf("failed to decrypt keys for %s: %w", name, err)
		}
	}
	if ex.Passphrase != nil && *ex.Passphrase != "" {
		if creds.Passphrase, err = s.cipher.DecryptFromBase64(*ex.Passphrase); err != nil {
			return nil, fmt.Errorf("failed to decrypt keys for %s: %w", name, err)
		}
	}
	return creds, nil
}

// DeleteAPIKeys clears credentials and the configured/connected flags.
func (s *Store) DeleteAPIKeys(ctx context.Context, name string) error {
	err := s.conn(ctx).Model(&models.Exchange{}).Where("name = ?", name).Updates(map[string]interface{}{
		"api_key":       nil,
		"secret_key":    nil,
		"passphrase":    nil,
		"is_configured": false,
		"is_connected":  false,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to delete API keys for %s: %w", name, err)
	}
	s.logger.Info("API keys deleted", zap.String("exchange", name))
	return nil
}

// UpdateExchangeStatus persists the connection flag of name.
func (s *Store) UpdateExchangeStatus(ctx context.Context, name string, connected bool) error {
	err := s.conn(ctx).Model(&models.Exchange{}).Where("name = ?", name).Update("is_connected", connected).Error
	if err != nil {
		return fmt.Errorf("failed to update exchange status for %s: %w", name, err)
	}
	return nil
}

// ConfiguredExchanges lists exchanges that have API keys stored.
func (s *Store) ConfiguredExchanges(ctx context.Context) ([]string, error) {
	return s.exchangeNames(ctx, "is_configured = ?", true)
}

// ConnectedExchanges lists exchanges currently flagged as connected.
func (s *Store) ConnectedExchanges(ctx context.Context) ([]string, error) {
	return s.exchangeNames(ctx, "is_connected = ?", true)
}

func (s *Store) exchangeNames(ctx context.Context, query string, arg interface{}) ([]string, error) {
	var names []string
	err := s.conn(ctx).Model(&models.Exchange{}).Where(query, arg).Order("id").Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	return names, nil
}
