package database

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicatePosition is returned when a position with the same
	// (exchange, symbol, side, status) already exists.
	ErrDuplicatePosition = errors.New("position already exists for exchange, symbol, side and status")
)

// Cipher encrypts credentials before they are written to the exchanges table.
type Cipher interface {
	EncryptToBase64(plain string) (string, error)
	DecryptFromBase64(sealed string) (string, error)
}

// Store is the ledger repository on top of gorm.
type Store struct {
	db     *gorm.DB
	cipher Cipher
	logger *zap.Logger
}

// NewStore creates a Store. cipher may be nil when credentials are never
// stored, in which case the API key helpers return an error.
func NewStore(db *gorm.DB, cipher Cipher, logger *zap.Logger) *Store {
	return &Store{db: db, cipher: cipher, logger: logger.Named("store")}
}

// DB exposes the underlying handle for callers that need raw queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn inside a database transaction with a Store bound to it.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, cipher: s.cipher, logger: s.logger})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
