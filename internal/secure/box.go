package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const keySize = 32 // AES-256

// ErrDecrypt is returned when ciphertext is malformed or fails authentication.
var ErrDecrypt = errors.New("decryption failed: invalid or corrupted data")

// Box encrypts exchange credentials at rest with AES-256-GCM.
type Box struct {
	aead   cipher.AEAD
	logger *zap.Logger
}

// NewBox loads the key stored at keyFile, generating and persisting a new
// one (mode 0600) if the file does not exist yet.
func NewBox(keyFile string, logger *zap.Logger) (*Box, error) {
	key, err := os.ReadFile(keyFile)
	switch {
	case err == nil:
		logger.Info("Encryption key loaded", zap.String("path", keyFile))
	case errors.Is(err, os.ErrNotExist):
		if key, err = GenerateKey(); err != nil {
			return nil, fmt.Errorf("generate encryption key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
		if err := os.WriteFile(keyFile, key, 0o600); err != nil {
			return nil, fmt.Errorf("save encryption key: %w", err)
		}
		logger.Info("New encryption key generated", zap.String("path", keyFile))
	default:
		return nil, fmt.Errorf("load encryption key: %w", err)
	}

	return NewBoxFromKey(key, logger)
}

// NewBoxFromKey builds a Box around a raw 32-byte key.
func NewBoxFromKey(key []byte, logger *zap.Logger) (*Box, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Box{aead: aead, logger: logger}, nil
}

// GenerateKey returns a fresh random key suitable for NewBoxFromKey.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext; the random nonce is prepended to the ciphertext.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func (b *Box) Decrypt(data []byte) ([]byte, error) {
	ns := b.aead.NonceSize()
	if len(data) < ns {
		return nil, ErrDecrypt
	}
	plain, err := b.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		b.logger.Error("Decryption failed", zap.Error(err))
		return nil, ErrDecrypt
	}
	return plain, nil
}

// EncryptToBase64 encrypts a string and returns it base64 encoded.
func (b *Box) EncryptToBase64(s string) (string, error) {
	sealed, err := b.Encrypt([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptFromBase64 reverses EncryptToBase64.
func (b *Box) DecryptFromBase64(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain, err := b.Decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
