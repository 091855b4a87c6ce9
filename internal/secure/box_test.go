package secure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBox_GeneratesAndReloadsKey(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "config", ".encryption_key")

	first, err := NewBox(keyFile, zap.NewNop())
	require.NoError(t, err)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	sealed, err := first.EncryptToBase64("my-api-key")
	require.NoError(t, err)

	second, err := NewBox(keyFile, zap.NewNop())
	require.NoError(t, err)
	plain, err := second.DecryptFromBase64(sealed)
	require.NoError(t, err)
	assert.Equal(t, "my-api-key", plain)
}

func TestBox_EncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	box, err := NewBoxFromKey(key, zap.NewNop())
	require.NoError(t, err)

	t.Run("CiphertextDiffersEachTime", func(t *testing.T) {
		a, err := box.EncryptToBase64("secret")
		require.NoError(t, err)
		b, err := box.EncryptToBase64("secret")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
		assert.NotContains(t, a, "secret")
	})

	t.Run("UnicodeRoundTrip", func(t *testing.T) {
		sealed, err := box.EncryptToBase64("şifre-çok-gizli")
		require.NoError(t, err)
		plain, err := box.DecryptFromBase64(sealed)
		require.NoError(t, err)
		assert.Equal(t, "şifre-çok-gizli", plain)
	})

	t.Run("TamperedData", func(t *testing.T) {
		sealed, err := box.Encrypt([]byte("secret"))
		require.NoError(t, err)
		sealed[len(sealed)-1] ^= 0xFF
		_, err = box.Decrypt(sealed)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("WrongKey", func(t *testing.T) {
		sealed, err := box.EncryptToBase64("secret")
		require.NoError(t, err)
		otherKey, _ := GenerateKey()
		other, err := NewBoxFromKey(otherKey, zap.NewNop())
		require.NoError(t, err)
		_, err = other.DecryptFromBase64(sealed)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("NotBase64", func(t *testing.T) {
		_, err := box.DecryptFromBase64("%%%")
		assert.ErrorIs(t, err, ErrDecrypt)
	})
}

func TestNewBoxFromKey_InvalidLength(t *testing.T) {
	_, err := NewBoxFromKey([]byte("short"), zap.NewNop())
	assert.Error(t, err)
}
