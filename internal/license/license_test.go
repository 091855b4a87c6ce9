package license

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-trade-bot-go/internal/database/databasetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestActivateAndValidate(t *testing.T) {
	store := databasetest.NewStore(t)
	ctx := context.Background()
	svc := NewService(store, "hw-1", zap.NewNop())

	_, err := svc.Validate(ctx)
	assert.True(t, errors.Is(err, ErrNoLicense))

	lic, err := svc.Activate(ctx, " KEY-123 ", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "KEY-123", lic.LicenseKey)
	assert.Equal(t, "hw-1", lic.HardwareID)

	got, err := svc.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ValidationCount)
	require.NotNil(t, got.LastValidatedAt)

	got, err = svc.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ValidationCount)
}

func TestValidate_Failures(t *testing.T) {
	store := databasetest.NewStore(t)
	ctx := context.Background()

	owner := NewService(store, "hw-1", zap.NewNop())
	_, err := owner.Activate(ctx, "KEY-1", time.Hour)
	require.NoError(t, err)

	other := NewService(store, "hw-2", zap.NewNop())
	_, err = other.Validate(ctx)
	assert.True(t, errors.Is(err, ErrHardwareMismatch))

	owner.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = owner.Validate(ctx)
	assert.True(t, errors.Is(err, ErrExpired))

	_, err = owner.Activate(ctx, "", time.Hour)
	assert.Error(t, err)
	_, err = owner.Activate(ctx, "KEY-2", 0)
	assert.Error(t, err)
}
