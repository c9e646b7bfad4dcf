package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-cart/pkg/config"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
)

func TestTokenProviderLifecycle(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := NewTokenProvider(cfg)
	provider.now = func() time.Time { return now }

	assert.False(t, provider.IsAuthenticated())
	assert.Empty(t, provider.Token())

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte(cfg.Secret))
	require.NoError(t, err)
	require.NoError(t, provider.SetToken("Bearer "+token))

	assert.True(t, provider.IsAuthenticated())
	assert.Equal(t, token, provider.Token())
	assert.Equal(t, "user-42", provider.Subject())

	now = now.Add(2 * time.Hour)
	assert.False(t, provider.IsAuthenticated(), "expired token counts as signed out")
	assert.Empty(t, provider.Token())

	provider.ClearToken()
	assert.Empty(t, provider.Subject())
}

func TestTokenProviderRejectsInvalidToken(t *testing.T) {
	provider := NewTokenProvider(config.JWTConfig{Secret: "secret"})

	err := provider.SetToken("not-a-jwt")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.False(t, provider.IsAuthenticated())
}

func TestTokenProviderAcceptsOpaqueWithoutSecret(t *testing.T) {
	provider := NewTokenProvider(config.JWTConfig{})
	require.NoError(t, provider.SetToken("opaque-token"))
	assert.True(t, provider.IsAuthenticated())
	assert.Equal(t, "opaque-token", provider.Token())
}
