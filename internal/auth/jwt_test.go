package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJWTService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTService(JWTConfig{
		SecretKey:     "test-secret-key",
		TokenDuration: time.Hour,
		Issuer:        "exchange",
	})

	token, err := svc.GenerateToken("user-123", "alice", "trader")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "trader", claims.Role)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "exchange", claims.Issuer)
	assert.True(t, claims.ExpiresAt.Time.After(time.Now()))
}

func TestJWTService_RejectsGarbageToken(t *testing.T) {
	svc := NewJWTService(JWTConfig{SecretKey: "k", TokenDuration: time.Hour, Issuer: "exchange"})
	_, err := svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_RejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService(JWTConfig{SecretKey: "secret-a", TokenDuration: time.Hour, Issuer: "exchange"})
	verifier := NewJWTService(JWTConfig{SecretKey: "secret-b", TokenDuration: time.Hour, Issuer: "exchange"})

	token, err := issuer.GenerateToken("user-1", "bob", "admin")
	assert.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_RefreshIssuesNewToken(t *testing.T) {
	svc := NewJWTService(JWTConfig{SecretKey: "k", TokenDuration: time.Hour, Issuer: "exchange"})

	token, err := svc.GenerateToken("user-1", "bob", "admin")
	assert.NoError(t, err)

	refreshed, err := svc.RefreshToken(token)
	assert.NoError(t, err)
	assert.NotEqual(t, token, refreshed)

	claims, err := svc.ValidateToken(refreshed)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "bob", claims.Username)
	assert.Equal(t, "admin", claims.Role)
}
