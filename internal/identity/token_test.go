package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceTokenSigner_Sign(t *testing.T) {
	signer := NewServiceTokenSigner("s3cret", "ProductMicroservice", time.Hour)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return fixed }

	token, err := signer.Sign()
	require.NoError(t, err)

	parsed, err := jwt.ParseWithClaims(token, &ServiceClaims{}, func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	}, jwt.WithTimeFunc(func() time.Time { return fixed.Add(time.Minute) }))
	require.NoError(t, err)

	claims := parsed.Claims.(*ServiceClaims)
	assert.Equal(t, "HS256", parsed.Method.Alg())
	assert.Equal(t, "ProductMicroservice", claims.Service)
	assert.Equal(t, "service", claims.Type)
	assert.Equal(t, "ProductMicroservice", claims.Issuer)
	assert.Equal(t, fixed, claims.IssuedAt.Time.UTC())
	assert.Equal(t, fixed.Add(time.Hour), claims.ExpiresAt.Time.UTC())
}

func TestServiceTokenSigner_DefaultTTL(t *testing.T) {
	signer := NewServiceTokenSigner("s3cret", "svc", 0)
	assert.Equal(t, DefaultTokenTTL, signer.ttl)
}

func TestServiceTokenSigner_EmptySecret(t *testing.T) {
	_, err := NewServiceTokenSigner("", "svc", time.Hour).Sign()
	require.Error(t, err)
}

func TestParseServiceToken(t *testing.T) {
	token, err := NewServiceTokenSigner("s3cret", "svc", time.Hour).Sign()
	require.NoError(t, err)

	claims, err := ParseServiceToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "svc", claims.Service)

	_, err = ParseServiceToken(token, "other")
	require.Error(t, err)
}

func TestParseServiceToken_Expired(t *testing.T) {
	signer := NewServiceTokenSigner("s3cret", "svc", time.Hour)
	signer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := signer.Sign()
	require.NoError(t, err)

	_, err = ParseServiceToken(token, "s3cret")
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}
