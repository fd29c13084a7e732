package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of a service credential.
const DefaultTokenTTL = time.Hour

// ServiceClaims identifies this service to the auth service.
type ServiceClaims struct {
	Service string `json:"service"`
	Type    string `json:"type"`
	jwt.RegisteredClaims
}

// ServiceTokenSigner mints short-lived HS256 credentials for service-to-service
// calls.
type ServiceTokenSigner struct {
	secret  []byte
	service string
	ttl     time.Duration
	now     func() time.Time
}

// NewServiceTokenSigner creates a signer. A non-positive ttl falls back to
// DefaultTokenTTL.
func NewServiceTokenSigner(secret, service string, ttl time.Duration) *ServiceTokenSigner {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &ServiceTokenSigner{
		secret:  []byte(secret),
		service: service,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Sign returns a freshly signed service token.
func (s *ServiceTokenSigner) Sign() (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("sign service token: empty secret")
	}

	now := s.now().UTC()
	claims := &ServiceClaims{
		Service: s.service,
		Type:    "service",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// ParseServiceToken validates a token produced by a signer sharing secret.
func ParseServiceToken(tokenStr, secret string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ServiceClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse service token: %w", err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid service token claims")
	}
	return claims, nil
}
