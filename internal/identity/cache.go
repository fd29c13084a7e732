package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/catalog-service/pkg/middleware"
)

const tokenKeyPrefix = "authz:token:"

var tokenCacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "catalog_token_cache_lookups_total",
		Help: "Token verification cache lookups by result (hit, miss, error).",
	},
	[]string{"result"},
)

// TokenCache remembers positive verification results.
type TokenCache interface {
	Get(ctx context.Context, token string) (*middleware.Principal, bool, error)
	Set(ctx context.Context, token string, p *middleware.Principal) error
}

// RedisTokenCache stores principals under the SHA-256 of the bearer token so
// raw credentials never reach Redis.
type RedisTokenCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokenCache creates a Redis-backed token cache.
func NewRedisTokenCache(client *redis.Client, ttl time.Duration) *RedisTokenCache {
	return &RedisTokenCache{client: client, ttl: ttl}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return tokenKeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached principal for token, if any.
func (c *RedisTokenCache) Get(ctx context.Context, token string) (*middleware.Principal, bool, error) {
	data, err := c.client.Get(ctx, tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get token: %w", err)
	}

	var p middleware.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("unmarshal principal: %w", err)
	}
	return &p, true, nil
}

// Set caches p for the configured TTL.
func (c *RedisTokenCache) Set(ctx context.Context, token string, p *middleware.Principal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal principal: %w", err)
	}
	if err := c.client.Set(ctx, tokenKey(token), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

// CachingVerifier consults cache before delegating to next. Cache faults
// degrade to a direct verification.
type CachingVerifier struct {
	next   middleware.TokenVerifier
	cache  TokenCache
	logger *slog.Logger
}

// NewCachingVerifier wraps next with cache.
func NewCachingVerifier(next middleware.TokenVerifier, cache TokenCache, logger *slog.Logger) *CachingVerifier {
	return &CachingVerifier{next: next, cache: cache, logger: logger}
}

// VerifyToken implements middleware.TokenVerifier.
func (v *CachingVerifier) VerifyToken(ctx context.Context, token string) (*middleware.Principal, bool, error) {
	p, ok, err := v.cache.Get(ctx, token)
	switch {
	case err != nil:
		tokenCacheLookups.WithLabelValues("error").Inc()
		v.logger.WarnContext(ctx, "token cache lookup failed", slog.String("error", err.Error()))
	case ok:
		tokenCacheLookups.WithLabelValues("hit").Inc()
		return p, true, nil
	default:
		tokenCacheLookups.WithLabelValues("miss").Inc()
	}

	p, ok, err = v.next.VerifyToken(ctx, token)
	if err != nil || !ok {
		return p, ok, err
	}

	if err := v.cache.Set(ctx, token, p); err != nil {
		v.logger.WarnContext(ctx, "token cache store failed", slog.String("error", err.Error()))
	}
	return p, true, nil
}
