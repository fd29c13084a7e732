package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/utafrali/catalog-service/pkg/logger"
)

type contextKeyType string

const principalKey contextKeyType = "principal"

// Principal is the caller identity resolved from a bearer token.
type Principal struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p *Principal) HasAnyRole(roles map[string]struct{}) bool {
	for _, r := range p.Roles {
		if _, ok := roles[r]; ok {
			return true
		}
	}
	return false
}

// TokenVerifier resolves a bearer token into a principal. ok is false when
// the token was checked and rejected; err is set when verification could not
// be performed at all.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (principal *Principal, ok bool, err error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (*Principal, bool, error)

// VerifyToken calls f.
func (f TokenVerifierFunc) VerifyToken(ctx context.Context, token string) (*Principal, bool, error) {
	return f(ctx, token)
}

// Auth validates the bearer token against verifier and injects the resolved
// principal into the request context. Every failure is a 401.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header")
				return
			}

			scheme, token, found := strings.Cut(authHeader, " ")
			token = strings.TrimSpace(token)
			if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "malformed token")
				return
			}

			principal, ok, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				logger.FromContext(r.Context()).WarnContext(r.Context(), "token verification failed",
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}
			if !ok || principal == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			ctx = logger.WithUserID(ctx, principal.ID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("user_id", principal.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits the request when the principal holds any of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}
	required := append([]string(nil), roles...)
	sort.Strings(required)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil || len(p.Roles) == 0 {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "no roles found")
				return
			}
			if !p.HasAnyRole(roleSet) {
				writeError(w, http.StatusForbidden, "FORBIDDEN",
					"access denied, requires one of roles: "+strings.Join(required, ", "))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.ID
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
