package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/utafrali/catalog-service/pkg/httpclient"
	"github.com/utafrali/catalog-service/pkg/middleware"
)

// ErrUnavailable is wrapped by every failure that prevented the auth service
// from giving a definite answer.
var ErrUnavailable = errors.New("identity service unavailable")

const maxResponseBody = 1 << 20

// ClientConfig configures the auth service client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to the auth service: bearer token verification for inbound
// requests and seller lookups for product creation.
type Client struct {
	baseURL string
	http    *httpclient.CircuitBreakerClient
	signer  *ServiceTokenSigner
	logger  *slog.Logger
}

// NewClient builds a client whose calls share one circuit breaker.
func NewClient(cfg ClientConfig, signer *ServiceTokenSigner, logger *slog.Logger) *Client {
	httpCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	if cfg.MaxRetries >= 0 {
		httpCfg.MaxRetries = cfg.MaxRetries
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: httpclient.NewCircuitBreakerClient(
			httpclient.New(httpCfg),
			httpclient.DefaultCircuitBreakerConfig("auth-service"),
			logger,
		),
		signer: signer,
		logger: logger,
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid bool       `json:"valid"`
	User  *userClaim `json:"user"`
}

type userClaim struct {
	ID    flexibleID `json:"id"`
	Email string     `json:"email"`
	Roles []string   `json:"roles"`
}

// flexibleID accepts both numeric and string user ids.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

// VerifyToken asks the auth service whether token is valid. It implements
// middleware.TokenVerifier.
func (c *Client) VerifyToken(ctx context.Context, token string) (*middleware.Principal, bool, error) {
	body, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return nil, false, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify-token", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("verify token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("verify token: auth service returned status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("decode verify response: %w", err)
	}
	if !out.Valid || out.User == nil {
		return nil, false, nil
	}

	return &middleware.Principal{
		ID:    string(out.User.ID),
		Email: out.User.Email,
		Roles: out.User.Roles,
	}, true, nil
}

type userResponse struct {
	Email string `json:"email"`
}

// SellerEmail resolves the contact address of sellerID. An empty result with
// a nil error means the seller does not exist or has no usable address.
// Failures to get an answer wrap ErrUnavailable.
func (c *Client) SellerEmail(ctx context.Context, sellerID string) (string, error) {
	token, err := c.signer.Sign()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/"+url.PathEscape(sellerID), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch seller %s: %w", ErrUnavailable, sellerID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		c.logger.InfoContext(ctx, "seller not found in auth service", slog.String("seller_id", sellerID))
		return "", nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: service authentication failed (status %d)", ErrUnavailable, resp.StatusCode)
	default:
		return "", fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var out userResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		c.logger.WarnContext(ctx, "malformed seller response",
			slog.String("seller_id", sellerID),
			slog.String("error", err.Error()),
		)
		return "", nil
	}
	if strings.TrimSpace(out.Email) == "" {
		c.logger.WarnContext(ctx, "seller response has no email", slog.String("seller_id", sellerID))
		return "", nil
	}

	return out.Email, nil
}
