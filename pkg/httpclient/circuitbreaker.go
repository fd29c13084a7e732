package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

const maxErrorBody = 64 << 10

// ErrCircuitOpen is returned without contacting the upstream while its
// breaker is open or the half-open trial budget is spent.
var ErrCircuitOpen = errors.New("circuit breaker open")

// StatusError reports a 5xx answer. It counts as a breaker failure.
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Upstream, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Upstream, e.StatusCode, e.Body)
}

// CircuitBreakerConfig configures the breaker in front of one upstream.
type CircuitBreakerConfig struct {
	// Name labels logs and metrics, e.g. "auth-service".
	Name string
	// MaxRequests is the number of trial requests let through while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts. Zero never clears them.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultCircuitBreakerConfig trips at 50% failures over at least 5 requests
// and retries again after 15s.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      15 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Request outcome labels.
const (
	outcomeOK          = "ok"
	outcomeClientError = "client_error"
	outcomeServerError = "server_error"
	outcomeTransport   = "transport_error"
	outcomeCanceled    = "canceled"
	outcomeRejected    = "rejected"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upstream_circuit_breaker_state",
			Help: "Circuit breaker state per upstream (0=closed, 1=half-open, 2=open)",
		},
		[]string{"upstream"},
	)

	upstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Calls to upstream services by outcome",
		},
		[]string{"upstream", "outcome"},
	)
)

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// CircuitBreakerClient guards a Client with a breaker. Transport errors and
// 5xx answers are failures; 4xx answers and caller cancellation are not.
type CircuitBreakerClient struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
	name    string
}

// NewCircuitBreakerClient wraps client with a breaker built from cfg.
func NewCircuitBreakerClient(client *Client, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("upstream", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}
	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger:  logger,
		name:    cfg.Name,
	}
}

// Do sends req through the breaker. A 5xx answer is drained, closed and
// returned as *StatusError; a rejected call returns ErrCircuitOpen.
func (c *CircuitBreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			_ = resp.Body.Close()
			return nil, &StatusError{Upstream: c.name, StatusCode: resp.StatusCode, Body: string(body)}
		}
		return resp, nil
	})

	var statusErr *StatusError
	switch {
	case err == nil && resp.StatusCode >= 400:
		upstreamRequests.WithLabelValues(c.name, outcomeClientError).Inc()
	case err == nil:
		upstreamRequests.WithLabelValues(c.name, outcomeOK).Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		upstreamRequests.WithLabelValues(c.name, outcomeRejected).Inc()
		c.logger.DebugContext(ctx, "upstream call rejected by open breaker", slog.String("upstream", c.name))
		return nil, fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	case errors.As(err, &statusErr):
		upstreamRequests.WithLabelValues(c.name, outcomeServerError).Inc()
	case errors.Is(err, context.Canceled):
		upstreamRequests.WithLabelValues(c.name, outcomeCanceled).Inc()
	default:
		upstreamRequests.WithLabelValues(c.name, outcomeTransport).Inc()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// State returns the breaker's current state.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}
