package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBreaker(name string, retries int) *CircuitBreakerClient {
	cfg := CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      50 * time.Millisecond,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
	return NewCircuitBreakerClient(New(fastConfig(retries)), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// switchable answers with the stored status.
func switchable(t *testing.T, status int) (*httptest.Server, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var current, calls atomic.Int32
	current.Store(int32(status))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(current.Load()))
		_, _ = w.Write([]byte("auth down"))
	}))
	t.Cleanup(srv.Close)
	return srv, &current, &calls
}

func TestCircuitBreaker_TripsOnServerErrors(t *testing.T) {
	srv, _, calls := switchable(t, http.StatusInternalServerError)
	cb := newBreaker("auth-trip", 0)

	for range 3 {
		_, err := cb.Do(context.Background(), getUser(t, srv.URL))
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
		assert.Equal(t, "auth-trip returned status 500: auth down", statusErr.Error())
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Do(context.Background(), getUser(t, srv.URL))
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load(), "open breaker must not reach the upstream")
	assert.Equal(t, 1.0, testutil.ToFloat64(upstreamRequests.WithLabelValues("auth-trip", outcomeRejected)))
	assert.Equal(t, 3.0, testutil.ToFloat64(upstreamRequests.WithLabelValues("auth-trip", outcomeServerError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(breakerState.WithLabelValues("auth-trip")))
}

func TestCircuitBreaker_ClientErrorsAreNotFailures(t *testing.T) {
	srv, _, _ := switchable(t, http.StatusNotFound)
	cb := newBreaker("auth-404", 0)

	for range 5 {
		resp, err := cb.Do(context.Background(), getUser(t, srv.URL))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, 5.0, testutil.ToFloat64(upstreamRequests.WithLabelValues("auth-404", outcomeClientError)))
}

func TestCircuitBreaker_CallerCancellationIsNotFailure(t *testing.T) {
	srv, _, _ := switchable(t, http.StatusOK)
	cb := newBreaker("auth-cancel", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 5 {
		_, err := cb.Do(ctx, getUser(t, srv.URL))
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, 5.0, testutil.ToFloat64(upstreamRequests.WithLabelValues("auth-cancel", outcomeCanceled)))
}

func TestCircuitBreaker_TransportErrorsTrip(t *testing.T) {
	srv, _, _ := switchable(t, http.StatusOK)
	url := srv.URL
	srv.Close()
	cb := newBreaker("auth-refused", 0)

	for range 3 {
		_, err := cb.Do(context.Background(), getUser(t, url))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, 3.0, testutil.ToFloat64(upstreamRequests.WithLabelValues("auth-refused", outcomeTransport)))
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	srv, status, _ := switchable(t, http.StatusBadGateway)
	cb := newBreaker("auth-recover", 0)

	for range 3 {
		_, _ = cb.Do(context.Background(), getUser(t, srv.URL))
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	status.Store(http.StatusOK)
	require.Eventually(t, func() bool { return cb.State() == gobreaker.StateHalfOpen },
		time.Second, 10*time.Millisecond)

	resp, err := cb.Do(context.Background(), getUser(t, srv.URL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("auth-recover")))
}

func TestCircuitBreaker_RetriesInsideOneBreakerCall(t *testing.T) {
	srv, calls := authService(t, http.StatusServiceUnavailable, http.StatusOK)
	cb := newBreaker("auth-retry", 2)

	resp, err := cb.Do(context.Background(), getUser(t, srv.URL))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("auth-service")
	assert.Equal(t, "auth-service", cfg.Name)
	assert.Equal(t, uint32(5), cfg.MinRequests)
	assert.Equal(t, 0.5, cfg.FailureRatio)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
}
