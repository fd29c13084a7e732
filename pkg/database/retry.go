package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBaseWait = time.Second
	retryJitterFraction  = 0.25
)

// transientMessages are fragments of driver and network errors that do not
// surface as typed errors but still mean the server was unreachable.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"dial tcp",
	"EOF",
	"server closed the connection unexpectedly",
	"could not connect",
}

// isConnectionError reports whether err means the database could not be
// reached. A *pgconn.PgError came from the server and is never transient.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	for _, frag := range transientMessages {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// retryBackoff is 1s, 2s, 4s for attempts 0, 1, 2, each with ±25% jitter.
func retryBackoff(attempt int) time.Duration {
	base := defaultRetryBaseWait << max(attempt, 0)
	spread := float64(base) * retryJitterFraction
	return base + time.Duration(spread*(2*rand.Float64()-1)) // #nosec G404 -- jitter only
}

// withRetry calls fn until it succeeds, fails with an error retryable
// rejects, or defaultRetryAttempts calls have been made. logger may be nil.
func withRetry(ctx context.Context, logger *slog.Logger, what string, retryable func(error) bool, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == defaultRetryAttempts || !retryable(err) {
			return err
		}

		wait := retryBackoff(attempt - 1)
		if logger != nil {
			logger.Warn(what+" failed, retrying",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", defaultRetryAttempts),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: context canceled during retry: %w", what, ctx.Err())
		case <-timer.C:
		}
	}
}
