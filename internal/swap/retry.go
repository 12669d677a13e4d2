package swap

import (
	"context"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// Retry schedule for transient ledger failures.
const (
	retryInitialDelay = 1 * time.Second
	retryMaxDelay     = 30 * time.Second
	retryMultiplier   = 2
	retryMaxAttempts  = 5
)

// nextRetryDelay computes the backoff delay for an attempt (0-based).
func nextRetryDelay(attempt int) time.Duration {
	delay := retryInitialDelay
	for i := 0; i < attempt; i++ {
		delay *= retryMultiplier
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// retryTransient runs fn, retrying with exponential backoff while it returns
// transient ledger errors. Validation, conflict, and not-found errors are
// returned immediately: retrying them cannot help, and conflicts need state
// reconciliation instead.
func retryTransient(ctx context.Context, log *logging.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !ledger.IsTransient(err) {
			return err
		}

		delay := nextRetryDelay(attempt)
		log.Warn("transient failure, retrying", "op", op, "attempt", attempt+1, "delay", delay, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
