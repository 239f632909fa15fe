package resiliency

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent wraps an error so retry helpers stop immediately instead of
// retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Try calling factory function with exponential back-off until the context is done.
func RetryGet[T any](ctx context.Context, factory func() (T, error)) (T, error) {
	var lastAttemptErr error

	retval, err := backoff.RetryNotifyWithData(
		factory,
		backoff.WithContext(backoff.NewExponentialBackOff(), ctx),
		func(err error, d time.Duration) {
			lastAttemptErr = err
		},
	)

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		// Inform the caller about the timeout AND the last attempt error.
		return *new(T), errors.Join(lastAttemptErr, err)
	case err != nil:
		return *new(T), err
	default:
		return retval, nil
	}
}

// RetryGetWithTimeout is RetryGet bounded by an overall timeout.
func RetryGetWithTimeout[T any](ctx context.Context, timeout time.Duration, factory func() (T, error)) (T, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return RetryGet(timeoutCtx, factory)
}
