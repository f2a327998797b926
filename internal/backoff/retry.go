package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// RetryResult holds the result of a retry operation.
type RetryResult[T any] struct {
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. RetryWithBackoff returns the
// wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryAfterError carries a server-mandated wait, such as Telegram's
// retry_after. It overrides the policy delay for the next attempt.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }
func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryWithBackoff calls fn up to maxAttempts times, sleeping per policy
// between failures. It stops early on success, on a Permanent error, or when
// ctx is done.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	var result RetryResult[T]

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			result.LastError = nil
			return result, nil
		}
		result.LastError = err

		var perm *permanentError
		if errors.As(err, &perm) {
			result.LastError = perm.err
			return result, perm.err
		}

		if attempt < maxAttempts {
			delay := ComputeBackoff(policy, attempt)
			var ra *RetryAfterError
			if errors.As(err, &ra) && ra.After > delay {
				delay = ra.After
			}
			if err := SleepWithContext(ctx, delay); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}

// Retry is RetryWithBackoff for functions without a result value. It returns
// the last error rather than ErrMaxAttemptsExhausted.
func Retry(ctx context.Context, policy BackoffPolicy, maxAttempts int, fn func(attempt int) error) error {
	result, err := RetryWithBackoff(ctx, policy, maxAttempts, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	if errors.Is(err, ErrMaxAttemptsExhausted) && result.LastError != nil {
		return result.LastError
	}
	return err
}
