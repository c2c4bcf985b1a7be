package infra

import (
	"context"
	"errors"
	"time"
)

// Default retry budget used by every source plugin.
const (
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
)

// RetryPolicy retries an operation a fixed number of times with a fixed
// pause between attempts. There is no pause after the final attempt.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Clock    Clock
}

// DefaultRetry returns the 3 attempts / 1s policy.
func DefaultRetry(clock Clock) RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, Backoff: DefaultBackoff, Clock: clock}
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that RetryPolicy.Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, returns a permanent error, the attempt
// budget is spent, or ctx is cancelled. It returns the number of attempts
// made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return attempt - 1, err
		}
		err = fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if IsPermanent(err) || attempt == attempts {
			return attempt, err
		}
		if sleepErr := Sleep(ctx, p.Clock, p.Backoff); sleepErr != nil {
			return attempt, err
		}
	}
	return attempts, err
}
