package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that a Retryer gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryer runs an operation up to MaxRetries+1 times, waiting
// BaseDelay*attempt between attempts.
type Retryer struct {
	MaxRetries int
	BaseDelay  time.Duration

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// NewRetryer returns a Retryer with a 500ms base delay.
func NewRetryer(maxRetries int) *Retryer {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retryer{MaxRetries: maxRetries, BaseDelay: 500 * time.Millisecond}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.BaseDelay * time.Duration(attempt)
			if r.OnRetry != nil {
				r.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		}
		lastErr = err
	}
	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.MaxRetries+1, lastErr)
}
