// Package retry retries store and transport calls with exponential backoff
// and jitter. Only failures classified as external are retried; validation,
// conflict and not-found results return immediately.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/mbd888/gymops/internal/failure"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 = uncapped
}

// DefaultPolicy is used for saga steps unless configured otherwise.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

// Do calls fn up to maxAttempts times with exponential backoff and jitter.
// It stops early if:
//   - fn returns nil (success)
//   - fn returns a *PermanentError or a non-retryable failure kind
//   - ctx is cancelled
//
// baseDelay is doubled on each retry with +-25% jitter.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	_, err := Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}.Do(ctx, fn)
	return err
}

// Do runs fn under the policy and reports how many attempts were made.
func (p Policy) Do(ctx context.Context, fn func() error) (attempts int, err error) {
	maxAttempts := max(p.MaxAttempts, 1)
	delay := p.BaseDelay
	for attempts = 1; ; attempts++ {
		err = fn()
		if err == nil {
			return attempts, nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return attempts, pe.Err
		}
		if !failure.IsRetryable(err) || attempts >= maxAttempts {
			return attempts, err
		}

		jitter := delay / 4
		sleep := delay - jitter
		if span := int64(2*jitter + 1); span > 0 {
			sleep += time.Duration(rand.Int64N(span))
		}
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
