// Package retry re-runs an operation with capped exponential backoff and
// jitter. The transaction coordinator uses it to replay transactions that
// lost an optimistic-concurrency race.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ExhaustedError is returned when every attempt failed with a retryable
// error. It unwraps to the last error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}

// permanentError stops retrying even when RetryIf would accept the error.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts counts the first attempt. Values below 1 mean 1.
	MaxAttempts int

	// Initial is the delay after the first failure; each later delay
	// doubles up to Max.
	Initial time.Duration
	Max     time.Duration

	// Jitter spreads each delay uniformly over ±Jitter of its value, so
	// writers that collided do not collide again in lockstep.
	Jitter float64

	// RetryIf selects retryable errors. Nil retries nothing.
	RetryIf func(error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Rand returns a value in [0,1); tests pin it. Default: math/rand/v2.
	Rand func() float64
}

// Delay returns the backoff before attempt+1, after attempt failed.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 && d > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		d += time.Duration(float64(d) * p.Jitter * (2*r() - 1))
	}
	if d < 0 {
		return 0
	}
	return d
}

// Do runs op until it succeeds, returns an error RetryIf rejects, or the
// attempts run out. op receives the 1-based attempt number.
//
// A cancelled ctx stops the loop: before the first attempt ctx.Err() is
// returned, afterwards the last operation error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	maxAttempts := max(p.MaxAttempts, 1)

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.RetryIf == nil || !p.RetryIf(err) {
			return err
		}
		last = err
		if attempt >= maxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		v, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
