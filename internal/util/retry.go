package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential delays with full jitter: attempt n sleeps a
// uniform duration in [0, min(Max, Base*2^n)].
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// DefaultBackoff is used when callers pass a zero Backoff.
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second}

// Ceiling returns the upper bound of the delay for a zero-based attempt.
func (b Backoff) Ceiling(attempt int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff
	}
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for range attempt {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Delay returns the jittered delay for a zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	ceil := b.Ceiling(attempt)
	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	return time.Duration(rnd() * float64(ceil))
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryWithBackoff runs fn once plus up to maxRetries retries. Only errors for
// which retryable returns true are retried; between attempts it sleeps for
// b.Delay(attempt). It returns the number of attempts made.
func RetryWithBackoff[T any](
	ctx context.Context,
	maxRetries int,
	b Backoff,
	retryable func(error) bool,
	fn func(context.Context) (T, error),
) (T, int, error) {
	var zero T
	if maxRetries < 0 {
		maxRetries = 0
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, attempts, err
		}
		attempts++
		result, err := fn(ctx)
		if err == nil {
			return result, attempts, nil
		}
		if isContextErr(err) && ctx.Err() != nil {
			return zero, attempts, err
		}
		if retryable == nil || !retryable(err) || attempts > maxRetries {
			return zero, attempts, err
		}
		if serr := Sleep(ctx, b.Delay(attempts-1)); serr != nil {
			return zero, attempts, serr
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
