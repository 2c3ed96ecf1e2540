package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError is returned by Do when every attempt failed with a retryable
// error. Last is the error of the final attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%d attempts failed, last: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// Policy describes how many times an operation is attempted and how long to
// sleep between attempts.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the fraction of the backoff that is randomized, in [0, 1].
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    10,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.Errorf("max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return errors.New("backoff must not be negative")
	}
	if p.MaxBackoff < p.InitialBackoff {
		return errors.Errorf("max backoff %s is less than initial backoff %s", p.MaxBackoff, p.InitialBackoff)
	}
	if p.Multiplier < 1 {
		return errors.Errorf("multiplier must be at least 1, got %v", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return errors.Errorf("jitter must be within [0, 1], got %v", p.Jitter)
	}
	return nil
}

// Exponential returns the backoff schedule between attempts. It never stops
// on its own; Do bounds it by MaxAttempts.
func (p Policy) Exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls fn until it succeeds, fails with an error retryable rejects, ctx is
// done or the policy runs out of attempts.
func Do(
	ctx context.Context,
	p Policy,
	retryable func(error) bool,
	fn func(ctx context.Context, attempt int) error,
) error {
	if err := p.Validate(); err != nil {
		return errors.Wrap(err, "retry policy")
	}

	var (
		attempt   int
		last      error
		permanent bool
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			permanent = true
			return backoff.Permanent(errors.Wrapf(err, "retry interrupted after %d attempts", attempt))
		}
		attempt++
		last = fn(ctx, attempt)
		if last != nil && !retryable(last) {
			permanent = true
			return backoff.Permanent(last)
		}
		return last
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.Exponential(), uint64(p.MaxAttempts-1)), ctx)
	err := backoff.Retry(op, b)
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		// ctx was done while waiting for the next attempt.
		return errors.Wrapf(ctx.Err(), "retry interrupted after %d attempts", attempt)
	}
	return &ExhaustedError{Attempts: attempt, Last: last}
}
