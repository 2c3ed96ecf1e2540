package retry

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Microsecond,
		MaxBackoff:     10 * time.Microsecond,
		Multiplier:     2,
	}
}

func TestExponentialGrowsAndCaps(t *testing.T) {
	p := Policy{
		MaxAttempts:    10,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}

	b := p.Exponential()
	assert.Equal(t, time.Millisecond, b.NextBackOff())
	assert.Equal(t, 2*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 4*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 5*time.Millisecond, b.NextBackOff())
	for i := 0; i < 50; i++ {
		assert.Equal(t, 5*time.Millisecond, b.NextBackOff())
	}

	b.Reset()
	assert.Equal(t, time.Millisecond, b.NextBackOff())
}

func TestJitterStaysInRange(t *testing.T) {
	p := DefaultPolicy()
	p.Jitter = 0.5
	for i := 0; i < 100; i++ {
		d := p.Exponential().NextBackOff()
		require.GreaterOrEqual(t, d, p.InitialBackoff/2)
		require.LessOrEqual(t, d, p.InitialBackoff+p.InitialBackoff/2)
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), isTransient, func(_ context.Context, attempt int) error {
		calls++
		require.Equal(t, calls, attempt)
		if attempt < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), isTransient, func(context.Context, int) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.NotErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, 1, calls)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), isTransient, func(context.Context, int) error {
		calls++
		return errors.Wrap(errTransient, "attempt")
	})
	require.Equal(t, 4, calls)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, errTransient)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 4, exhausted.Attempts)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 1}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, isTransient, func(context.Context, int) error {
			calls++
			return errTransient
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Do ignored context cancellation")
	}
}

func TestDoRejectsInvalidPolicy(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(0), isTransient, func(context.Context, int) error {
		calls++
		return nil
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRetriesExhausted)
	require.Zero(t, calls)
}

func TestDoWithDoneContextNeverCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(3), isTransient, func(context.Context, int) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := DefaultPolicy()
	bad.MaxAttempts = 0
	require.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.MaxBackoff = bad.InitialBackoff / 2
	require.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.Jitter = 1.5
	require.Error(t, bad.Validate())
}
