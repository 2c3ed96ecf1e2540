package workload

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/panjf2000/ants"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/TxnCoord/src"
	"github.com/Blackdeer1524/TxnCoord/src/coordinator"
	"github.com/Blackdeer1524/TxnCoord/src/retry"
)

var ErrInvariantViolated = errors.New("workload invariant violated")

// runner retries client transactions and tallies every attempt.
type runner struct {
	c        *coordinator.Coordinator
	log      src.Logger
	policy   retry.Policy
	strategy coordinator.Strategy
	tally    *tally
}

// do runs body until it commits. Giving up after the last attempt is counted,
// not returned.
func (r *runner) do(ctx context.Context, body coordinator.Body) error {
	err := retry.Do(ctx, r.policy, coordinator.IsRetryable, func(ctx context.Context, attempt int) error {
		r.tally.attempts.Add(1)
		if err := r.c.Attempt(ctx, r.strategy, body, attempt); err != nil {
			r.tally.abort(coordinator.Reason(err))
			return err
		}
		r.tally.commits.Add(1)
		return nil
	})
	if errors.Is(err, retry.ErrRetriesExhausted) {
		r.tally.exhausted.Add(1)
		r.log.Warnw("transaction gave up", "error", err)
		return nil
	}
	return err
}

// fanOut runs clients on a pool of poolSize goroutines and returns the first
// client error.
func fanOut(ctx context.Context, poolSize, clients int, client func(ctx context.Context, id int) error) error {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return errors.Wrap(err, "create client pool")
	}
	defer pool.Release()

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < clients; i++ {
		done := make(chan error, 1)
		if err := pool.Submit(func() { done <- client(ctx, i) }); err != nil {
			return errors.Wrapf(err, "submit client %d", i)
		}
		eg.Go(func() error { return <-done })
	}
	return eg.Wait()
}
