package coordinator

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/TxnCoord/src/retry"
)

// Body is the code of one transaction attempt. It must do all of its reads
// through tx so that a retry re-reads fresh values.
type Body func(ctx context.Context, tx *Txn) error

// Run executes body in a new transaction and commits it. When the attempt
// fails with a retryable error the whole body is run again in a fresh
// transaction, following the coordinator's retry policy. After the last
// attempt the returned error matches retry.ErrRetriesExhausted and wraps the
// last failure.
func (c *Coordinator) Run(ctx context.Context, strategy Strategy, body Body) error {
	return c.RunWithPolicy(ctx, c.retryPolicy, strategy, body)
}

func (c *Coordinator) RunWithPolicy(ctx context.Context, p retry.Policy, strategy Strategy, body Body) error {
	return retry.Do(ctx, p, IsRetryable, func(ctx context.Context, attempt int) error {
		return c.Attempt(ctx, strategy, body, attempt)
	})
}

// Attempt runs body once in a new transaction and commits it, rolling back
// when body fails. attempt is only used for logging.
func (c *Coordinator) Attempt(ctx context.Context, strategy Strategy, body Body, attempt int) error {
	tx := c.BeginTxn(strategy)
	if attempt > 1 {
		c.log.Debugw("retrying transaction", "txn", tx.ID(), "attempt", attempt)
	}

	if err := body(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, ErrTransactionNotActive) {
			c.log.Errorw("failed to roll back transaction", "txn", tx.ID(), "error", rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}
