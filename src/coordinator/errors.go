package coordinator

import (
	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/TxnCoord/src/txns"
)

var (
	// ErrOptimisticConflict means a version observed by the transaction
	// changed before it could commit.
	ErrOptimisticConflict = errors.New("optimistic conflict")

	ErrAbortedForDeadlock = txns.ErrAbortedForDeadlock
	ErrLockTimeout        = txns.ErrLockTimeout

	ErrTransactionNotActive = errors.New("transaction is not active")
	ErrNoSuchTransaction    = errors.New("no such transaction")
)

// IsRetryable reports whether re-running the whole transaction may succeed.
// Usage errors and context cancellation are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOptimisticConflict) ||
		errors.Is(err, ErrAbortedForDeadlock) ||
		errors.Is(err, ErrLockTimeout)
}

// Reason names an abort cause for metrics, logs and reports.
func Reason(err error) string {
	switch {
	case err == nil:
		return "rollback"
	case errors.Is(err, ErrOptimisticConflict):
		return "conflict"
	case errors.Is(err, ErrAbortedForDeadlock):
		return "deadlock"
	case errors.Is(err, ErrLockTimeout):
		return "timeout"
	case errors.Is(err, txns.ErrLockCancelled):
		return "cancelled"
	}
	return "error"
}
