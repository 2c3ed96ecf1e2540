package txns

import (
	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

var (
	// ErrAbortedForDeadlock is returned to the pending request of a
	// transaction chosen as a deadlock victim.
	ErrAbortedForDeadlock = errors.New("aborted for deadlock")

	// ErrLockTimeout is returned when a lock wait exceeds its bound.
	ErrLockTimeout = errors.New("lock wait timed out")

	// ErrLockCancelled is returned to a pending request whose transaction
	// released all of its locks while the request was still waiting.
	ErrLockCancelled = errors.New("lock request cancelled")

	ErrLockNotHeld = errors.New("lock not held by transaction")
)

type TaggedType[T any] struct{ v T } // this trick forbids casting one lock mode to another

type LockMode TaggedType[uint8]

var (
	LockShared    LockMode = LockMode{0}
	LockExclusive LockMode = LockMode{1}
)

func (m LockMode) Compatible(other LockMode) bool {
	return m == LockShared && other == LockShared
}

// Upgradable reports whether a holder of m may ask for to.
func (m LockMode) Upgradable(to LockMode) bool {
	switch m {
	case LockShared:
		return to == LockShared || to == LockExclusive
	case LockExclusive:
		return to == LockExclusive
	}
	return false
}

// Covers reports whether holding m already grants everything other grants.
func (m LockMode) Covers(other LockMode) bool {
	return m == LockExclusive || other == LockShared
}

func (m LockMode) String() string {
	switch m {
	case LockShared:
		return "S"
	case LockExclusive:
		return "X"
	}
	return "unknown"
}

// Outcome of an Acquire call.
type Outcome int

const (
	// Granted: the lock was granted without waiting.
	Granted Outcome = iota
	// Blocked: the caller waited and was granted the lock afterwards.
	Blocked
	// Denied: the request failed; the accompanying error says why.
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Blocked:
		return "blocked"
	case Denied:
		return "denied"
	}
	return "unknown"
}

type TxnLockRequest struct {
	txnID    common.TxnID
	key      common.RecordKey
	lockMode LockMode
}

func NewTxnLockRequest(
	txnID common.TxnID,
	key common.RecordKey,
	lockMode LockMode,
) TxnLockRequest {
	return TxnLockRequest{
		txnID:    txnID,
		key:      key,
		lockMode: lockMode,
	}
}
