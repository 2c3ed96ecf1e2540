package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

type Strategy int

const (
	Optimistic Strategy = iota
	Pessimistic
)

func (s Strategy) String() string {
	switch s {
	case Optimistic:
		return "optimistic"
	case Pessimistic:
		return "pessimistic"
	}
	return "unknown"
}

type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// undoEntry is the value a key had before a pessimistic transaction first
// wrote it.
type undoEntry struct {
	key     common.RecordKey
	prior   common.Value
	existed bool
}

// transaction is owned by the Coordinator. mu serializes the operations of a
// single transaction.
type transaction struct {
	mu sync.Mutex

	id        common.TxnID
	strategy  Strategy
	state     State
	startedAt time.Time

	// readSet holds the version observed on first access of a key. A blind
	// optimistic write records the version current at the write.
	readSet  map[common.RecordKey]common.Version
	writeSet map[common.RecordKey]common.Value
	undo     []undoEntry
}

func newTransaction(id common.TxnID, strategy Strategy) *transaction {
	return &transaction{
		id:        id,
		strategy:  strategy,
		state:     Active,
		startedAt: time.Now(),
		readSet:   map[common.RecordKey]common.Version{},
		writeSet:  map[common.RecordKey]common.Value{},
	}
}

func (t *transaction) writeKeys() []common.RecordKey {
	keys := make([]common.RecordKey, 0, len(t.writeSet))
	for k := range t.writeSet {
		keys = append(keys, k)
	}
	return common.SortKeys(keys)
}

// finishedTxn is what is remembered about a transaction after it ends.
type finishedTxn struct {
	strategy Strategy
	state    State
}

// Txn is a handle bound to one transaction of a Coordinator.
type Txn struct {
	c  *Coordinator
	id common.TxnID
}

func (tx *Txn) ID() common.TxnID {
	return tx.id
}

func (tx *Txn) Read(ctx context.Context, key common.RecordKey) (common.Value, error) {
	return tx.c.Read(ctx, tx.id, key)
}

func (tx *Txn) Write(ctx context.Context, key common.RecordKey, value common.Value) error {
	return tx.c.Write(ctx, tx.id, key, value)
}

func (tx *Txn) Commit(ctx context.Context) error {
	return tx.c.Commit(ctx, tx.id)
}

func (tx *Txn) Rollback(ctx context.Context) error {
	return tx.c.Rollback(ctx, tx.id)
}

func (tx *Txn) State() (State, error) {
	return tx.c.State(tx.id)
}
