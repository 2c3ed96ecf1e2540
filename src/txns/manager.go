package txns

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/TxnCoord/src"
	"github.com/Blackdeer1524/TxnCoord/src/deadlock"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/assert"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

// Manager grants shared and exclusive record locks. Every wait is reported to
// the deadlock detector; in synchronous mode cycles are resolved before the
// waiting caller is suspended.
type Manager struct {
	mu sync.Mutex

	qs            map[common.RecordKey]*txnQueue
	lockedRecords map[common.TxnID]map[common.RecordKey]LockMode
	pending       map[common.TxnID]*txnQueueEntry // at most one per transaction

	detector *deadlock.Detector
	log      src.Logger

	defaultTimeout time.Duration
	mode           deadlock.Mode
	interval       time.Duration
}

func NewManager(detector *deadlock.Detector, opts ...Option) *Manager {
	m := &Manager{
		qs:             map[common.RecordKey]*txnQueue{},
		lockedRecords:  map[common.TxnID]map[common.RecordKey]LockMode{},
		pending:        map[common.TxnID]*txnQueueEntry{},
		detector:       detector,
		log:            zap.NewNop().Sugar(),
		defaultTimeout: DefaultLockTimeout,
		mode:           deadlock.ModeSynchronous,
		interval:       DefaultDetectionInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Mode() deadlock.Mode {
	return m.mode
}

// Acquire requests key in mode for txnID. It returns Granted when no waiting
// was needed and Blocked when the caller was suspended before the grant.
// Denied is always accompanied by ErrAbortedForDeadlock, ErrLockTimeout,
// ErrLockCancelled or the context error.
//
// A holder of a shared lock asking for an exclusive one is upgraded: in place
// if it is the sole holder, otherwise through a request queued ahead of the
// ordinary waiters.
func (m *Manager) Acquire(
	ctx context.Context,
	txnID common.TxnID,
	key common.RecordKey,
	mode LockMode,
	opts ...AcquireOption,
) (Outcome, error) {
	o := acquireOptions{timeout: m.defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout == 0 {
		o.timeout = m.defaultTimeout
	}

	if err := ctx.Err(); err != nil {
		return Denied, errors.Wrap(err, "lock wait interrupted")
	}

	r := NewTxnLockRequest(txnID, key, mode)

	m.mu.Lock()
	e, grown := m.lockOrEnqueue(r)
	if m.mode == deadlock.ModeSynchronous {
		m.resolveDeadlocks(grown)
	}
	m.mu.Unlock()

	if e == nil {
		return Granted, nil
	}
	return m.wait(ctx, e, o.timeout)
}

// lockOrEnqueue either grants r right away (returning a nil entry) or puts a
// waiting entry for it on the key's queue. It also returns the waiters whose
// wait edges grew. Caller must hold m.mu.
func (m *Manager) lockOrEnqueue(r TxnLockRequest) (*txnQueueEntry, []common.TxnID) {
	_, alreadyWaiting := m.pending[r.txnID]
	assert.Assert(!alreadyWaiting,
		"transaction %d issued a lock request while another one is pending. request: %+v",
		r.txnID, r)

	q, ok := m.qs[r.key]
	if !ok {
		q = newTxnQueue()
		m.qs[r.key] = q
	}

	var e *txnQueueEntry
	if held, isHolder := q.txnNodes[r.txnID]; isHolder {
		if held.r.lockMode.Covers(r.lockMode) {
			return nil, nil
		}
		assert.Assert(held.r.lockMode.Upgradable(r.lockMode),
			"can't upgrade %s to %s", held.r.lockMode, r.lockMode)

		if len(q.txnNodes) == 1 {
			held.r.lockMode = r.lockMode
			m.lockedRecords[r.txnID][r.key] = r.lockMode
			return nil, m.afterChange(r.key, q)
		}
		e = q.enqueue(r, true)
	} else {
		if !q.hasWaiters() && q.compatibleWithRunning(r.txnID, r.lockMode) {
			q.grantImmediately(r)
			m.recordGrant(r)
			return nil, nil
		}
		e = q.enqueue(r, false)
	}

	m.pending[r.txnID] = e
	return e, m.afterChange(r.key, q)
}

func (m *Manager) wait(ctx context.Context, e *txnQueueEntry, timeout time.Duration) (Outcome, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-e.notifier:
		return settled(e)
	case <-timeoutC:
		return m.abandon(e, ErrLockTimeout)
	case <-ctx.Done():
		return m.abandon(e, errors.Wrap(ctx.Err(), "lock wait interrupted"))
	}
}

func settled(e *txnQueueEntry) (Outcome, error) {
	if e.err != nil {
		return Denied, e.err
	}
	return Blocked, nil
}

// abandon withdraws e unless it was settled concurrently.
func (m *Manager) abandon(e *txnQueueEntry, reason error) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-e.notifier:
		return settled(e)
	default:
	}

	grown := m.deny(e.r.txnID, reason)
	if m.mode == deadlock.ModeSynchronous {
		m.resolveDeadlocks(grown)
	}
	return Denied, reason
}

// TryAcquire grants the lock only if no waiting would be required.
func (m *Manager) TryAcquire(txnID common.TxnID, key common.RecordKey, mode LockMode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := NewTxnLockRequest(txnID, key, mode)

	q, ok := m.qs[key]
	if !ok {
		q = newTxnQueue()
		m.qs[key] = q
	}

	if held, isHolder := q.txnNodes[txnID]; isHolder {
		if held.r.lockMode.Covers(mode) {
			return true
		}
		if len(q.txnNodes) == 1 {
			held.r.lockMode = mode
			m.lockedRecords[txnID][key] = mode
			grown := m.afterChange(key, q)
			if m.mode == deadlock.ModeSynchronous {
				m.resolveDeadlocks(grown)
			}
			return true
		}
		return false
	}

	if q.hasWaiters() || !q.compatibleWithRunning(txnID, mode) {
		if q.isEmpty() {
			delete(m.qs, key)
		}
		return false
	}
	q.grantImmediately(r)
	m.recordGrant(r)
	return true
}

// Release drops the lock txnID holds on key. A pending upgrade of that lock
// stays queued as an ordinary request behind the current waiters.
func (m *Manager) Release(txnID common.TxnID, key common.RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.qs[key]
	if !ok || !q.dropRunning(txnID) {
		return errors.Wrapf(ErrLockNotHeld, "txn %d, key %s", txnID, key)
	}

	held := m.lockedRecords[txnID]
	delete(held, key)
	if len(held) == 0 {
		delete(m.lockedRecords, txnID)
	}

	// A pending upgrade of the released lock waits as a fresh request.
	if e, waiting := m.pending[txnID]; waiting && e.upgrade && e.r.key == key {
		q.requeueAsRequest(e)
	}

	candidates := m.afterChange(key, q)
	if m.mode == deadlock.ModeSynchronous {
		m.resolveDeadlocks(candidates)
	}
	return nil
}

// ReleaseAll drops every lock of txnID and withdraws its pending request, if
// any, in one step: no other caller observes a partially released state.
func (m *Manager) ReleaseAll(txnID common.TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []common.TxnID
	if _, waiting := m.pending[txnID]; waiting {
		candidates = m.deny(txnID, ErrLockCancelled)
	}

	held := m.lockedRecords[txnID]
	delete(m.lockedRecords, txnID)

	keys := make([]common.RecordKey, 0, len(held))
	for key := range held {
		keys = append(keys, key)
	}
	keys = common.SortKeys(keys)

	for _, key := range keys {
		q := m.qs[key]
		assert.Assert(q != nil && q.dropRunning(txnID),
			"trying to unlock a transaction on an unlocked record. key: %s", key)
	}

	m.detector.RemoveTxn(txnID)

	for _, key := range keys {
		candidates = append(candidates, m.afterChange(key, m.qs[key])...)
	}
	if m.mode == deadlock.ModeSynchronous {
		m.resolveDeadlocks(candidates)
	}
}

// afterChange grants whatever became grantable on key, refreshes the wait
// edges of the remaining waiters and returns those whose edge set grew.
// Caller must hold m.mu.
func (m *Manager) afterChange(key common.RecordKey, q *txnQueue) []common.TxnID {
	for _, e := range q.processBatch() {
		delete(m.pending, e.r.txnID)
		m.detector.RemoveWaiter(e.r.txnID)
		m.recordGrant(e.r)
		close(e.notifier) // grants the lock to the transaction
	}

	var grown []common.TxnID
	for _, e := range q.waiting() {
		if m.detector.SetWaits(e.r.txnID, q.blockers(e)) {
			grown = append(grown, e.r.txnID)
		}
	}

	if q.isEmpty() {
		delete(m.qs, key)
	}
	return grown
}

// deny fails the pending request of txnID with reason. The transaction keeps
// the locks it already holds. Returns waiters whose edges grew as a result.
// Caller must hold m.mu.
func (m *Manager) deny(txnID common.TxnID, reason error) []common.TxnID {
	e, ok := m.pending[txnID]
	assert.Assert(ok, "transaction %d has no pending request", txnID)

	q := m.qs[e.r.key]
	q.dropWaiter(e)
	delete(m.pending, txnID)
	m.detector.RemoveWaiter(txnID)

	e.err = reason
	close(e.notifier)

	return m.afterChange(e.r.key, q)
}

// resolveDeadlocks checks every candidate for a cycle and denies victims
// until no candidate closes a cycle. Caller must hold m.mu.
func (m *Manager) resolveDeadlocks(candidates []common.TxnID) {
	for len(candidates) > 0 {
		c := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		if _, waiting := m.pending[c]; !waiting {
			continue
		}

		victimOpt := m.detector.CheckForCycle(c, m.weigh)
		victim, found := victimOpt.Get()
		if !found {
			continue
		}

		m.logVictim(victim)
		candidates = append(candidates, m.deny(victim, ErrAbortedForDeadlock)...)
		if victim != c {
			candidates = append(candidates, c)
		}
	}
}

// Sweep runs a full detection pass and denies one victim per cycle found.
// It returns the number of victims.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	victims := 0
	for {
		victimOpt := m.detector.FindVictim(m.weigh)
		victim, found := victimOpt.Get()
		if !found {
			return victims
		}
		m.logVictim(victim)
		m.deny(victim, ErrAbortedForDeadlock)
		victims++
	}
}

// Run sweeps the wait-for graph on the configured interval until ctx is done.
// In synchronous mode it returns immediately.
func (m *Manager) Run(ctx context.Context) error {
	if m.mode != deadlock.ModePeriodic {
		return nil
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) logVictim(victim common.TxnID) {
	e := m.pending[victim]
	m.log.Warnw("deadlock detected, aborting victim",
		"victim", victim,
		"key", e.r.key.String(),
		"mode", e.r.lockMode.String(),
		"waited", time.Since(e.since),
	)
}

// weigh is the work a transaction has done: the number of exclusive locks it
// holds. Called under m.mu.
func (m *Manager) weigh(txnID common.TxnID) int {
	n := 0
	for _, mode := range m.lockedRecords[txnID] {
		if mode == LockExclusive {
			n++
		}
	}
	return n
}

func (m *Manager) recordGrant(r TxnLockRequest) {
	held, ok := m.lockedRecords[r.txnID]
	if !ok {
		held = map[common.RecordKey]LockMode{}
		m.lockedRecords[r.txnID] = held
	}
	held[r.key] = r.lockMode
}

// Conflicts reports whether another transaction holds a lock on key that is
// incompatible with mode.
func (m *Manager) Conflicts(txnID common.TxnID, key common.RecordKey, mode LockMode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.qs[key]
	if !ok {
		return false
	}
	return !q.compatibleWithRunning(txnID, mode)
}

// HeldMode returns the mode txnID holds on key.
func (m *Manager) HeldMode(txnID common.TxnID, key common.RecordKey) (LockMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mode, ok := m.lockedRecords[txnID][key]
	return mode, ok
}

// HeldKeys returns the keys locked by txnID in ascending order.
func (m *Manager) HeldKeys(txnID common.TxnID) []common.RecordKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]common.RecordKey, 0, len(m.lockedRecords[txnID]))
	for k := range m.lockedRecords[txnID] {
		keys = append(keys, k)
	}
	return common.SortKeys(keys)
}

// Holders returns the transactions holding key, sorted by ID.
func (m *Manager) Holders(key common.RecordKey) []common.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.qs[key]
	if !ok {
		return nil
	}
	var out []common.TxnID
	for _, e := range q.running() {
		out = append(out, e.r.txnID)
	}
	slices.Sort(out)
	return out
}

// Waiting returns the transactions queued on key in grant order.
func (m *Manager) Waiting(key common.RecordKey) []common.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.qs[key]
	if !ok {
		return nil
	}
	var out []common.TxnID
	for _, e := range q.waiting() {
		out = append(out, e.r.txnID)
	}
	return out
}

// NumQueues returns the number of keys with a lock record.
func (m *Manager) NumQueues() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.qs)
}
