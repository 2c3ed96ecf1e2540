package txns

import (
	"time"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/assert"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

type txnQueueEntry struct {
	r         TxnLockRequest
	notifier  chan struct{}
	isRunning bool
	upgrade   bool
	err       error // set before notifier is closed on denial
	since     time.Time

	next *txnQueueEntry
	prev *txnQueueEntry
}

// txnQueue is the lock record of one key: a doubly-linked list whose prefix
// holds the granted (running) entries followed by the waiting ones in FIFO
// order. Pending upgrades are kept right after the running prefix.
//
// A txnQueue is guarded by the owning Manager's mutex.
type txnQueue struct {
	head *txnQueueEntry
	tail *txnQueueEntry

	txnNodes map[common.TxnID]*txnQueueEntry // running entries
	waiters  map[common.TxnID]*txnQueueEntry // pending entries
}

func newTxnQueue() *txnQueue {
	head := &txnQueueEntry{}
	tail := &txnQueueEntry{}
	head.next = tail
	tail.prev = head

	return &txnQueue{
		head:     head,
		tail:     tail,
		txnNodes: map[common.TxnID]*txnQueueEntry{},
		waiters:  map[common.TxnID]*txnQueueEntry{},
	}
}

func (q *txnQueue) insertAfter(at, n *txnQueueEntry) {
	next := at.next
	n.prev = at
	n.next = next
	at.next = n
	next.prev = n
}

func (q *txnQueue) remove(n *txnQueueEntry) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
}

func (q *txnQueue) isEmpty() bool {
	return q.head.next == q.tail
}

// lastRunning returns the last granted entry or head if nothing is granted.
func (q *txnQueue) lastRunning() *txnQueueEntry {
	cur := q.head
	for cur.next != q.tail && cur.next.isRunning {
		cur = cur.next
	}
	return cur
}

// upgradeInsertionPoint returns the entry a new upgrade request goes after:
// behind the running prefix and any upgrades already pending.
func (q *txnQueue) upgradeInsertionPoint() *txnQueueEntry {
	cur := q.lastRunning()
	for cur.next != q.tail && cur.next.upgrade {
		cur = cur.next
	}
	return cur
}

func (q *txnQueue) hasWaiters() bool {
	return len(q.waiters) > 0
}

// compatibleWithRunning reports whether mode can be granted to txnID next to
// the current holders.
func (q *txnQueue) compatibleWithRunning(txnID common.TxnID, mode LockMode) bool {
	for cur := q.head.next; cur != q.tail && cur.isRunning; cur = cur.next {
		if cur.r.txnID != txnID && !cur.r.lockMode.Compatible(mode) {
			return false
		}
	}
	return true
}

// grantImmediately appends a running entry for r.
func (q *txnQueue) grantImmediately(r TxnLockRequest) {
	assert.Assert(q.txnNodes[r.txnID] == nil, "trying to lock already locked transaction. %+v", r)

	n := &txnQueueEntry{
		r:         r,
		isRunning: true,
	}
	q.insertAfter(q.lastRunning(), n)
	q.txnNodes[r.txnID] = n
}

// enqueue appends a waiting entry for r and returns it.
func (q *txnQueue) enqueue(r TxnLockRequest, upgrade bool) *txnQueueEntry {
	assert.Assert(q.waiters[r.txnID] == nil, "transaction already waits on the key. %+v", r)

	n := &txnQueueEntry{
		r:        r,
		notifier: make(chan struct{}),
		upgrade:  upgrade,
		since:    time.Now(),
	}
	if upgrade {
		q.insertAfter(q.upgradeInsertionPoint(), n)
	} else {
		q.insertAfter(q.tail.prev, n)
	}
	q.waiters[r.txnID] = n
	return n
}

// dropRunning removes the granted entry of txnID. Returns false if txnID holds
// nothing on this key.
func (q *txnQueue) dropRunning(txnID common.TxnID) bool {
	n, ok := q.txnNodes[txnID]
	if !ok {
		return false
	}
	q.remove(n)
	delete(q.txnNodes, txnID)
	return true
}

// dropWaiter removes the pending entry n.
func (q *txnQueue) dropWaiter(n *txnQueueEntry) {
	assert.Assert(!n.isRunning, "dropping a granted entry as a waiter. %+v", n.r)
	q.remove(n)
	delete(q.waiters, n.r.txnID)
}

// requeueAsRequest turns the pending upgrade n into an ordinary request at
// the end of the queue. Used once the lock being upgraded is released.
func (q *txnQueue) requeueAsRequest(n *txnQueueEntry) {
	assert.Assert(n.upgrade && !n.isRunning, "requeueing a non-upgrade entry. %+v", n.r)
	q.remove(n)
	n.upgrade = false
	q.insertAfter(q.tail.prev, n)
}

// processBatch grants the longest prefix of waiters that is compatible with
// the holders, in FIFO order, and returns the granted entries. Their notifiers
// are left for the caller to close.
func (q *txnQueue) processBatch() []*txnQueueEntry {
	var granted []*txnQueueEntry

	for {
		cur := q.lastRunning().next
		if cur == q.tail {
			break
		}
		assert.Assert(!cur.isRunning, "only list prefix is allowed to be in the locked state")

		if !q.compatibleWithRunning(cur.r.txnID, cur.r.lockMode) {
			break
		}

		if cur.upgrade {
			old, ok := q.txnNodes[cur.r.txnID]
			assert.Assert(ok, "upgrading a lock that is not held. %+v", cur.r)
			q.remove(old)
		}

		cur.isRunning = true
		delete(q.waiters, cur.r.txnID)
		q.txnNodes[cur.r.txnID] = cur
		granted = append(granted, cur)
	}

	return granted
}

// blockers returns the transactions ahead of n whose modes conflict with it.
func (q *txnQueue) blockers(n *txnQueueEntry) []common.TxnID {
	var out []common.TxnID
	for cur := q.head.next; cur != n && cur != q.tail; cur = cur.next {
		if cur.r.txnID == n.r.txnID {
			continue
		}
		if !cur.r.lockMode.Compatible(n.r.lockMode) {
			out = append(out, cur.r.txnID)
		}
	}
	return out
}

// waiting returns pending entries in queue order.
func (q *txnQueue) waiting() []*txnQueueEntry {
	var out []*txnQueueEntry
	for cur := q.lastRunning().next; cur != q.tail; cur = cur.next {
		out = append(out, cur)
	}
	return out
}

func (q *txnQueue) running() []*txnQueueEntry {
	var out []*txnQueueEntry
	for cur := q.head.next; cur != q.tail && cur.isRunning; cur = cur.next {
		out = append(out, cur)
	}
	return out
}
