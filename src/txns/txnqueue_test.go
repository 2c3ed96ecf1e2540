package txns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

func expectClosedChannel(t *testing.T, ch <-chan struct{}, mes string) {
	require.NotNil(t, ch)
	select {
	case <-ch:
	case <-time.After(100 * time.Millisecond):
		t.Error(mes)
	}
}

func expectOpenChannel(t *testing.T, ch <-chan struct{}, mes string) {
	require.NotNil(t, ch)
	select {
	case <-ch:
		t.Error(mes)
	case <-time.After(100 * time.Millisecond):
	}
}

var queueKey = common.NewRecordKey("accounts", 1)

func req(txnID common.TxnID, mode LockMode) TxnLockRequest {
	return NewTxnLockRequest(txnID, queueKey, mode)
}

func ids(entries []*txnQueueEntry) []common.TxnID {
	out := make([]common.TxnID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.r.txnID)
	}
	return out
}

func TestQueueSharedCompatibility(t *testing.T) {
	q := newTxnQueue()
	q.grantImmediately(req(1, LockShared))

	require.True(t, q.compatibleWithRunning(2, LockShared))
	require.False(t, q.compatibleWithRunning(2, LockExclusive))
	require.True(t, q.compatibleWithRunning(1, LockExclusive), "own lock never conflicts")
}

func TestQueueFIFOBatch(t *testing.T) {
	q := newTxnQueue()
	q.grantImmediately(req(1, LockExclusive))

	s2 := q.enqueue(req(2, LockShared), false)
	s3 := q.enqueue(req(3, LockShared), false)
	x4 := q.enqueue(req(4, LockExclusive), false)
	s5 := q.enqueue(req(5, LockShared), false)

	require.Empty(t, q.processBatch())
	require.Equal(t, []common.TxnID{1}, q.blockers(s2))
	require.Equal(t, []common.TxnID{1}, q.blockers(s3))
	require.Equal(t, []common.TxnID{1, 2, 3}, q.blockers(x4))
	require.Equal(t, []common.TxnID{1, 4}, q.blockers(s5))

	require.True(t, q.dropRunning(1))
	granted := q.processBatch()
	require.Equal(t, []common.TxnID{2, 3}, ids(granted))
	require.True(t, s2.isRunning)
	require.True(t, s3.isRunning)
	require.False(t, x4.isRunning)
	require.False(t, s5.isRunning, "a shared request behind a waiting exclusive one must keep waiting")

	require.Equal(t, []common.TxnID{4, 5}, ids(q.waiting()))
	require.Equal(t, []common.TxnID{2, 3}, ids(q.running()))
}

func TestQueueUpgradeGoesAheadOfWaiters(t *testing.T) {
	q := newTxnQueue()
	q.grantImmediately(req(1, LockShared))
	q.grantImmediately(req(2, LockShared))

	x3 := q.enqueue(req(3, LockExclusive), false)
	up1 := q.enqueue(req(1, LockExclusive), true)
	up2 := q.enqueue(req(2, LockExclusive), true)

	require.Equal(t, []common.TxnID{1, 2, 3}, ids(q.waiting()))
	require.Equal(t, []common.TxnID{2}, q.blockers(up1))
	require.Equal(t, []common.TxnID{1, 1}, q.blockers(up2))
	require.Equal(t, []common.TxnID{1, 2, 1, 2}, q.blockers(x3))

	q.dropWaiter(up2)
	require.True(t, q.dropRunning(2))

	granted := q.processBatch()
	require.Equal(t, []common.TxnID{1}, ids(granted))
	require.Same(t, up1, q.txnNodes[1])
	require.Equal(t, LockExclusive, q.txnNodes[1].r.lockMode)
	require.Equal(t, []common.TxnID{1}, ids(q.running()))
	require.Equal(t, []common.TxnID{3}, ids(q.waiting()))
	require.False(t, x3.isRunning)
}

func TestQueueRequeueUpgradeAsRequest(t *testing.T) {
	q := newTxnQueue()
	q.grantImmediately(req(1, LockShared))
	q.grantImmediately(req(2, LockShared))

	x3 := q.enqueue(req(3, LockExclusive), false)
	up1 := q.enqueue(req(1, LockExclusive), true)
	require.Equal(t, []common.TxnID{1, 3}, ids(q.waiting()))

	require.True(t, q.dropRunning(1))
	q.requeueAsRequest(up1)
	require.False(t, up1.upgrade)
	require.Equal(t, []common.TxnID{3, 1}, ids(q.waiting()))

	require.True(t, q.dropRunning(2))
	require.Equal(t, []common.TxnID{3}, ids(q.processBatch()))
	require.True(t, x3.isRunning)
	require.False(t, up1.isRunning)
}

func TestQueueDropLeavesItEmpty(t *testing.T) {
	q := newTxnQueue()
	q.grantImmediately(req(1, LockShared))
	w := q.enqueue(req(2, LockExclusive), false)

	q.dropWaiter(w)
	assert.False(t, q.hasWaiters())
	assert.False(t, q.dropRunning(2))
	assert.True(t, q.dropRunning(1))
	assert.True(t, q.isEmpty())
}

func TestQueueDoubleGrantPanics(t *testing.T) {
	q := newTxnQueue()
	q.grantImmediately(req(1, LockShared))
	require.Panics(t, func() { q.grantImmediately(req(1, LockShared)) })
}
