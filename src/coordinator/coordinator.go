package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Blackdeer1524/TxnCoord/src"
	"github.com/Blackdeer1524/TxnCoord/src/cfg"
	"github.com/Blackdeer1524/TxnCoord/src/deadlock"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/assert"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
	"github.com/Blackdeer1524/TxnCoord/src/retry"
	"github.com/Blackdeer1524/TxnCoord/src/storage"
	"github.com/Blackdeer1524/TxnCoord/src/txns"
	"github.com/Blackdeer1524/TxnCoord/src/versions"
)

// Coordinator runs transactions over a RecordStore with either optimistic
// (version validated at commit) or pessimistic (lock before access)
// concurrency control. Its components are passed in, so independent
// coordinators never share state.
type Coordinator struct {
	store    storage.RecordStore
	versions *versions.Registry
	locks    *txns.Manager

	log             src.Logger
	validateReadSet bool
	retryPolicy     retry.Policy
	metrics         *metrics
	tracer          trace.Tracer

	nextID atomic.Uint64

	mu       sync.RWMutex
	active   map[common.TxnID]*transaction
	finished *ristretto.Cache[uint64, finishedTxn]
}

func New(
	store storage.RecordStore,
	registry *versions.Registry,
	locks *txns.Manager,
	opts ...Option,
) (*Coordinator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	finished, err := ristretto.NewCache(&ristretto.Config[uint64, finishedTxn]{
		NumCounters:        10 * o.finishedCacheSize,
		MaxCost:            o.finishedCacheSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create finished transactions cache")
	}

	m, err := newMetrics(o.meterProvider)
	if err != nil {
		finished.Close()
		return nil, err
	}

	return &Coordinator{
		store:           store,
		versions:        registry,
		locks:           locks,
		log:             o.log,
		validateReadSet: o.validateReadSet,
		retryPolicy:     o.retryPolicy,
		metrics:         m,
		tracer:          o.tracerProvider.Tracer(instrumentationName),
		active:          map[common.TxnID]*transaction{},
		finished:        finished,
	}, nil
}

// NewDefault builds a coordinator with a fresh registry, detector and lock
// manager configured from c.
func NewDefault(store storage.RecordStore, c cfg.Config, log src.Logger) (*Coordinator, error) {
	locks := txns.NewManager(
		deadlock.New(),
		txns.WithDefaultTimeout(c.LockTimeout),
		txns.WithDetectionMode(c.DetectionMode, c.DetectionInterval),
		txns.WithLogger(log),
	)
	return New(
		store,
		versions.NewRegistry(),
		locks,
		WithLogger(log),
		WithReadSetValidation(c.ValidateReadSet),
		WithRetryPolicy(c.RetryPolicy()),
		WithFinishedCacheSize(c.FinishedCacheSize),
	)
}

func (c *Coordinator) Versions() *versions.Registry {
	return c.versions
}

func (c *Coordinator) Locks() *txns.Manager {
	return c.locks
}

// RetryPolicy is the policy Run uses.
func (c *Coordinator) RetryPolicy() retry.Policy {
	return c.retryPolicy
}

func (c *Coordinator) Close() error {
	c.finished.Close()
	return nil
}

func (c *Coordinator) Begin(strategy Strategy) common.TxnID {
	id := common.TxnID(c.nextID.Add(1))
	t := newTransaction(id, strategy)

	c.mu.Lock()
	c.active[id] = t
	c.mu.Unlock()

	c.metrics.begin(context.Background(), strategy)
	c.log.Debugw("transaction started", "txn", id, "strategy", strategy.String())
	return id
}

// BeginTxn is Begin returning a handle.
func (c *Coordinator) BeginTxn(strategy Strategy) *Txn {
	return &Txn{c: c, id: c.Begin(strategy)}
}

// enter returns the active transaction id with its mutex held. A finished
// transaction the cache declined to admit or has evicted is reported as
// ErrNoSuchTransaction rather than ErrTransactionNotActive.
func (c *Coordinator) enter(id common.TxnID) (*transaction, error) {
	c.mu.RLock()
	t, ok := c.active[id]
	c.mu.RUnlock()

	if !ok {
		if f, ended := c.finished.Get(uint64(id)); ended {
			return nil, errors.Wrapf(ErrTransactionNotActive, "txn %d is %s", id, f.state)
		}
		return nil, errors.Wrapf(ErrNoSuchTransaction, "txn %d", id)
	}

	t.mu.Lock()
	if t.state != Active {
		state := t.state
		t.mu.Unlock()
		return nil, errors.Wrapf(ErrTransactionNotActive, "txn %d is %s", id, state)
	}
	return t, nil
}

// State reports the state of id. Terminal states are kept in a bounded cache
// that may drop or refuse entries, after which State fails with
// ErrNoSuchTransaction.
func (c *Coordinator) State(id common.TxnID) (State, error) {
	c.mu.RLock()
	_, ok := c.active[id]
	c.mu.RUnlock()
	if ok {
		return Active, nil
	}

	if f, ended := c.finished.Get(uint64(id)); ended {
		return f.state, nil
	}
	return 0, errors.Wrapf(ErrNoSuchTransaction, "txn %d", id)
}

func (c *Coordinator) Strategy(id common.TxnID) (Strategy, error) {
	c.mu.RLock()
	t, ok := c.active[id]
	c.mu.RUnlock()
	if ok {
		return t.strategy, nil
	}

	if f, ended := c.finished.Get(uint64(id)); ended {
		return f.strategy, nil
	}
	return 0, errors.Wrapf(ErrNoSuchTransaction, "txn %d", id)
}

// Read returns the value of key as seen by the transaction. A pessimistic read
// may wait for a shared lock; an optimistic one never waits but fails with
// ErrOptimisticConflict while another transaction holds key exclusively.
func (c *Coordinator) Read(ctx context.Context, id common.TxnID, key common.RecordKey) (common.Value, error) {
	t, err := c.enter(id)
	if err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	if t.strategy == Pessimistic {
		return c.readPessimistic(ctx, t, key)
	}
	return c.readOptimistic(ctx, t, key)
}

func (c *Coordinator) readOptimistic(ctx context.Context, t *transaction, key common.RecordKey) (common.Value, error) {
	if v, ok := t.writeSet[key]; ok {
		return v.Clone(), nil
	}

	var (
		value  common.Value
		getErr error
	)
	version, err := c.versions.View(key, func(common.Version) error {
		if c.locks.Conflicts(t.id, key, txns.LockShared) {
			return errors.Wrapf(ErrOptimisticConflict, "key %s is being written by another transaction", key)
		}
		value, getErr = c.store.Get(ctx, key)
		return nil
	})
	if err != nil {
		return nil, c.abortWith(ctx, t, err)
	}

	if getErr != nil && !errors.Is(getErr, storage.ErrRecordNotFound) {
		return nil, errors.Wrapf(getErr, "read %s", key)
	}
	if _, seen := t.readSet[key]; !seen {
		t.readSet[key] = version
	}
	if getErr != nil {
		return nil, errors.Wrapf(getErr, "read %s", key)
	}
	return value, nil
}

func (c *Coordinator) readPessimistic(ctx context.Context, t *transaction, key common.RecordKey) (common.Value, error) {
	if err := c.lock(ctx, t, key, txns.LockShared); err != nil {
		return nil, c.abortWith(ctx, t, err)
	}

	var value common.Value
	_, err := c.versions.View(key, func(common.Version) error {
		var err error
		value, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return value, nil
}

// Write sets key to value. Optimistic writes are buffered until commit;
// pessimistic writes take an exclusive lock and go to the store immediately.
func (c *Coordinator) Write(ctx context.Context, id common.TxnID, key common.RecordKey, value common.Value) error {
	t, err := c.enter(id)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	if t.strategy == Pessimistic {
		return c.writePessimistic(ctx, t, key, value)
	}

	if _, seen := t.readSet[key]; !seen {
		t.readSet[key] = c.versions.CurrentVersion(key)
	}
	t.writeSet[key] = value.Clone()
	return nil
}

func (c *Coordinator) writePessimistic(
	ctx context.Context,
	t *transaction,
	key common.RecordKey,
	value common.Value,
) error {
	if err := c.lock(ctx, t, key, txns.LockExclusive); err != nil {
		return c.abortWith(ctx, t, err)
	}

	_, written := t.writeSet[key]
	_, err := c.versions.View(key, func(common.Version) error {
		var undo undoEntry
		if !written {
			prior, err := c.store.Get(ctx, key)
			switch {
			case err == nil:
				undo = undoEntry{key: key, prior: prior, existed: true}
			case errors.Is(err, storage.ErrRecordNotFound):
				undo = undoEntry{key: key}
			default:
				return err
			}
		}

		if err := c.store.Put(ctx, key, value); err != nil {
			return err
		}
		if !written {
			t.undo = append(t.undo, undo)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "write %s", key)
	}

	t.writeSet[key] = value.Clone()
	return nil
}

func (c *Coordinator) lock(ctx context.Context, t *transaction, key common.RecordKey, mode txns.LockMode) error {
	start := time.Now()
	outcome, err := c.locks.Acquire(ctx, t.id, key, mode)
	if outcome != txns.Granted {
		c.metrics.lockWait(ctx, time.Since(start))
	}
	if err != nil {
		return errors.Wrapf(err, "lock %s %s", mode, key)
	}
	return nil
}

// Commit ends the transaction. An optimistic commit that loses validation
// leaves no effect behind and fails with ErrOptimisticConflict.
func (c *Coordinator) Commit(ctx context.Context, id common.TxnID) (err error) {
	t, err := c.enter(id)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "txn.commit", trace.WithAttributes(
		attribute.Int64("txn", int64(id)),
		strategyAttr(t.strategy),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Reason(err))
		}
		span.End()
	}()

	if t.strategy == Pessimistic {
		c.commitPessimistic(ctx, t)
		return nil
	}
	return c.commitOptimistic(ctx, t)
}

func (c *Coordinator) commitOptimistic(ctx context.Context, t *transaction) error {
	writes := t.writeKeys()

	keys := writes
	if c.validateReadSet {
		keys = make([]common.RecordKey, 0, len(t.readSet))
		for k := range t.readSet {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		c.finish(ctx, t, Committed, nil)
		return nil
	}

	batch := c.versions.Acquire(keys)
	defer batch.Release()

	for _, k := range batch.Keys() {
		base := t.readSet[k]
		_, written := t.writeSet[k]

		mode := txns.LockShared
		if written {
			mode = txns.LockExclusive
		}
		if c.locks.Conflicts(t.id, k, mode) {
			return c.failCommit(ctx, t, batch,
				errors.Wrapf(ErrOptimisticConflict, "key %s is locked by another transaction", k))
		}

		if written && batch.CompareAndIncrement(k, base) {
			continue
		}
		if cur := batch.Current(k); written || cur != base {
			return c.failCommit(ctx, t, batch,
				errors.Wrapf(ErrOptimisticConflict, "key %s: observed version %d, current %d", k, base, cur))
		}
	}

	applied := make([]undoEntry, 0, len(writes))
	for _, k := range writes {
		prior, err := c.store.Get(ctx, k)
		existed := true
		if errors.Is(err, storage.ErrRecordNotFound) {
			existed, err = false, nil
		}
		if err == nil {
			err = c.store.Put(ctx, k, t.writeSet[k])
		}
		if err != nil {
			batch.Compensate()
			c.restoreAll(ctx, t.id, applied)
			err = errors.Wrapf(err, "apply %s", k)
			c.finish(ctx, t, Aborted, err)
			return err
		}
		applied = append(applied, undoEntry{key: k, prior: prior, existed: existed})
	}

	c.finish(ctx, t, Committed, nil)
	return nil
}

func (c *Coordinator) failCommit(ctx context.Context, t *transaction, batch *versions.Batch, reason error) error {
	batch.Compensate()
	c.finish(ctx, t, Aborted, reason)
	return reason
}

// restoreAll undoes applied writes in reverse order. The caller holds the
// version slots of every key involved.
func (c *Coordinator) restoreAll(ctx context.Context, id common.TxnID, applied []undoEntry) {
	ctx = context.WithoutCancel(ctx)
	for i := len(applied) - 1; i >= 0; i-- {
		if err := c.restore(ctx, applied[i]); err != nil {
			c.log.Errorw("failed to restore value after failed commit",
				"txn", id, "key", applied[i].key.String(), "error", err)
		}
	}
}

func (c *Coordinator) restore(ctx context.Context, u undoEntry) error {
	if u.existed {
		return c.store.Put(ctx, u.key, u.prior)
	}
	err := c.store.Delete(ctx, u.key)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil
	}
	return err
}

func (c *Coordinator) commitPessimistic(ctx context.Context, t *transaction) {
	if keys := t.writeKeys(); len(keys) > 0 {
		batch := c.versions.Acquire(keys)
		for _, k := range keys {
			ok := batch.CompareAndIncrement(k, batch.Current(k))
			assert.Assert(ok, "version of exclusively locked key %s changed under its batch", k)
		}
		batch.Release()
	}

	c.locks.ReleaseAll(t.id)
	c.finish(ctx, t, Committed, nil)
}

// Rollback aborts the transaction, undoing every write it applied and
// releasing its locks.
func (c *Coordinator) Rollback(ctx context.Context, id common.TxnID) (err error) {
	t, err := c.enter(id)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "txn.rollback", trace.WithAttributes(
		attribute.Int64("txn", int64(id)),
		strategyAttr(t.strategy),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "undo failed")
		}
		span.End()
	}()

	return c.abort(ctx, t, nil)
}

// abortWith aborts t because of reason and returns reason.
func (c *Coordinator) abortWith(ctx context.Context, t *transaction, reason error) error {
	_ = c.abort(ctx, t, reason)
	return reason
}

// abort restores the undo values of a pessimistic transaction in reverse write
// order, releases its locks and marks it Aborted. The first restore failure is
// returned; the remaining values are still restored.
func (c *Coordinator) abort(ctx context.Context, t *transaction, reason error) error {
	var undoErr error
	if t.strategy == Pessimistic {
		undoCtx := context.WithoutCancel(ctx)
		for i := len(t.undo) - 1; i >= 0; i-- {
			u := t.undo[i]
			_, err := c.versions.View(u.key, func(common.Version) error {
				return c.restore(undoCtx, u)
			})
			if err != nil {
				c.log.Errorw("failed to restore value on rollback",
					"txn", t.id, "key", u.key.String(), "error", err)
				if undoErr == nil {
					undoErr = errors.Wrapf(err, "restore %s", u.key)
				}
			}
		}
		c.locks.ReleaseAll(t.id)
	}

	c.finish(ctx, t, Aborted, reason)
	return undoErr
}

func (c *Coordinator) finish(ctx context.Context, t *transaction, state State, reason error) {
	t.state = state

	c.finished.Set(uint64(t.id), finishedTxn{strategy: t.strategy, state: state}, 1)
	c.finished.Wait()

	c.mu.Lock()
	delete(c.active, t.id)
	c.mu.Unlock()

	elapsed := time.Since(t.startedAt)
	if state == Committed {
		c.metrics.commit(ctx, t.strategy)
		c.log.Debugw("transaction committed",
			"txn", t.id, "strategy", t.strategy.String(), "elapsed", elapsed)
		return
	}

	r := Reason(reason)
	c.metrics.abort(ctx, t.strategy, r)
	c.log.Debugw("transaction aborted",
		"txn", t.id, "strategy", t.strategy.String(), "reason", r, "elapsed", elapsed)
}
