package versions

import (
	"sync"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/assert"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

// slot is the single mutual-exclusion point of a key.
type slot struct {
	mu      sync.Mutex
	version common.Version
}

// Registry is the only owner of record versions. A version changes only
// through a successful compare-and-increment.
type Registry struct {
	slotsGuard sync.RWMutex
	slots      map[common.RecordKey]*slot
}

func NewRegistry() *Registry {
	return &Registry{
		slots: map[common.RecordKey]*slot{},
	}
}

func (r *Registry) slot(key common.RecordKey) *slot {
	r.slotsGuard.RLock()
	s, ok := r.slots[key]
	r.slotsGuard.RUnlock()
	if ok {
		return s
	}

	r.slotsGuard.Lock()
	defer r.slotsGuard.Unlock()

	s, ok = r.slots[key]
	if !ok {
		s = &slot{}
		r.slots[key] = s
	}
	return s
}

// Seed sets the starting version of a record that already exists in the
// store. Seeding never moves a version backwards.
func (r *Registry) Seed(key common.RecordKey, v common.Version) {
	s := r.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if v > s.version {
		s.version = v
	}
}

// CurrentVersion returns the latest committed version of key.
func (r *Registry) CurrentVersion(key common.RecordKey) common.Version {
	s := r.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version
}

// CompareAndIncrement bumps the version of key iff it equals expected.
func (r *Registry) CompareAndIncrement(key common.RecordKey, expected common.Version) bool {
	s := r.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != expected {
		return false
	}
	s.version++
	return true
}

// View runs fn while holding the slot of key and returns the version that was
// current during fn. No version change of key can interleave with fn.
func (r *Registry) View(key common.RecordKey, fn func(common.Version) error) (common.Version, error) {
	s := r.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version, fn(s.version)
}

// Acquire locks the slots of keys in ascending key order and returns a Batch
// operating on them. The caller must Release the batch.
func (r *Registry) Acquire(keys []common.RecordKey) *Batch {
	sorted := common.SortKeys(keys)
	b := &Batch{
		slots:    make(map[common.RecordKey]*slot, len(sorted)),
		order:    sorted,
		previous: map[common.RecordKey]common.Version{},
	}
	for _, k := range sorted {
		s := r.slot(k)
		s.mu.Lock()
		b.slots[k] = s
	}
	return b
}

// Batch is a set of held slots. Increments done through a batch can be
// compensated before Release since nobody else can observe them.
type Batch struct {
	slots    map[common.RecordKey]*slot
	order    []common.RecordKey
	previous map[common.RecordKey]common.Version
	released bool
}

// Keys returns the batch keys in acquisition order.
func (b *Batch) Keys() []common.RecordKey {
	return b.order
}

func (b *Batch) get(key common.RecordKey) *slot {
	assert.Assert(!b.released, "batch is already released")
	s, ok := b.slots[key]
	assert.Assert(ok, "key %s is not part of the batch", key)
	return s
}

func (b *Batch) Current(key common.RecordKey) common.Version {
	return b.get(key).version
}

func (b *Batch) CompareAndIncrement(key common.RecordKey, expected common.Version) bool {
	s := b.get(key)
	if s.version != expected {
		return false
	}
	if _, seen := b.previous[key]; !seen {
		b.previous[key] = s.version
	}
	s.version++
	return true
}

// Compensate undoes every increment performed through the batch.
func (b *Batch) Compensate() {
	for k, v := range b.previous {
		b.get(k).version = v
	}
	clear(b.previous)
}

// Release unlocks the slots in reverse acquisition order.
func (b *Batch) Release() {
	if b.released {
		return
	}
	for i := len(b.order) - 1; i >= 0; i-- {
		b.slots[b.order[i]].mu.Unlock()
	}
	b.released = true
}
