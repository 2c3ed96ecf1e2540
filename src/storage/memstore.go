package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

// MemStore is an in-memory RecordStore. Values are copied on the way in and
// on the way out so callers never share buffers with the store.
type MemStore struct {
	mu      sync.RWMutex
	records map[common.RecordKey]common.Value
}

var _ RecordStore = &MemStore{}

func NewMemStore() *MemStore {
	return &MemStore{
		records: map[common.RecordKey]common.Value{},
	}
}

func (s *MemStore) Get(ctx context.Context, key common.RecordKey) (common.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.records[key]
	if !ok {
		return nil, errors.Wrapf(ErrRecordNotFound, "get %s", key)
	}
	return v.Clone(), nil
}

func (s *MemStore) Put(ctx context.Context, key common.RecordKey, value common.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		value = common.Value{}
	}
	s.records[key] = value.Clone()
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key common.RecordKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// Keys returns every stored key in ascending order.
func (s *MemStore) Keys() []common.RecordKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]common.RecordKey, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, common.RecordKey.Compare)
	return keys
}

func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
