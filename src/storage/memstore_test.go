package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

func TestMemStoreGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	key := common.NewRecordKey("players", 1)

	_, err := s.Get(ctx, key)
	require.ErrorIs(t, err, ErrRecordNotFound)

	val := common.Value("1000")
	require.NoError(t, s.Put(ctx, key, val))
	val[0] = '9'

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, common.Value("1000"), got, "store must not alias caller buffers")

	got[0] = '7'
	again, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, common.Value("1000"), again)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.Equal(t, 0, s.Len())
}

func TestMemStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemStore()
	require.ErrorIs(t, s.Put(ctx, common.NewRecordKey("t", 1), nil), context.Canceled)
}

func TestMemStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(pk uint64) {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, common.NewRecordKey("t", pk), common.Value{byte(pk)}))
		}(uint64(i))
	}
	wg.Wait()

	keys := s.Keys()
	require.Len(t, keys, 32)
	for i := 1; i < len(keys); i++ {
		assert.True(t, keys[i-1].Less(keys[i]))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s := NewMemStore()
	require.NoError(t, s.Put(ctx, common.NewRecordKey("players", 2), common.Value("1010")))
	require.NoError(t, s.Put(ctx, common.NewRecordKey("accounts", 7), common.Value{0, 1, 2}))
	require.NoError(t, s.Put(ctx, common.NewRecordKey("empty", 1), nil))

	path := "/tmp/txsim/snapshot.json"
	require.NoError(t, WriteSnapshot(fs, path, s))

	loaded, err := ReadSnapshot(fs, path)
	require.NoError(t, err)
	require.Equal(t, s.Keys(), loaded.Keys())

	for _, k := range s.Keys() {
		want, err := s.Get(ctx, k)
		require.NoError(t, err)
		got, err := loaded.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, []byte(want), []byte(got), k.String())
	}

	first := encodeSnapshot(s)
	second := encodeSnapshot(loaded)
	assert.Equal(t, string(first), string(second))
}

func TestReadSnapshotErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := ReadSnapshot(fs, "/missing.json")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/bad.json", []byte(`{"records":[{"pk":"x"}]}`), 0o600))
	_, err = ReadSnapshot(fs, "/bad.json")
	require.Error(t, err)
}
