package versions

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

var playerKey = common.NewRecordKey("players", 1)

func TestRegistryCompareAndIncrement(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, common.NilVersion, r.CurrentVersion(playerKey))

	r.Seed(playerKey, 1)
	require.Equal(t, common.Version(1), r.CurrentVersion(playerKey))

	require.True(t, r.CompareAndIncrement(playerKey, 1))
	require.Equal(t, common.Version(2), r.CurrentVersion(playerKey))

	require.False(t, r.CompareAndIncrement(playerKey, 1), "stale expected version")
	require.Equal(t, common.Version(2), r.CurrentVersion(playerKey))
}

func TestRegistrySeedNeverDecreases(t *testing.T) {
	r := NewRegistry()
	r.Seed(playerKey, 5)
	r.Seed(playerKey, 3)
	require.Equal(t, common.Version(5), r.CurrentVersion(playerKey))
}

func TestRegistryConcurrentIncrementsExactlyOneWinner(t *testing.T) {
	r := NewRegistry()
	r.Seed(playerKey, 1)

	const contenders = 64
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.CompareAndIncrement(playerKey, 1) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, common.Version(2), r.CurrentVersion(playerKey))
}

func TestRegistryMonotonicUnderLoad(t *testing.T) {
	r := NewRegistry()

	stop := make(chan struct{})
	var observerWG sync.WaitGroup
	observerWG.Add(1)
	go func() {
		defer observerWG.Done()
		last := common.NilVersion
		for {
			select {
			case <-stop:
				return
			default:
			}
			v := r.CurrentVersion(playerKey)
			assert.GreaterOrEqual(t, v, last, "version went backwards")
			last = v
		}
	}()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				for {
					cur := r.CurrentVersion(playerKey)
					if r.CompareAndIncrement(playerKey, cur) {
						break
					}
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	observerWG.Wait()

	require.Equal(t, common.Version(8*200), r.CurrentVersion(playerKey))
}

func TestBatchCompensateIsInvisible(t *testing.T) {
	r := NewRegistry()
	a := common.NewRecordKey("accounts", 1)
	b := common.NewRecordKey("accounts", 2)
	r.Seed(a, 1)
	r.Seed(b, 1)

	batch := r.Acquire([]common.RecordKey{b, a, b})
	require.Equal(t, []common.RecordKey{a, b}, batch.Keys())

	observed := make(chan common.Version)
	go func() {
		observed <- r.CurrentVersion(a)
	}()

	require.True(t, batch.CompareAndIncrement(a, 1))
	require.False(t, batch.CompareAndIncrement(b, 7))
	require.Equal(t, common.Version(2), batch.Current(a))

	select {
	case <-observed:
		t.Fatal("reader must wait for the batch to be released")
	case <-time.After(50 * time.Millisecond):
	}

	batch.Compensate()
	batch.Release()
	batch.Release()

	require.Equal(t, common.Version(1), <-observed)
	require.Equal(t, common.Version(1), r.CurrentVersion(a))
	require.Equal(t, common.Version(1), r.CurrentVersion(b))
}

func TestBatchPanicsOnForeignKey(t *testing.T) {
	r := NewRegistry()
	batch := r.Acquire([]common.RecordKey{playerKey})
	defer batch.Release()

	require.Panics(t, func() {
		batch.Current(common.NewRecordKey("players", 2))
	})
}

func TestViewSeesStableVersion(t *testing.T) {
	r := NewRegistry()
	r.Seed(playerKey, 3)

	v, err := r.View(playerKey, func(v common.Version) error {
		require.Equal(t, common.Version(3), v)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, common.Version(3), v)
}
