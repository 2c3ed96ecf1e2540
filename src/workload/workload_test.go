package workload

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/TxnCoord/src/cfg"
	"github.com/Blackdeer1524/TxnCoord/src/coordinator"
	"github.com/Blackdeer1524/TxnCoord/src/retry"
	"github.com/Blackdeer1524/TxnCoord/src/storage"
)

func patientPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    1000,
		InitialBackoff: 10 * time.Microsecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     2,
		Jitter:         0.5,
	}
}

func newCoordinator(t *testing.T) (*coordinator.Coordinator, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	c, err := coordinator.NewDefault(store, cfg.Default(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, store
}

func TestPlayersWorkload(t *testing.T) {
	for _, strategy := range []coordinator.Strategy{coordinator.Optimistic, coordinator.Pessimistic} {
		t.Run(strategy.String(), func(t *testing.T) {
			c, store := newCoordinator(t)

			conf := DefaultPlayersConfig()
			conf.Strategy = strategy
			conf.Clients = 6
			conf.PoolSize = 3
			conf.Rounds = 10
			conf.Policy = patientPolicy()

			rep, err := Players(context.Background(), c, store, conf, zap.NewNop().Sugar())
			require.NoError(t, err)

			require.Equal(t, int64(conf.Clients*conf.Rounds), rep.Commits+rep.Exhausted)
			require.GreaterOrEqual(t, rep.Attempts, rep.Commits)
			require.Equal(t, "players", rep.Workload)
			require.Zero(t, c.Locks().NumQueues())
		})
	}
}

func TestTransferWorkloadConservesMoney(t *testing.T) {
	for _, strategy := range []coordinator.Strategy{coordinator.Optimistic, coordinator.Pessimistic} {
		t.Run(strategy.String(), func(t *testing.T) {
			c, store := newCoordinator(t)

			conf := DefaultTransferConfig()
			conf.Strategy = strategy
			conf.Clients = 6
			conf.PoolSize = 6
			conf.Rounds = 20
			conf.Policy = patientPolicy()

			rep, err := Transfer(context.Background(), c, store, conf, zap.NewNop().Sugar())
			require.NoError(t, err)
			require.Equal(t, int64(conf.Clients*conf.Rounds), rep.Commits+rep.Exhausted)
			require.Equal(t, conf.Accounts, store.Len())
		})
	}
}

func TestWorkloadConfigValidation(t *testing.T) {
	c, store := newCoordinator(t)
	log := zap.NewNop().Sugar()

	players := DefaultPlayersConfig()
	players.Players = 0
	_, err := Players(context.Background(), c, store, players, log)
	require.Error(t, err)

	transfer := DefaultTransferConfig()
	transfer.Accounts = 1
	_, err = Transfer(context.Background(), c, store, transfer, log)
	require.Error(t, err)
}

func TestReportJSON(t *testing.T) {
	tl := newTally()
	tl.attempts.Add(5)
	tl.commits.Add(3)
	tl.abort("conflict")
	tl.abort("conflict")
	rep := tl.report(Report{Workload: "players", Strategy: coordinator.Optimistic, Clients: 2})

	fields := map[string]string{}
	aborts := map[string]int64{}
	d := jx.DecodeBytes(rep.JSON())
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "aborts":
			return d.Obj(func(d *jx.Decoder, reason string) error {
				n, err := d.Int64()
				aborts[reason] = n
				return err
			})
		case "workload", "strategy", "run_id":
			s, err := d.Str()
			fields[key] = s
			return err
		default:
			return d.Skip()
		}
	}))

	require.Equal(t, "players", fields["workload"])
	require.Equal(t, "optimistic", fields["strategy"])
	require.Equal(t, map[string]int64{"conflict": 2}, aborts)
}
