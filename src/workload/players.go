package workload

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/Blackdeer1524/TxnCoord/src"
	"github.com/Blackdeer1524/TxnCoord/src/coordinator"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/utils"
	"github.com/Blackdeer1524/TxnCoord/src/retry"
	"github.com/Blackdeer1524/TxnCoord/src/storage"
)

const PlayersTable = "players"

// PlayersConfig describes clients bumping the ranking of a few players.
type PlayersConfig struct {
	Strategy       coordinator.Strategy
	Players        int
	Clients        int
	PoolSize       int
	Rounds         int
	InitialRanking int64
	Delta          int64
	Policy         retry.Policy
}

func DefaultPlayersConfig() PlayersConfig {
	return PlayersConfig{
		Strategy:       coordinator.Optimistic,
		Players:        3,
		Clients:        16,
		PoolSize:       8,
		Rounds:         50,
		InitialRanking: 1000,
		Delta:          10,
		Policy:         retry.DefaultPolicy(),
	}
}

func (p PlayersConfig) Validate() error {
	if p.Players < 1 || p.Clients < 1 || p.PoolSize < 1 || p.Rounds < 1 {
		return errors.New("players, clients, pool size and rounds must be positive")
	}
	return p.Policy.Validate()
}

func PlayerKey(i int) common.RecordKey {
	return common.NewRecordKey(PlayersTable, uint64(i+1))
}

// Players seeds the rankings at version 1, lets every client add Delta to a
// player Rounds times and checks that no update was lost.
func Players(
	ctx context.Context,
	c *coordinator.Coordinator,
	store storage.RecordStore,
	conf PlayersConfig,
	log src.Logger,
) (Report, error) {
	if err := conf.Validate(); err != nil {
		return Report{}, errors.Wrap(err, "players config")
	}

	for i := 0; i < conf.Players; i++ {
		if err := store.Put(ctx, PlayerKey(i), utils.Int64ToBytes(conf.InitialRanking)); err != nil {
			return Report{}, errors.Wrapf(err, "seed player %d", i)
		}
		c.Versions().Seed(PlayerKey(i), 1)
	}

	rep := Report{
		RunID:    uuid.New(),
		Workload: "players",
		Strategy: conf.Strategy,
		Clients:  conf.Clients,
	}
	log.Infow("starting workload", "run_id", rep.RunID.String(), "workload", rep.Workload,
		"strategy", conf.Strategy.String(), "clients", conf.Clients)

	r := &runner{c: c, log: log, policy: conf.Policy, strategy: conf.Strategy, tally: newTally()}
	start := time.Now()

	err := fanOut(ctx, conf.PoolSize, conf.Clients, func(ctx context.Context, client int) error {
		for round := 0; round < conf.Rounds; round++ {
			key := PlayerKey((client + round) % conf.Players)
			err := r.do(ctx, func(ctx context.Context, tx *coordinator.Txn) error {
				v, err := tx.Read(ctx, key)
				if err != nil {
					return err
				}
				return tx.Write(ctx, key, utils.Int64ToBytes(utils.BytesToInt64(v)+conf.Delta))
			})
			if err != nil {
				return errors.Wrapf(err, "client %d round %d", client, round)
			}
		}
		return nil
	})
	rep.Duration = time.Since(start)
	rep = r.tally.report(rep)
	if err != nil {
		return rep, err
	}

	var total int64
	var versions common.Version
	for i := 0; i < conf.Players; i++ {
		v, err := store.Get(ctx, PlayerKey(i))
		if err != nil {
			return rep, errors.Wrapf(err, "read player %d", i)
		}
		total += utils.BytesToInt64(v)
		versions += c.Versions().CurrentVersion(PlayerKey(i))
	}

	wantTotal := int64(conf.Players)*conf.InitialRanking + rep.Commits*conf.Delta
	if total != wantTotal {
		return rep, errors.Wrapf(ErrInvariantViolated, "rankings sum to %d, want %d", total, wantTotal)
	}
	if wantVersions := common.Version(int64(conf.Players) + rep.Commits); versions != wantVersions {
		return rep, errors.Wrapf(ErrInvariantViolated, "versions sum to %d, want %d", versions, wantVersions)
	}

	log.Infow("workload finished", "run_id", rep.RunID.String(), "commits", rep.Commits,
		"attempts", rep.Attempts, "exhausted", rep.Exhausted, "elapsed", rep.Duration)
	return rep, nil
}
