package workload

import (
	"context"
	"math/rand/v2"
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

const AccountsTable = "accounts"

// TransferConfig describes clients moving money between random accounts.
// Both accounts are accessed in request order, so pessimistic runs deadlock.
type TransferConfig struct {
	Strategy       coordinator.Strategy
	Accounts       int
	Clients        int
	PoolSize       int
	Rounds         int
	InitialBalance int64
	MaxAmount      int64
	Seed           uint64
	Policy         retry.Policy
}

func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		Strategy:       coordinator.Pessimistic,
		Accounts:       4,
		Clients:        16,
		PoolSize:       8,
		Rounds:         50,
		InitialBalance: 1000,
		MaxAmount:      100,
		Seed:           1,
		Policy:         retry.DefaultPolicy(),
	}
}

func (t TransferConfig) Validate() error {
	if t.Accounts < 2 {
		return errors.Errorf("need at least two accounts, got %d", t.Accounts)
	}
	if t.Clients < 1 || t.PoolSize < 1 || t.Rounds < 1 || t.MaxAmount < 1 {
		return errors.New("clients, pool size, rounds and max amount must be positive")
	}
	return t.Policy.Validate()
}

func AccountKey(i int) common.RecordKey {
	return common.NewRecordKey(AccountsTable, uint64(i+1))
}

// Transfer seeds the accounts, runs the transfers and checks that the total
// balance is conserved and no account went negative.
func Transfer(
	ctx context.Context,
	c *coordinator.Coordinator,
	store storage.RecordStore,
	conf TransferConfig,
	log src.Logger,
) (Report, error) {
	if err := conf.Validate(); err != nil {
		return Report{}, errors.Wrap(err, "transfer config")
	}

	for i := 0; i < conf.Accounts; i++ {
		if err := store.Put(ctx, AccountKey(i), utils.Int64ToBytes(conf.InitialBalance)); err != nil {
			return Report{}, errors.Wrapf(err, "seed account %d", i)
		}
		c.Versions().Seed(AccountKey(i), 1)
	}

	rep := Report{
		RunID:    uuid.New(),
		Workload: "transfer",
		Strategy: conf.Strategy,
		Clients:  conf.Clients,
	}
	log.Infow("starting workload", "run_id", rep.RunID.String(), "workload", rep.Workload,
		"strategy", conf.Strategy.String(), "clients", conf.Clients)

	r := &runner{c: c, log: log, policy: conf.Policy, strategy: conf.Strategy, tally: newTally()}
	start := time.Now()

	err := fanOut(ctx, conf.PoolSize, conf.Clients, func(ctx context.Context, client int) error {
		rng := rand.New(rand.NewPCG(conf.Seed, uint64(client)))
		for round := 0; round < conf.Rounds; round++ {
			from := rng.IntN(conf.Accounts)
			to := (from + 1 + rng.IntN(conf.Accounts-1)) % conf.Accounts
			amount := 1 + rng.Int64N(conf.MaxAmount)

			if err := r.do(ctx, transferBody(AccountKey(from), AccountKey(to), amount)); err != nil {
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
	for i := 0; i < conf.Accounts; i++ {
		v, err := store.Get(ctx, AccountKey(i))
		if err != nil {
			return rep, errors.Wrapf(err, "read account %d", i)
		}
		balance := utils.BytesToInt64(v)
		if balance < 0 {
			return rep, errors.Wrapf(ErrInvariantViolated, "account %d has negative balance %d", i, balance)
		}
		total += balance
	}
	if want := int64(conf.Accounts) * conf.InitialBalance; total != want {
		return rep, errors.Wrapf(ErrInvariantViolated, "balances sum to %d, want %d", total, want)
	}

	log.Infow("workload finished", "run_id", rep.RunID.String(), "commits", rep.Commits,
		"attempts", rep.Attempts, "exhausted", rep.Exhausted, "elapsed", rep.Duration)
	return rep, nil
}

// transferBody moves amount from one account to another. A transfer that would
// overdraw commits without writing anything.
func transferBody(from, to common.RecordKey, amount int64) coordinator.Body {
	return func(ctx context.Context, tx *coordinator.Txn) error {
		fromV, err := tx.Read(ctx, from)
		if err != nil {
			return err
		}
		toV, err := tx.Read(ctx, to)
		if err != nil {
			return err
		}

		balance := utils.BytesToInt64(fromV)
		if balance < amount {
			return nil
		}
		if err := tx.Write(ctx, from, utils.Int64ToBytes(balance-amount)); err != nil {
			return err
		}
		return tx.Write(ctx, to, utils.Int64ToBytes(utils.BytesToInt64(toV)+amount))
	}
}
