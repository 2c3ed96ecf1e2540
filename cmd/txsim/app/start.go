package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/TxnCoord/src"
	srcapp "github.com/Blackdeer1524/TxnCoord/src/app"
	"github.com/Blackdeer1524/TxnCoord/src/coordinator"
	"github.com/Blackdeer1524/TxnCoord/src/storage"
	"github.com/Blackdeer1524/TxnCoord/src/workload"
)

func parseStrategy(s string) (coordinator.Strategy, error) {
	switch s {
	case coordinator.Optimistic.String():
		return coordinator.Optimistic, nil
	case coordinator.Pessimistic.String():
		return coordinator.Pessimistic, nil
	}
	return 0, errors.Errorf("unknown strategy %q", s)
}

func runSimulation(cmd *cobra.Command, w srcapp.Workload) error {
	return srcapp.Run(cmd.Context(), &srcapp.SimulationEntrypoint{
		ConfigPath:   rootCmd.Options.ConfigPath,
		SnapshotPath: rootCmd.Options.SnapshotPath,
		Workload:     w,
	})
}

func initPlayers() {
	conf := workload.DefaultPlayersConfig()
	var strategy string

	cmd := &cobra.Command{
		Use:   "players",
		Short: "Concurrently bumps player rankings and checks that no update is lost",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := parseStrategy(strategy)
			if err != nil {
				return err
			}
			conf.Strategy = s

			return runSimulation(cmd, func(
				ctx context.Context,
				c *coordinator.Coordinator,
				store storage.RecordStore,
				log src.Logger,
			) (workload.Report, error) {
				conf.Policy = c.RetryPolicy()
				return workload.Players(ctx, c, store, conf, log)
			})
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", conf.Strategy.String(), "optimistic or pessimistic")
	cmd.Flags().IntVar(&conf.Players, "players", conf.Players, "Number of players")
	cmd.Flags().IntVar(&conf.Clients, "clients", conf.Clients, "Number of clients")
	cmd.Flags().IntVar(&conf.PoolSize, "pool", conf.PoolSize, "Number of clients running at once")
	cmd.Flags().IntVar(&conf.Rounds, "rounds", conf.Rounds, "Transactions per client")
	cmd.Flags().Int64Var(&conf.Delta, "delta", conf.Delta, "Ranking change per transaction")

	rootCmd.AddCommand(cmd)
}

func initTransfer() {
	conf := workload.DefaultTransferConfig()
	var strategy string

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Moves money between accounts in request order and checks the total is conserved",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := parseStrategy(strategy)
			if err != nil {
				return err
			}
			conf.Strategy = s

			return runSimulation(cmd, func(
				ctx context.Context,
				c *coordinator.Coordinator,
				store storage.RecordStore,
				log src.Logger,
			) (workload.Report, error) {
				conf.Policy = c.RetryPolicy()
				return workload.Transfer(ctx, c, store, conf, log)
			})
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", conf.Strategy.String(), "optimistic or pessimistic")
	cmd.Flags().IntVar(&conf.Accounts, "accounts", conf.Accounts, "Number of accounts")
	cmd.Flags().IntVar(&conf.Clients, "clients", conf.Clients, "Number of clients")
	cmd.Flags().IntVar(&conf.PoolSize, "pool", conf.PoolSize, "Number of clients running at once")
	cmd.Flags().IntVar(&conf.Rounds, "rounds", conf.Rounds, "Transfers per client")
	cmd.Flags().Int64Var(&conf.MaxAmount, "max-amount", conf.MaxAmount, "Largest single transfer")
	cmd.Flags().Uint64Var(&conf.Seed, "seed", conf.Seed, "Random seed")

	rootCmd.AddCommand(cmd)
}
