package app

import (
	"context"

	"github.com/Blackdeer1524/TxnCoord/src/cli"
)

var rootCmd = cli.Init("txsim", "Runs contention workloads against the transaction coordinator")

func MustExecute(ctx context.Context) {
	initPlayers()
	initTransfer()
	rootCmd.MustExecute(ctx)
}
