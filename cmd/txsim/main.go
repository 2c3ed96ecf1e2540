package main

import (
	"context"

	"github.com/Blackdeer1524/TxnCoord/cmd/txsim/app"
)

func main() {
	app.MustExecute(context.Background())
}
