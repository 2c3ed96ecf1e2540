package cli

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestPersistentFlagsReachSubcommands(t *testing.T) {
	root := Init("txsim", "test")

	var seen Options
	root.AddCommand(&cobra.Command{
		Use: "run",
		RunE: func(*cobra.Command, []string) error {
			seen = root.Options
			return nil
		},
	})

	root.SetArgs([]string{"run", "--config", "a.env", "-s", "snap.json"})
	require.NoError(t, root.Execute(context.Background()))
	require.Equal(t, Options{ConfigPath: "a.env", SnapshotPath: "snap.json"}, seen)
}
