package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "executor",
		Short: "Durable worker executor",
		Long: `The worker executor runs workers durably: every side effect of a worker
is recorded in its operation log (oplog), and a restarted worker replays the
oplog to get back to where it stopped.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newOplogCommand())

	return rootCmd
}
