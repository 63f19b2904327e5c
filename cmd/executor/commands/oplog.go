package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/worker-executor/pkg/config"
	"github.com/openfroyo/worker-executor/pkg/executor"
	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

func newOplogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oplog",
		Short: "Inspect worker oplogs",
		Long: `Read the oplogs stored in the configured backend. The commands never
write, so they are safe to run next to a live executor.`,
	}

	cmd.AddCommand(newOplogShowCommand())
	cmd.AddCommand(newOplogMetadataCommand())

	return cmd
}

func newOplogShowCommand() *cobra.Command {
	var (
		from  uint64
		count uint64
	)

	cmd := &cobra.Command{
		Use:   "show <component-id>:<worker-name>",
		Short: "Print the entries of a worker oplog",
		Example: `  # First 100 entries
  executor oplog show 5f7a1c9e-3b0d-4c1e-9a8b-2d6f0e4c1b7a:worker-1

  # Ten entries starting at index 42
  executor oplog show 5f7a1c9e-3b0d-4c1e-9a8b-2d6f0e4c1b7a:worker-1 --from 42 --count 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == 0 {
				return fmt.Errorf("--from must be a positive index")
			}
			workerID, err := oplog.ParseWorkerID(args[0])
			if err != nil {
				return err
			}
			return withExecutor(cmd.Context(), func(exec *executor.Executor) error {
				entries, err := exec.Oplogs().Read(cmd.Context(), workerID, oplog.Index(from), count)
				if err != nil {
					return err
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&from, "from", uint64(oplog.Initial), "index of the first entry")
	cmd.Flags().Uint64Var(&count, "count", defaultPageSize, "maximum number of entries")

	return cmd
}

func newOplogMetadataCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <component-id>:<worker-name>",
		Short: "Print the metadata derived from a worker oplog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workerID, err := oplog.ParseWorkerID(args[0])
			if err != nil {
				return err
			}
			return withExecutor(cmd.Context(), func(exec *executor.Executor) error {
				meta, err := exec.Metadata(cmd.Context(), workerID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "worker:            %s\n", meta.WorkerID)
				fmt.Fprintf(out, "account:           %s\n", meta.AccountID)
				fmt.Fprintf(out, "component version: %d\n", meta.ComponentVersion)
				fmt.Fprintf(out, "last index:        %d\n", meta.LastIndex)
				fmt.Fprintf(out, "deleted regions:   %s\n", meta.DeletedRegions)
				fmt.Fprintf(out, "status:            %s\n", meta.Status)
				return nil
			})
		},
	}
}

// withExecutor opens the configured backends without telemetry exporters
// and runs fn on an executor over them.
func withExecutor(ctx context.Context, fn func(*executor.Executor) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tel := telemetry.NewNop()
	b, err := openBackends(ctx, cfg, tel)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(executor.New(b.oplogs, executor.WithAssumeIdempotence(cfg.AssumeIdempotence)))
}

func printEntries(w io.Writer, entries []oplog.IndexedEntry) {
	for _, e := range entries {
		marker := " "
		if oplog.IsHint(e.Entry) {
			marker = "~"
		}
		fmt.Fprintf(w, "%6d %s %-26s %s %s\n", e.Index, marker, e.Entry.Kind(), e.Entry.Time(), entryDumper.Sdump(e.Entry))
	}
}
