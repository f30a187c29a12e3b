package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/runstore"
)

var (
	historyPipeline string
	historyLimit    int
	historyStore    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyPipeline, "pipeline", "", "filter runs by pipeline name")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to list")
	historyCmd.Flags().StringVar(&historyStore, "store", "pipeline-sentry.db", "sqlite run history database path")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	store, err := runstore.Open(historyStore)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close run store", "error", err)
		}
	}()

	runs, err := store.ListRuns(cmd.Context(), historyPipeline, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
		return nil
	}

	for _, run := range runs {
		// A non-terminal state means the run is still executing, or a crashed
		// process left it behind.
		marker := ""
		if !run.State.Terminal() {
			marker = "  (in progress)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s  %-9s  %s%s\n",
			run.CreatedAt.Format("2006-01-02 15:04:05"), run.Pipeline, run.State, run.ID, marker)
	}
	return nil
}
