package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/config"
)

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Show the canonical diff between two pipeline declarations",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	oldDoc, err := config.Load(args[0])
	if err != nil {
		return err
	}
	newDoc, err := config.Load(args[1])
	if err != nil {
		return err
	}

	diff, err := config.Diff(args[0], args[1], oldDoc, newDoc)
	if err != nil {
		return err
	}
	if diff == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "declarations are equivalent")
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), diff)
	return nil
}
