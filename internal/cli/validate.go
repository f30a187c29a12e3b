package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a pipeline declaration",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, _ []string) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: pipeline %q is valid (%d materials, %d stages)\n",
		configPath, doc.Pipeline.Name, len(doc.Pipeline.Materials), len(doc.Pipeline.Stages))
	return nil
}
