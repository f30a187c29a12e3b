package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/config"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the canonical form of a pipeline declaration",
	Args:  cobra.NoArgs,
	RunE:  runRender,
}

func runRender(cmd *cobra.Command, _ []string) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out, err := config.Render(doc)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}
