package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/checkrun"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/gitmaterial"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/runstore"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/secretenv"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/shellexec"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/app"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/config"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

var (
	runApprove   []string
	runRevisions []string
	runStorePath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger a run of the pipeline declaration",
	Long: `Trigger a run. Materials are resolved to their branch heads through the
GitHub API unless pinned with --revision. Manual stages block the run unless
named in --approve.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runApprove, "approve", nil, "approve a manual stage by name (repeatable)")
	runCmd.Flags().StringArrayVar(&runRevisions, "revision", nil, "pin a material revision as name=sha (repeatable)")
	runCmd.Flags().StringVar(&runStorePath, "store", "", "sqlite run history database path")
}

func runRun(cmd *cobra.Command, _ []string) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}

	revisions, err := parseRevisions(runRevisions)
	if err != nil {
		return err
	}

	opts := app.Options{
		Executor: shellexec.New(),
		Secrets:  secretenv.New(),
		Logger:   slog.Default(),
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		opts.Materials = gitmaterial.New(checkrun.NewTokenClient(token))
	}
	if runStorePath != "" {
		store, err := runstore.Open(runStorePath)
		if err != nil {
			return fmt.Errorf("opening run store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("failed to close run store", "error", err)
			}
		}()
		opts.Store = store
	}

	engine, err := app.NewEngine(opts)
	if err != nil {
		return err
	}

	run, err := engine.Trigger(cmd.Context(), &doc.Pipeline, app.TriggerOptions{
		ApprovedStages: runApprove,
		Revisions:      revisions,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", run.ID, run.State)
	for _, stage := range run.Stages {
		fmt.Fprintf(cmd.OutOrStdout(), "  stage %s: %s\n", stage.Name, stage.State)
		for _, job := range stage.Jobs {
			fmt.Fprintf(cmd.OutOrStdout(), "    job %s: %s\n", job.Name, job.State)
			if job.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "      %s\n", job.Error)
			}
		}
	}

	if run.State != domain.StatePassed && run.State != domain.StateBlocked {
		return fmt.Errorf("run %s", run.State)
	}
	return nil
}

func parseRevisions(pairs []string) (map[string]domain.Revision, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]domain.Revision, len(pairs))
	for _, pair := range pairs {
		name, sha, ok := strings.Cut(pair, "=")
		if !ok || name == "" || sha == "" {
			return nil, fmt.Errorf("invalid --revision %q, expected name=sha", pair)
		}
		out[name] = domain.Revision(sha)
	}
	return out, nil
}
