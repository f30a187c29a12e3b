package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/spf13/cobra"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/checkrun"
)

var (
	checksRepo     string
	checksRevision string
	checksTimeout  time.Duration
	checksInterval time.Duration

	checksAppID          int64
	checksInstallationID int64
	checksAppKeyPath     string
)

var checksCmd = &cobra.Command{
	Use:   "checks",
	Short: "GitHub check-run gating",
}

var checksWaitCmd = &cobra.Command{
	Use:   "wait [check names...]",
	Short: "Wait for named check runs to succeed on a revision",
	Long: `Wait polls the GitHub check-runs API for the named checks on the given
revision until all of them conclude successfully, any of them fails, or the
timeout expires. Authentication uses GITHUB_TOKEN, or a GitHub App when
--app-id, --installation-id, and --app-key are set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChecksWait,
}

func init() {
	checksWaitCmd.Flags().StringVar(&checksRepo, "repo", "", "repository as owner/name")
	checksWaitCmd.Flags().StringVar(&checksRevision, "revision", "", "commit SHA to gate on")
	checksWaitCmd.Flags().DurationVar(&checksTimeout, "timeout", 30*time.Minute, "how long to wait before giving up")
	checksWaitCmd.Flags().DurationVar(&checksInterval, "interval", 15*time.Second, "poll interval")
	checksWaitCmd.Flags().Int64Var(&checksAppID, "app-id", 0, "GitHub App ID")
	checksWaitCmd.Flags().Int64Var(&checksInstallationID, "installation-id", 0, "GitHub App installation ID")
	checksWaitCmd.Flags().StringVar(&checksAppKeyPath, "app-key", "", "GitHub App private key file")

	//nolint:errcheck // Flag is declared above
	_ = checksWaitCmd.MarkFlagRequired("repo")
	//nolint:errcheck // Flag is declared above
	_ = checksWaitCmd.MarkFlagRequired("revision")

	checksCmd.AddCommand(checksWaitCmd)
}

func runChecksWait(cmd *cobra.Command, names []string) error {
	owner, repo, ok := strings.Cut(checksRepo, "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("invalid --repo %q, expected owner/name", checksRepo)
	}

	client, err := githubClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), checksTimeout)
	defer cancel()

	poller := checkrun.New(client, slog.Default()).WithInterval(checksInterval)
	if err := poller.Wait(ctx, owner, repo, checksRevision, names); err != nil {
		var failed *checkrun.CheckFailedError
		if errors.As(err, &failed) {
			return fmt.Errorf("gate failed: %w", failed)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "all %d checks succeeded on %s@%s\n", len(names), checksRepo, checksRevision)
	return nil
}

// githubClient prefers App credentials when configured and falls back to
// GITHUB_TOKEN.
func githubClient() (*github.Client, error) {
	if checksAppID != 0 || checksInstallationID != 0 || checksAppKeyPath != "" {
		if checksAppID == 0 || checksInstallationID == 0 || checksAppKeyPath == "" {
			return nil, errors.New("app auth requires --app-id, --installation-id, and --app-key together")
		}
		return checkrun.NewAppClient(checksAppID, checksInstallationID, checksAppKeyPath)
	}
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil, errors.New("GITHUB_TOKEN is not set")
	}
	return checkrun.NewTokenClient(token), nil
}
