package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/sentryrelease"
)

var (
	releaseVersion string
	releaseEnv     string
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Sentry release bookkeeping",
	Long: `Release talks to the Sentry releases API using the SENTRY_URL, SENTRY_ORG,
SENTRY_PROJECT, and SENTRY_AUTH_TOKEN environment variables the deploy stage
declares.`,
}

var releaseNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a release for a version",
	Args:  cobra.NoArgs,
	RunE:  runReleaseNew,
}

var releaseDeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Record a deploy of a version to an environment",
	Args:  cobra.NoArgs,
	RunE:  runReleaseDeploy,
}

func init() {
	releaseNewCmd.Flags().StringVar(&releaseVersion, "version", "", "release version, usually the revision SHA")
	//nolint:errcheck // Flag is declared above
	_ = releaseNewCmd.MarkFlagRequired("version")

	releaseDeployCmd.Flags().StringVar(&releaseVersion, "version", "", "release version, usually the revision SHA")
	releaseDeployCmd.Flags().StringVar(&releaseEnv, "env", "", "environment the version was deployed to")
	//nolint:errcheck // Flag is declared above
	_ = releaseDeployCmd.MarkFlagRequired("version")
	//nolint:errcheck // Flag is declared above
	_ = releaseDeployCmd.MarkFlagRequired("env")

	releaseCmd.AddCommand(releaseNewCmd)
	releaseCmd.AddCommand(releaseDeployCmd)
}

func sentryClient() (*sentryrelease.Client, error) {
	return sentryrelease.New(sentryrelease.Config{
		BaseURL:   os.Getenv("SENTRY_URL"),
		Org:       os.Getenv("SENTRY_ORG"),
		Project:   os.Getenv("SENTRY_PROJECT"),
		AuthToken: os.Getenv("SENTRY_AUTH_TOKEN"),
	}, slog.Default())
}

func runReleaseNew(cmd *cobra.Command, _ []string) error {
	client, err := sentryClient()
	if err != nil {
		return err
	}
	if err := client.CreateRelease(cmd.Context(), releaseVersion); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "release %s created\n", releaseVersion)
	return nil
}

func runReleaseDeploy(cmd *cobra.Command, _ []string) error {
	client, err := sentryClient()
	if err != nil {
		return err
	}
	if err := client.CreateDeploy(cmd.Context(), releaseVersion, releaseEnv); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deploy of %s to %s recorded\n", releaseVersion, releaseEnv)
	return nil
}
