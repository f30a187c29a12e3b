package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/adapters/gkedeploy"
)

var (
	deploySelector  string
	deployContainer string
	deployImage     string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Roll an image out to the GKE cluster",
	Long: `Deploy fetches cluster credentials, opens an IAP tunnel through the
bastion, and updates the image on every deployment matching the selector.
The cluster is taken from the GCP_PROJECT, GKE_CLUSTER, GKE_REGION,
GKE_CLUSTER_ZONE, and GKE_BASTION_ZONE environment variables the pipeline
declares.`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&deploySelector, "selector", "", "label selector for the deployments to update")
	deployCmd.Flags().StringVar(&deployContainer, "container", "", "container name within the matched pods")
	deployCmd.Flags().StringVar(&deployImage, "image", "", "fully qualified image reference")
	//nolint:errcheck // Flag is declared above
	_ = deployCmd.MarkFlagRequired("selector")
	//nolint:errcheck // Flag is declared above
	_ = deployCmd.MarkFlagRequired("container")
	//nolint:errcheck // Flag is declared above
	_ = deployCmd.MarkFlagRequired("image")
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	deployer, err := gkedeploy.New(slog.Default())
	if err != nil {
		return err
	}

	target := gkedeploy.Target{
		Project:     os.Getenv("GCP_PROJECT"),
		Cluster:     os.Getenv("GKE_CLUSTER"),
		Region:      os.Getenv("GKE_REGION"),
		ClusterZone: os.Getenv("GKE_CLUSTER_ZONE"),
		BastionZone: os.Getenv("GKE_BASTION_ZONE"),
		Selector:    deploySelector,
		Container:   deployContainer,
		Image:       deployImage,
	}

	if err := deployer.Deploy(cmd.Context(), target); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rolled out %s to %s\n", deployImage, target.Cluster)
	return nil
}
