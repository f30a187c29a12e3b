// Package gkedeploy rolls a new container image out to a GKE cluster. It
// shells out to gcloud and kubectl: fetch cluster credentials, open an IAP
// tunnel through the bastion, then update the image on every deployment
// matching a label selector. There is no retry or rollback here; a non-zero
// exit from either tool fails the rollout.
package gkedeploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// tunnelPort is the local end of the IAP forward. kubectl reaches the
// cluster through it via HTTPS_PROXY; without that the tunnel carries no
// traffic and the rollout talks to the endpoint directly.
const tunnelPort = "8443"

// Target identifies the cluster and workload to update, matching the GKE_*
// and GCP_* variables the pipeline declares.
type Target struct {
	Project     string // GCP_PROJECT
	Cluster     string // GKE_CLUSTER
	Region      string // GKE_REGION
	ClusterZone string // GKE_CLUSTER_ZONE, suffix within the region
	BastionZone string // GKE_BASTION_ZONE, suffix within the region
	Selector    string // label selector for the deployments to update
	Container   string // container name within the matched pods
	Image       string // fully qualified image reference
}

func (t Target) validate() error {
	switch {
	case t.Project == "":
		return errors.New("target requires a project")
	case t.Cluster == "":
		return errors.New("target requires a cluster")
	case t.Region == "":
		return errors.New("target requires a region")
	case t.Selector == "":
		return errors.New("target requires a label selector")
	case t.Container == "":
		return errors.New("target requires a container name")
	case t.Image == "":
		return errors.New("target requires an image reference")
	}
	return nil
}

// zone joins the region with a zone suffix, e.g. us-central1 + b.
func (t Target) zone(suffix string) string {
	if suffix == "" {
		return t.Region
	}
	return t.Region + "-" + suffix
}

// Deployer shells out to gcloud and kubectl.
type Deployer struct {
	gcloudPath  string
	kubectlPath string
	log         *slog.Logger
}

// New locates the required CLI tools on PATH.
func New(log *slog.Logger) (*Deployer, error) {
	gcloudPath, err := exec.LookPath("gcloud")
	if err != nil {
		return nil, fmt.Errorf("gcloud not found on PATH: %w", err)
	}
	kubectlPath, err := exec.LookPath("kubectl")
	if err != nil {
		return nil, fmt.Errorf("kubectl not found on PATH: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Deployer{gcloudPath: gcloudPath, kubectlPath: kubectlPath, log: log}, nil
}

// Deploy fetches credentials, opens the bastion tunnel, and updates the
// image on the matched deployments. The tunnel process is terminated when
// the rollout command finishes, successful or not.
func (d *Deployer) Deploy(ctx context.Context, target Target) error {
	if err := target.validate(); err != nil {
		return err
	}

	if err := d.run(ctx, d.gcloudPath, credentialArgs(target), nil); err != nil {
		return fmt.Errorf("fetching cluster credentials: %w", err)
	}

	tunnel := exec.CommandContext(ctx, d.gcloudPath, tunnelArgs(target)...)
	if err := tunnel.Start(); err != nil {
		return fmt.Errorf("starting bastion tunnel: %w", err)
	}
	defer func() {
		if tunnel.Process != nil {
			if err := tunnel.Process.Kill(); err != nil {
				d.log.Warn("failed to stop bastion tunnel", "error", err)
			}
		}
		//nolint:errcheck // The tunnel is killed, its exit status is expected to be non-zero
		_ = tunnel.Wait()
	}()

	// Give the tunnel a moment to come up before driving kubectl through it.
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("rolling out image",
		"cluster", target.Cluster, "selector", target.Selector, "image", target.Image)

	if err := d.run(ctx, d.kubectlPath, setImageArgs(target), proxyEnv()); err != nil {
		return fmt.Errorf("updating image: %w", err)
	}
	return nil
}

func (d *Deployer) run(ctx context.Context, path string, args, extraEnv []string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w\n%s", path, strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return nil
}

func credentialArgs(t Target) []string {
	return []string{
		"container", "clusters", "get-credentials", t.Cluster,
		"--project", t.Project,
		"--zone", t.zone(t.ClusterZone),
	}
}

func tunnelArgs(t Target) []string {
	return []string{
		"compute", "ssh", "bastion-" + t.Cluster,
		"--project", t.Project,
		"--zone", t.zone(t.BastionZone),
		"--tunnel-through-iap",
		"--", "-N", "-L", tunnelPort + ":127.0.0.1:" + tunnelPort,
	}
}

// proxyEnv points kubectl at the forwarded tunnel port.
func proxyEnv() []string {
	return []string{"HTTPS_PROXY=localhost:" + tunnelPort}
}

func setImageArgs(t Target) []string {
	return []string{
		"set", "image", "deployment",
		"--selector", t.Selector,
		t.Container + "=" + t.Image,
	}
}
