// Package sentryrelease is a minimal client for the Sentry releases API,
// covering the bookkeeping a deploy stage needs: create a release for a
// project at a revision and record a deploy to an environment.
package sentryrelease

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds the connection settings, matching the SENTRY_* variables the
// deploy stage declares.
type Config struct {
	BaseURL   string // SENTRY_URL
	Org       string // SENTRY_ORG
	Project   string // SENTRY_PROJECT
	AuthToken string // SENTRY_AUTH_TOKEN
}

// Client talks to one Sentry organization.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// New creates a client. BaseURL, Org, Project, and AuthToken are required.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Org == "" || cfg.Project == "" {
		return nil, errors.New("sentry release client requires url, org, and project")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("sentry release client requires an auth token")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}, nil
}

// CreateRelease registers a release version for the configured project.
// Re-creating an existing version is not an error: Sentry reports it as
// already reported and the call is idempotent.
func (c *Client) CreateRelease(ctx context.Context, version string) error {
	payload := map[string]interface{}{
		"version":  version,
		"projects": []string{c.cfg.Project},
	}
	path := fmt.Sprintf("/api/0/organizations/%s/releases/", c.cfg.Org)
	if err := c.post(ctx, path, payload); err != nil {
		return fmt.Errorf("creating release %s: %w", version, err)
	}
	c.log.Info("release created", "org", c.cfg.Org, "project", c.cfg.Project, "version", version)
	return nil
}

// CreateDeploy records a deploy of a release version to an environment.
func (c *Client) CreateDeploy(ctx context.Context, version, environment string) error {
	payload := map[string]interface{}{
		"environment": environment,
	}
	path := fmt.Sprintf("/api/0/organizations/%s/releases/%s/deploys/", c.cfg.Org, version)
	if err := c.post(ctx, path, payload); err != nil {
		return fmt.Errorf("recording deploy of %s to %s: %w", version, environment, err)
	}
	c.log.Info("deploy recorded", "org", c.cfg.Org, "version", version, "environment", environment)
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warn("failed to close response body", "error", err)
		}
	}()

	// 208 means the release already exists, which is fine for re-runs.
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAlreadyReported:
		return nil
	}

	//nolint:errcheck // Best effort read for the error message only
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}
