// Package gitmaterial resolves a pipeline material's branch head through
// the GitHub API, providing the revision the engine injects into jobs.
package gitmaterial

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/config"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

// Resolver implements app.MaterialResolver for GitHub-hosted materials.
type Resolver struct {
	client *github.Client
}

// New creates a resolver using the given GitHub client.
func New(client *github.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the commit SHA at the head of the material's branch.
func (r *Resolver) Resolve(ctx context.Context, m domain.Material) (domain.Revision, error) {
	owner, repo, err := config.GitHubRepo(m)
	if err != nil {
		return "", err
	}

	branch := m.Branch
	if branch == "" {
		branch = "master"
	}

	b, _, err := r.client.Repositories.GetBranch(ctx, owner, repo, branch, 3)
	if err != nil {
		return "", fmt.Errorf("resolving %s/%s@%s: %w", owner, repo, branch, err)
	}

	sha := b.GetCommit().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("resolving %s/%s@%s: branch has no commit", owner, repo, branch)
	}
	return domain.Revision(sha), nil
}
