// Package checkrun gates a pipeline stage on GitHub check runs: it polls
// the check-runs API for named checks on a revision until all of them
// succeed, any of them fails, or the context deadline expires.
package checkrun

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v68/github"
)

// defaultInterval is how often the poller re-reads check-run state.
const defaultInterval = 15 * time.Second

// CheckFailedError reports a named check that completed unsuccessfully.
type CheckFailedError struct {
	Name       string
	Conclusion string
}

func (e *CheckFailedError) Error() string {
	return fmt.Sprintf("check %q concluded %s", e.Name, e.Conclusion)
}

// Poller watches check runs for a revision.
type Poller struct {
	client   *github.Client
	interval time.Duration
	log      *slog.Logger
}

// New creates a poller using the given GitHub client.
func New(client *github.Client, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{client: client, interval: defaultInterval, log: log}
}

// WithInterval overrides the poll interval, mainly for tests.
func (p *Poller) WithInterval(d time.Duration) *Poller {
	p.interval = d
	return p
}

// NewTokenClient builds a GitHub client authenticated with a personal or
// installation token.
func NewTokenClient(token string) *github.Client {
	return github.NewClient(nil).WithAuthToken(token)
}

// NewAppClient builds a GitHub client authenticated as a GitHub App
// installation.
func NewAppClient(appID, installationID int64, privateKeyPath string) (*github.Client, error) {
	itr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, appID, installationID, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	return github.NewClient(&http.Client{Transport: itr}), nil
}

// Wait blocks until every named check on owner/repo@sha has concluded
// successfully. It returns a CheckFailedError as soon as any named check
// concludes unsuccessfully, and the context error once the deadline passes.
func (p *Poller) Wait(ctx context.Context, owner, repo, sha string, names []string) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		done, err := p.evaluate(ctx, owner, repo, sha, names)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for checks on %s/%s@%s: %w", owner, repo, sha, ctx.Err())
		case <-ticker.C:
		}
	}
}

// evaluate reads the current check-run state once. It returns done=true when
// every named check has concluded successfully.
func (p *Poller) evaluate(ctx context.Context, owner, repo, sha string, names []string) (bool, error) {
	runs, err := p.listCheckRuns(ctx, owner, repo, sha)
	if err != nil {
		return false, err
	}

	byName := make(map[string]*github.CheckRun, len(runs))
	for _, run := range runs {
		byName[run.GetName()] = run
	}

	pending := 0
	for _, name := range names {
		run, ok := byName[name]
		if !ok || run.GetStatus() != "completed" {
			pending++
			continue
		}
		switch run.GetConclusion() {
		case "success":
		default:
			return false, &CheckFailedError{Name: name, Conclusion: run.GetConclusion()}
		}
	}

	if pending > 0 {
		p.log.Info("checks still pending", "repo", owner+"/"+repo, "sha", sha, "pending", pending)
		return false, nil
	}
	return true, nil
}

func (p *Poller) listCheckRuns(ctx context.Context, owner, repo, sha string) ([]*github.CheckRun, error) {
	var all []*github.CheckRun
	opts := &github.ListCheckRunsOptions{
		Filter:      github.Ptr("latest"),
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		result, resp, err := p.client.Checks.ListCheckRunsForRef(ctx, owner, repo, sha, opts)
		if err != nil {
			return nil, fmt.Errorf("listing check runs for %s/%s@%s: %w", owner, repo, sha, err)
		}
		all = append(all, result.CheckRuns...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}
