// Package app runs pipeline declarations: it gates stages, resolves
// materials and secrets, enforces job timeouts, and records results. All
// external systems are reached through the ports below so the engine itself
// stays testable.
package app

import (
	"context"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

// Executor runs a single task script with the job's environment and returns
// the combined output.
type Executor interface {
	Run(ctx context.Context, script string, env []string) (string, error)
}

// SecretResolver resolves a secret reference to its value at run time.
// Implementations must never log the resolved value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref domain.SecretRef) (string, error)
}

// MaterialResolver resolves a material's branch head to a revision.
type MaterialResolver interface {
	Resolve(ctx context.Context, m domain.Material) (domain.Revision, error)
}

// RunStore persists run records. The engine treats persistence as
// best-effort: a failing store is logged, not fatal to the run.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	UpdateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, pipeline string, limit int) ([]*domain.Run, error)
}
