package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

// maxJobLogBytes caps how much task output is kept on a job result.
const maxJobLogBytes = 16 << 10

// Engine executes pipeline declarations. Stages run strictly in sequence;
// a stage runs only when the previous stage passed and its approval
// condition is satisfied. There is no retry, backoff, or rollback: a failing
// task fails its job, the job fails its stage, and the run halts there.
type Engine struct {
	exec      Executor
	secrets   SecretResolver
	materials MaterialResolver
	store     RunStore
	log       *slog.Logger

	mu    sync.Mutex
	locks map[string]*pipelineLock
}

// Options configures engine construction.
type Options struct {
	Executor  Executor
	Secrets   SecretResolver
	Materials MaterialResolver
	Store     RunStore
	Logger    *slog.Logger
}

// NewEngine creates an engine. Executor is required; the other ports are
// optional and disable their feature when nil (no store means no history,
// no secret resolver means declarations with secret references fail).
func NewEngine(opts Options) (*Engine, error) {
	if opts.Executor == nil {
		return nil, errors.New("engine requires an executor")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		exec:      opts.Executor,
		secrets:   opts.Secrets,
		materials: opts.Materials,
		store:     opts.Store,
		log:       log,
		locks:     make(map[string]*pipelineLock),
	}, nil
}

// TriggerOptions carries per-run inputs supplied by the caller.
type TriggerOptions struct {
	// ApprovedStages names the manual gates the caller has approved for
	// this run. A manual stage without an approval blocks the run.
	ApprovedStages []string
	// Revisions pre-resolves materials by name, bypassing the material
	// resolver. Missing entries are resolved normally.
	Revisions map[string]domain.Revision
}

func (o TriggerOptions) approved(stage string) bool {
	for _, s := range o.ApprovedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// Trigger runs the pipeline to completion (or until it blocks, fails, or
// times out) and returns the run record. The returned error reports why a
// run could not proceed; a run that executed and failed returns a nil error
// with run.State set accordingly.
func (e *Engine) Trigger(ctx context.Context, p *domain.Pipeline, opts TriggerOptions) (*domain.Run, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for _, name := range opts.ApprovedStages {
		if p.Stage(name) == nil {
			return nil, &domain.ValidationError{Field: "approve", Msg: fmt.Sprintf("unknown stage %q", name)}
		}
	}
	for name := range opts.Revisions {
		if p.Material(name) == nil {
			return nil, &domain.ValidationError{Field: "revision", Msg: fmt.Sprintf("unknown material %q", name)}
		}
	}

	unlock, err := e.acquireLock(ctx, p)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &domain.Run{
		ID:        uuid.New().String(),
		Pipeline:  p.Name,
		State:     domain.StatePending,
		Revisions: make(map[string]domain.Revision, len(p.Materials)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.recordRun(ctx, run, true)

	if err := e.resolveMaterials(ctx, p, opts, run); err != nil {
		run.State = domain.StateFailed
		run.Error = err.Error()
		e.finishRun(ctx, run)
		unlock(run.State)
		return run, err
	}

	env, err := e.resolveEnv(ctx, p.Environment)
	if err != nil {
		run.State = domain.StateFailed
		run.Error = err.Error()
		e.finishRun(ctx, run)
		unlock(run.State)
		return run, err
	}
	env = append(env,
		domain.EnvVar{Name: "GO_PIPELINE_NAME", Value: p.Name},
		domain.EnvVar{Name: "GO_PIPELINE_GROUP", Value: p.Group},
	)
	for _, m := range p.Materials {
		rev := run.Revisions[m.Name]
		env = append(env, domain.EnvVar{Name: m.RevisionVar(), Value: string(rev)})
	}
	if len(p.Materials) > 0 {
		env = append(env, domain.EnvVar{Name: "GO_REVISION", Value: string(run.Revisions[p.Materials[0].Name])})
	}

	started := time.Now().UTC()
	run.State = domain.StateRunning
	run.StartedAt = &started
	e.recordRun(ctx, run, false)

	e.log.Info("run started", "pipeline", p.Name, "run", run.ID)

	for _, stage := range p.Stages {
		if stage.ApprovalOrDefault() == domain.ApprovalManual && !opts.approved(stage.Name) {
			e.log.Info("run blocked at manual gate", "pipeline", p.Name, "run", run.ID, "stage", stage.Name)
			run.Stages = append(run.Stages, domain.StageResult{Name: stage.Name, State: domain.StateBlocked})
			run.State = domain.StateBlocked
			e.finishRun(ctx, run)
			unlock(run.State)
			return run, nil
		}

		result := e.runStage(ctx, stage, env)
		run.Stages = append(run.Stages, result)
		if result.State != domain.StatePassed {
			run.State = result.State
			e.finishRun(ctx, run)
			unlock(run.State)
			return run, nil
		}
		e.recordRun(ctx, run, false)
	}

	run.State = domain.StatePassed
	e.finishRun(ctx, run)
	unlock(run.State)
	e.log.Info("run passed", "pipeline", p.Name, "run", run.ID)
	return run, nil
}

func (e *Engine) runStage(ctx context.Context, stage domain.Stage, baseEnv domain.EnvVars) domain.StageResult {
	result := domain.StageResult{Name: stage.Name, State: domain.StateRunning}

	for _, job := range stage.Jobs {
		jr := e.runJob(ctx, stage, job, baseEnv)
		result.Jobs = append(result.Jobs, jr)
		if jr.State != domain.StatePassed {
			result.State = jr.State
			return result
		}
	}
	result.State = domain.StatePassed
	return result
}

func (e *Engine) runJob(ctx context.Context, stage domain.Stage, job domain.Job, baseEnv domain.EnvVars) domain.JobResult {
	jr := domain.JobResult{Name: job.Name, State: domain.StateRunning, StartedAt: time.Now().UTC()}

	finish := func(state domain.RunState, errMsg string) domain.JobResult {
		done := time.Now().UTC()
		jr.State = state
		jr.Error = errMsg
		jr.CompletedAt = &done
		return jr
	}

	jobEnv, err := e.resolveEnv(ctx, job.Environment)
	if err != nil {
		return finish(domain.StateFailed, err.Error())
	}

	env := make([]string, 0, len(baseEnv)+len(jobEnv)+2)
	for _, v := range baseEnv {
		env = append(env, v.Name+"="+v.Value)
	}
	for _, v := range jobEnv {
		env = append(env, v.Name+"="+v.Value)
	}
	env = append(env, "GO_STAGE_NAME="+stage.Name, "GO_JOB_NAME="+job.Name)

	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	e.log.Info("job started", "stage", stage.Name, "job", job.Name, "timeout", job.Timeout())

	for i, task := range job.Tasks {
		out, err := e.exec.Run(jobCtx, task.Script, env)
		jr.Log = appendLog(jr.Log, out)
		if err != nil {
			if jobCtx.Err() == context.DeadlineExceeded {
				e.log.Warn("job timed out", "stage", stage.Name, "job", job.Name)
				return finish(domain.StateTimedOut, fmt.Sprintf("task %d: %s", i, context.DeadlineExceeded))
			}
			e.log.Warn("job failed", "stage", stage.Name, "job", job.Name, "task", i, "error", err)
			return finish(domain.StateFailed, fmt.Sprintf("task %d: %s", i, err))
		}
	}
	return finish(domain.StatePassed, "")
}

// resolveEnv returns a copy of vars with secret references replaced by
// their resolved values. Literal values pass through untouched.
func (e *Engine) resolveEnv(ctx context.Context, vars domain.EnvVars) (domain.EnvVars, error) {
	out := make(domain.EnvVars, 0, len(vars))
	for _, v := range vars {
		ref, ok := domain.ParseSecretRef(v.Value)
		if !ok {
			out = append(out, v)
			continue
		}
		if e.secrets == nil {
			return nil, fmt.Errorf("resolving %s: no secret resolver configured", v.Name)
		}
		value, err := e.secrets.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolving %s from store %s: %w", v.Name, ref.Store, err)
		}
		out = append(out, domain.EnvVar{Name: v.Name, Value: value})
	}
	return out, nil
}

func (e *Engine) resolveMaterials(ctx context.Context, p *domain.Pipeline, opts TriggerOptions, run *domain.Run) error {
	for _, m := range p.Materials {
		if rev, ok := opts.Revisions[m.Name]; ok {
			run.Revisions[m.Name] = rev
			continue
		}
		if e.materials == nil {
			return fmt.Errorf("resolving material %q: no material resolver configured", m.Name)
		}
		rev, err := e.materials.Resolve(ctx, m)
		if err != nil {
			return fmt.Errorf("resolving material %q: %w", m.Name, err)
		}
		run.Revisions[m.Name] = rev
		e.log.Info("material resolved", "material", m.Name, "revision", rev.Short())
	}
	return nil
}

// recordRun persists the run best-effort, matching how the rest of the
// engine treats the store as an observer rather than a dependency.
func (e *Engine) recordRun(ctx context.Context, run *domain.Run, create bool) {
	if e.store == nil {
		return
	}
	run.UpdatedAt = time.Now().UTC()
	var err error
	if create {
		err = e.store.CreateRun(ctx, run)
	} else {
		err = e.store.UpdateRun(ctx, run)
	}
	if err != nil {
		e.log.Warn("failed to persist run", "run", run.ID, "error", err)
	}
}

func (e *Engine) finishRun(ctx context.Context, run *domain.Run) {
	done := time.Now().UTC()
	run.CompletedAt = &done
	e.recordRun(ctx, run, false)
}

func appendLog(current, chunk string) string {
	combined := current + chunk
	if len(combined) > maxJobLogBytes {
		combined = combined[len(combined)-maxJobLogBytes:]
	}
	return combined
}
