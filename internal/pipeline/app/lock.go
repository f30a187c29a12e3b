package app

import (
	"context"
	"fmt"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

// pipelineLock is a one-slot semaphore per pipeline name. Acquisition
// queues on the context, so with unlockWhenFinished the next queued trigger
// starts when the current run finishes rather than overlapping it.
type pipelineLock struct {
	slot chan struct{}
}

func newPipelineLock() *pipelineLock {
	return &pipelineLock{slot: make(chan struct{}, 1)}
}

func (l *pipelineLock) acquire(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *pipelineLock) release() {
	select {
	case <-l.slot:
	default:
	}
}

func (e *Engine) lockFor(name string) *pipelineLock {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[name]
	if !ok {
		l = newPipelineLock()
		e.locks[name] = l
	}
	return l
}

// acquireLock takes the pipeline's lock according to its declared behavior
// and returns the matching unlock function. The unlock receives the final
// run state: lockOnFailure keeps the lock held after a failed run until
// Unlock is called explicitly.
func (e *Engine) acquireLock(ctx context.Context, p *domain.Pipeline) (func(domain.RunState), error) {
	switch p.LockBehavior {
	case domain.LockNone, "":
		return func(domain.RunState) {}, nil
	case domain.LockUnlockWhenFinished:
		l := e.lockFor(p.Name)
		if err := l.acquire(ctx); err != nil {
			return nil, fmt.Errorf("acquiring lock for %s: %w", p.Name, err)
		}
		return func(domain.RunState) { l.release() }, nil
	case domain.LockOnFailure:
		l := e.lockFor(p.Name)
		if err := l.acquire(ctx); err != nil {
			return nil, fmt.Errorf("acquiring lock for %s: %w", p.Name, err)
		}
		return func(state domain.RunState) {
			if state == domain.StatePassed || state == domain.StateBlocked {
				l.release()
			}
		}, nil
	default:
		return nil, fmt.Errorf("unknown lock behavior %q", p.LockBehavior)
	}
}

// Unlock releases a pipeline whose lockOnFailure declaration left it locked
// after a failed run.
func (e *Engine) Unlock(name string) {
	e.lockFor(name).release()
}
