package domain

import "time"

// RunState is the lifecycle state of a pipeline run, stage, or job.
type RunState string

const (
	StatePending  RunState = "Pending"
	StateRunning  RunState = "Running"
	StatePassed   RunState = "Passed"
	StateFailed   RunState = "Failed"
	StateTimedOut RunState = "TimedOut"
	// StateBlocked means the run halted at a manual gate that was not
	// approved; re-triggering with approval resumes from scratch.
	StateBlocked RunState = "Blocked"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	switch s {
	case StatePassed, StateFailed, StateTimedOut, StateBlocked:
		return true
	}
	return false
}

// Run records one execution of a pipeline.
type Run struct {
	ID          string              `json:"id"`
	Pipeline    string              `json:"pipeline"`
	State       RunState            `json:"state"`
	Revisions   map[string]Revision `json:"revisions,omitempty"` // material name -> resolved commit
	Stages      []StageResult       `json:"stages,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

// StageResult records the outcome of one stage within a run.
type StageResult struct {
	Name  string      `json:"name"`
	State RunState    `json:"state"`
	Jobs  []JobResult `json:"jobs,omitempty"`
}

// JobResult records the outcome of one job.
type JobResult struct {
	Name        string     `json:"name"`
	State       RunState   `json:"state"`
	Log         string     `json:"log,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
