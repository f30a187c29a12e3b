package domain

import "time"

// ApprovalType controls how a stage is gated.
type ApprovalType string

const (
	// ApprovalManual requires an explicit operator approval before the
	// stage's jobs may run.
	ApprovalManual ApprovalType = "manual"
	// ApprovalSuccess lets the stage start automatically once the previous
	// stage has passed.
	ApprovalSuccess ApprovalType = "success"
)

// KnownApprovalTypes lists the accepted approval values.
var KnownApprovalTypes = []ApprovalType{ApprovalManual, ApprovalSuccess}

// Stage is an ordered phase of the pipeline. Stages execute strictly in
// declaration order; a stage's jobs run only once the previous stage passed
// and this stage's approval condition is satisfied.
type Stage struct {
	Name           string       `yaml:"name" json:"name"`
	Approval       ApprovalType `yaml:"approval,omitempty" json:"approval,omitempty"`
	FetchMaterials *bool        `yaml:"fetch_materials,omitempty" json:"fetch_materials,omitempty"`
	Jobs           []Job        `yaml:"jobs" json:"jobs"`
}

// FetchesMaterials reports whether the stage checks out materials before
// running its jobs. Defaults to true when unset.
func (s Stage) FetchesMaterials() bool {
	return s.FetchMaterials == nil || *s.FetchMaterials
}

// ApprovalOrDefault returns the stage's approval type, defaulting to success.
func (s Stage) ApprovalOrDefault() ApprovalType {
	if s.Approval == "" {
		return ApprovalSuccess
	}
	return s.Approval
}

// Job is a unit of work: an execution-environment profile, an environment,
// a timeout, and an ordered list of tasks.
type Job struct {
	Name             string  `yaml:"name" json:"name"`
	TimeoutSeconds   int     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	ElasticProfileID string  `yaml:"elastic_profile_id,omitempty" json:"elastic_profile_id,omitempty"`
	Environment      EnvVars `yaml:"environment_variables,omitempty" json:"environment_variables,omitempty"`
	Tasks            []Task  `yaml:"tasks" json:"tasks"`
}

// Timeout returns the job timeout as a duration.
func (j Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// Task is a single script invocation executed inside the job's environment.
// A non-zero exit fails the job, which fails the stage and halts the run.
type Task struct {
	Script string `yaml:"script" json:"script"`
}
