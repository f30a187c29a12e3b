package domain

import "fmt"

// Validate checks every declaration invariant: non-empty identity, known
// enum values, at least one material and stage, unique names within each
// scope, positive job timeouts, and well-formed secret references. It
// returns a ValidationErrors listing everything that is wrong, or nil.
func (p *Pipeline) Validate() error {
	var errs ValidationErrors

	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if p.Name == "" {
		add("pipeline.name", "must not be empty")
	}
	if p.LockBehavior != "" && !knownLockBehavior(p.LockBehavior) {
		add("pipeline.lock_behavior", "unknown value %q", p.LockBehavior)
	}

	validateEnvVars(&errs, "pipeline.environment_variables", p.Environment)

	if len(p.Materials) == 0 {
		add("pipeline.materials", "at least one material is required")
	}
	destinations := make(map[string]string, len(p.Materials))
	names := make(map[string]struct{}, len(p.Materials))
	for i, m := range p.Materials {
		field := fmt.Sprintf("pipeline.materials[%d]", i)
		if m.Name == "" {
			add(field+".name", "must not be empty")
		} else if _, dup := names[m.Name]; dup {
			add(field+".name", "duplicate material %q", m.Name)
		} else {
			names[m.Name] = struct{}{}
		}
		if m.Git == "" {
			add(field+".git", "must not be empty")
		}
		dest := m.Destination
		if dest == "" {
			dest = m.Name
		}
		if prev, dup := destinations[dest]; dup {
			add(field+".destination", "destination %q already used by material %q", dest, prev)
		} else {
			destinations[dest] = m.Name
		}
	}

	if len(p.Stages) == 0 {
		add("pipeline.stages", "at least one stage is required")
	}
	stageNames := make(map[string]struct{}, len(p.Stages))
	for i, s := range p.Stages {
		field := fmt.Sprintf("pipeline.stages[%d]", i)
		if s.Name == "" {
			add(field+".name", "must not be empty")
		} else if _, dup := stageNames[s.Name]; dup {
			add(field+".name", "duplicate stage %q", s.Name)
		} else {
			stageNames[s.Name] = struct{}{}
		}
		if s.Approval != "" && !knownApproval(s.Approval) {
			add(field+".approval", "unknown value %q", s.Approval)
		}
		validateStageJobs(&errs, field, s)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateStageJobs(errs *ValidationErrors, field string, s Stage) {
	if len(s.Jobs) == 0 {
		*errs = append(*errs, &ValidationError{Field: field + ".jobs", Msg: "at least one job is required"})
		return
	}
	jobNames := make(map[string]struct{}, len(s.Jobs))
	for j, job := range s.Jobs {
		jf := fmt.Sprintf("%s.jobs[%d]", field, j)
		if job.Name == "" {
			*errs = append(*errs, &ValidationError{Field: jf + ".name", Msg: "must not be empty"})
		} else if _, dup := jobNames[job.Name]; dup {
			*errs = append(*errs, &ValidationError{Field: jf + ".name", Msg: fmt.Sprintf("duplicate job %q", job.Name)})
		} else {
			jobNames[job.Name] = struct{}{}
		}
		if job.TimeoutSeconds <= 0 {
			*errs = append(*errs, &ValidationError{Field: jf + ".timeout", Msg: "must be a positive number of seconds"})
		}
		validateEnvVars(errs, jf+".environment_variables", job.Environment)
		if len(job.Tasks) == 0 {
			*errs = append(*errs, &ValidationError{Field: jf + ".tasks", Msg: "at least one task is required"})
		}
		for t, task := range job.Tasks {
			if task.Script == "" {
				*errs = append(*errs, &ValidationError{
					Field: fmt.Sprintf("%s.tasks[%d].script", jf, t),
					Msg:   "must not be empty",
				})
			}
		}
	}
}

// validateEnvVars checks name uniqueness within one scope and that anything
// resembling a secret reference is a well-formed token. Uniqueness is also
// enforced at decode time; rechecking here covers programmatic construction.
func validateEnvVars(errs *ValidationErrors, field string, vars EnvVars) {
	seen := make(map[string]struct{}, len(vars))
	for _, v := range vars {
		if v.Name == "" {
			*errs = append(*errs, &ValidationError{Field: field, Msg: "variable name must not be empty"})
			continue
		}
		if _, dup := seen[v.Name]; dup {
			*errs = append(*errs, &ValidationError{Field: field, Msg: fmt.Sprintf("duplicate variable %q", v.Name)})
		}
		seen[v.Name] = struct{}{}
		if LooksLikeSecretRef(v.Value) && !IsSecretRef(v.Value) {
			*errs = append(*errs, &ValidationError{
				Field: field + "." + v.Name,
				Msg:   "malformed secret reference, expected {{SECRET:[store][key]}}",
			})
		}
	}
}

func knownLockBehavior(l LockBehavior) bool {
	for _, k := range KnownLockBehaviors {
		if l == k {
			return true
		}
	}
	return false
}

func knownApproval(a ApprovalType) bool {
	for _, k := range KnownApprovalTypes {
		if a == k {
			return true
		}
	}
	return false
}
