// Package domain holds the typed model of a pipeline declaration: the
// pipeline itself, its source materials, and the stage/job/task hierarchy
// the CD engine executes. The model is pure data; loading and rendering
// live in the config package, execution in the app package.
package domain

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// LockBehavior controls how a pipeline's resource lock is handled across runs.
type LockBehavior string

const (
	// LockNone allows runs to overlap freely.
	LockNone LockBehavior = "none"
	// LockUnlockWhenFinished holds the lock for the duration of a run and
	// releases it when the run finishes, letting the next queued run start.
	LockUnlockWhenFinished LockBehavior = "unlockWhenFinished"
	// LockOnFailure keeps the lock held after a failed run until an operator
	// releases it.
	LockOnFailure LockBehavior = "lockOnFailure"
)

// KnownLockBehaviors lists the accepted lock_behavior values.
var KnownLockBehaviors = []LockBehavior{LockNone, LockUnlockWhenFinished, LockOnFailure}

// Pipeline is a single pipeline declaration.
type Pipeline struct {
	Name         string       `yaml:"name" json:"name"`
	Group        string       `yaml:"group,omitempty" json:"group,omitempty"`
	LockBehavior LockBehavior `yaml:"lock_behavior,omitempty" json:"lock_behavior,omitempty"`
	Environment  EnvVars      `yaml:"environment_variables,omitempty" json:"environment_variables,omitempty"`
	Materials    []Material   `yaml:"materials" json:"materials"`
	Stages       []Stage      `yaml:"stages" json:"stages"`
}

// Material is a git source the pipeline watches. A change to the material
// triggers a run, and the resolved revision is exposed to jobs through the
// read-only variable named by RevisionVar.
type Material struct {
	Name         string `yaml:"name" json:"name"`
	Git          string `yaml:"git" json:"git"`
	Branch       string `yaml:"branch,omitempty" json:"branch,omitempty"`
	ShallowClone bool   `yaml:"shallow_clone,omitempty" json:"shallow_clone,omitempty"`
	Destination  string `yaml:"destination,omitempty" json:"destination,omitempty"`
}

// RevisionVar returns the environment variable name under which the engine
// injects this material's resolved revision, e.g. GO_REVISION_RELAY for a
// material checked out to relay/.
func (m Material) RevisionVar() string {
	dest := m.Destination
	if dest == "" {
		dest = m.Name
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(dest) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return "GO_REVISION_" + b.String()
}

// EnvVar is a single name/value pair. The value is either a literal or a
// secret reference token (see ParseSecretRef); references are resolved by
// the engine at run time and never stored resolved.
type EnvVar struct {
	Name  string
	Value string
}

// EnvVars is an ordered set of environment variables. It serializes as a
// YAML mapping but preserves declaration order and rejects duplicate names,
// which plain map decoding cannot express.
type EnvVars []EnvVar

// Lookup returns the value for name and whether it was declared.
func (e EnvVars) Lookup(name string) (string, bool) {
	for _, v := range e {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// UnmarshalYAML decodes a YAML mapping into ordered vars, rejecting
// duplicate names within the scope.
func (e *EnvVars) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("environment_variables: expected a mapping, got %s", nodeKind(node))
	}
	seen := make(map[string]struct{}, len(node.Content)/2)
	vars := make(EnvVars, 0, len(node.Content)/2)
	for i := 0; i < len(node.Content)-1; i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		var name, value string
		if err := keyNode.Decode(&name); err != nil {
			return fmt.Errorf("environment_variables: decoding name: %w", err)
		}
		if err := valNode.Decode(&value); err != nil {
			return fmt.Errorf("environment_variables: decoding value of %q: %w", name, err)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("environment_variables: duplicate variable %q", name)
		}
		seen[name] = struct{}{}
		vars = append(vars, EnvVar{Name: name, Value: value})
	}
	*e = vars
	return nil
}

// MarshalYAML renders the vars as a mapping in declaration order.
func (e EnvVars) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, v := range e {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: v.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: v.Value},
		)
	}
	return node, nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	default:
		return "node"
	}
}

// Stage returns the stage with the given name, or nil.
func (p *Pipeline) Stage(name string) *Stage {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	return nil
}

// Material returns the material with the given name, or nil.
func (p *Pipeline) Material(name string) *Material {
	for i := range p.Materials {
		if p.Materials[i].Name == name {
			return &p.Materials[i]
		}
	}
	return nil
}
