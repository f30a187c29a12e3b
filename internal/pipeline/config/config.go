// Package config loads, validates, and renders pipeline declarations. The
// on-disk format is YAML with a format_version header and a single pipeline
// document; loading runs schema validation, a strict-field decode, and the
// domain invariants in that order so authors get the most specific error
// available.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

// FormatVersion is the declaration format this build reads and writes.
const FormatVersion = 1

// Document is a versioned pipeline declaration file.
type Document struct {
	FormatVersion int             `yaml:"format_version" json:"format_version"`
	Pipeline      domain.Pipeline `yaml:"pipeline" json:"pipeline"`
}

// Load reads and parses the declaration at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading declaration: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// Parse validates raw declaration bytes against the schema, decodes them
// strictly, applies defaults, and checks the domain invariants.
func Parse(data []byte) (*Document, error) {
	violations, err := ValidateSchema(data)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		errs := make(domain.ValidationErrors, 0, len(violations))
		for _, v := range violations {
			errs = append(errs, &domain.ValidationError{Field: "schema", Msg: v})
		}
		return nil, errs
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding declaration: %w", err)
	}

	if doc.FormatVersion != FormatVersion {
		return nil, &domain.ValidationError{
			Field: "format_version",
			Msg:   fmt.Sprintf("unsupported version %d, this build reads version %d", doc.FormatVersion, FormatVersion),
		}
	}

	applyDefaults(&doc.Pipeline)

	if err := doc.Pipeline.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// applyDefaults fills the optional fields the format leaves implicit.
func applyDefaults(p *domain.Pipeline) {
	if p.LockBehavior == "" {
		p.LockBehavior = domain.LockNone
	}
	for i := range p.Stages {
		if p.Stages[i].Approval == "" {
			p.Stages[i].Approval = domain.ApprovalSuccess
		}
	}
	for i := range p.Materials {
		if p.Materials[i].Branch == "" {
			p.Materials[i].Branch = "master"
		}
		if p.Materials[i].Destination == "" {
			p.Materials[i].Destination = p.Materials[i].Name
		}
	}
}

// Render produces the canonical YAML form of a document. Parsing a render
// and rendering the parse are both identity operations, which is what makes
// declarations diffable.
func Render(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding declaration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flushing encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// GitHubRepo splits a material's git URL into owner and repo. It accepts
// the ssh (git@github.com:owner/repo.git) and https forms.
func GitHubRepo(m domain.Material) (owner, repo string, err error) {
	url := m.Git
	switch {
	case strings.HasPrefix(url, "git@github.com:"):
		url = strings.TrimPrefix(url, "git@github.com:")
	case strings.Contains(url, "github.com/"):
		url = url[strings.Index(url, "github.com/")+len("github.com/"):]
	default:
		return "", "", fmt.Errorf("material %q: %q is not a github url", m.Name, m.Git)
	}
	url = strings.TrimSuffix(url, ".git")
	parts := strings.SplitN(url, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("material %q: cannot split %q into owner/repo", m.Name, m.Git)
	}
	return parts[0], parts[1], nil
}
