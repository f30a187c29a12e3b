package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

func relayExamplePath() string {
	return filepath.Join("..", "..", "..", "examples", "relay.gocd.yaml")
}

func loadRelayExample(t *testing.T) *Document {
	t.Helper()
	doc, err := Load(relayExamplePath())
	if err != nil {
		t.Fatalf("loading relay example: %v", err)
	}
	return doc
}

func TestLoadRelayExample(t *testing.T) {
	doc := loadRelayExample(t)
	p := doc.Pipeline

	if p.Name != "deploy-relay" {
		t.Errorf("pipeline name = %q, want deploy-relay", p.Name)
	}
	if p.LockBehavior != domain.LockUnlockWhenFinished {
		t.Errorf("lock behavior = %q, want unlockWhenFinished", p.LockBehavior)
	}

	// Stage order is exactly [checks, deploy-experimental].
	if len(p.Stages) != 2 {
		t.Fatalf("got %d stages, want 2", len(p.Stages))
	}
	if p.Stages[0].Name != "checks" || p.Stages[1].Name != "deploy-experimental" {
		t.Errorf("stage order = [%s, %s], want [checks, deploy-experimental]",
			p.Stages[0].Name, p.Stages[1].Name)
	}
	if p.Stages[0].Approval != domain.ApprovalManual {
		t.Errorf("checks approval = %q, want manual", p.Stages[0].Approval)
	}
	if p.Stages[1].Approval != domain.ApprovalSuccess {
		t.Errorf("deploy-experimental approval = %q, want success", p.Stages[1].Approval)
	}

	if len(p.Materials) != 1 {
		t.Fatalf("got %d materials, want 1", len(p.Materials))
	}
	m := p.Materials[0]
	if !m.ShallowClone || m.Branch != "master" || m.Destination != "relay" {
		t.Errorf("material = %+v, want shallow master checkout into relay/", m)
	}
	if got := m.RevisionVar(); got != "GO_REVISION_RELAY" {
		t.Errorf("RevisionVar() = %q, want GO_REVISION_RELAY", got)
	}

	// Every job declares a positive timeout.
	for _, s := range p.Stages {
		for _, j := range s.Jobs {
			if j.TimeoutSeconds <= 0 {
				t.Errorf("job %s/%s timeout = %d, want > 0", s.Name, j.Name, j.TimeoutSeconds)
			}
		}
	}

	// Secret-valued variables are well-formed references.
	token, ok := p.Stages[0].Jobs[0].Environment.Lookup("GITHUB_TOKEN")
	if !ok {
		t.Fatal("checks job is missing GITHUB_TOKEN")
	}
	ref, ok := domain.ParseSecretRef(token)
	if !ok {
		t.Fatalf("GITHUB_TOKEN = %q is not a secret reference", token)
	}
	if ref.Store != "devinfra-github" || ref.Key != "token" {
		t.Errorf("GITHUB_TOKEN ref = %+v, want devinfra-github/token", ref)
	}
}

func TestParseRoundTrip(t *testing.T) {
	doc := loadRelayExample(t)

	rendered, err := Render(doc)
	if err != nil {
		t.Fatalf("rendering: %v", err)
	}

	reparsed, err := Parse(rendered)
	if err != nil {
		t.Fatalf("reparsing render: %v\n%s", err, rendered)
	}

	if !reflect.DeepEqual(doc, reparsed) {
		t.Errorf("round trip changed the document\noriginal: %+v\nreparsed: %+v", doc, reparsed)
	}

	// Canonical renders of equal documents diff empty.
	diff, err := Diff("a", "b", doc, reparsed)
	if err != nil {
		t.Fatalf("diffing: %v", err)
	}
	if diff != "" {
		t.Errorf("diff of round-tripped document is not empty:\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "not a mapping",
			yaml:    "- just\n- a\n- list\n",
			wantErr: "Invalid type",
		},
		{
			name: "missing materials",
			yaml: `format_version: 1
pipeline:
  name: p
  stages:
    - name: s
      jobs:
        - name: j
          timeout: 60
          tasks:
            - script: "true"
`,
			wantErr: "materials",
		},
		{
			name: "zero timeout rejected by schema",
			yaml: `format_version: 1
pipeline:
  name: p
  materials:
    - name: m
      git: git@github.com:o/r.git
  stages:
    - name: s
      jobs:
        - name: j
          timeout: 0
          tasks:
            - script: "true"
`,
			wantErr: "timeout",
		},
		{
			name: "unknown lock behavior",
			yaml: `format_version: 1
pipeline:
  name: p
  lock_behavior: always
  materials:
    - name: m
      git: git@github.com:o/r.git
  stages:
    - name: s
      jobs:
        - name: j
          timeout: 60
          tasks:
            - script: "true"
`,
			wantErr: "lock_behavior",
		},
		{
			name: "unsupported format version",
			yaml: `format_version: 99
pipeline:
  name: p
  materials:
    - name: m
      git: git@github.com:o/r.git
  stages:
    - name: s
      jobs:
        - name: j
          timeout: 60
          tasks:
            - script: "true"
`,
			wantErr: "unsupported version 99",
		},
		{
			name: "duplicate environment variable",
			yaml: `format_version: 1
pipeline:
  name: p
  environment_variables:
    A: one
    A: two
  materials:
    - name: m
      git: git@github.com:o/r.git
  stages:
    - name: s
      jobs:
        - name: j
          timeout: 60
          tasks:
            - script: "true"
`,
			wantErr: "already defined",
		},
		{
			name: "malformed secret reference",
			yaml: `format_version: 1
pipeline:
  name: p
  environment_variables:
    TOKEN: "{{SECRET:[store]}}"
  materials:
    - name: m
      git: git@github.com:o/r.git
  stages:
    - name: s
      jobs:
        - name: j
          timeout: 60
          tasks:
            - script: "true"
`,
			wantErr: "malformed secret reference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() = nil error, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	raw := `format_version: 1
pipeline:
  name: p
  materials:
    - name: m
      git: git@github.com:o/r.git
  stages:
    - name: s
      jobs:
        - name: j
          timeout: 60
          tasks:
            - script: "true"
`
	doc, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	p := doc.Pipeline
	if p.LockBehavior != domain.LockNone {
		t.Errorf("default lock behavior = %q, want none", p.LockBehavior)
	}
	if p.Stages[0].Approval != domain.ApprovalSuccess {
		t.Errorf("default approval = %q, want success", p.Stages[0].Approval)
	}
	if !p.Stages[0].FetchesMaterials() {
		t.Error("fetch_materials should default to true")
	}
	if p.Materials[0].Branch != "master" || p.Materials[0].Destination != "m" {
		t.Errorf("material defaults = %+v, want branch master, destination m", p.Materials[0])
	}
}

func TestDiffDetectsChanges(t *testing.T) {
	a := loadRelayExample(t)
	b := loadRelayExample(t)
	b.Pipeline.Stages[0].Jobs[0].TimeoutSeconds = 900

	diff, err := Diff("relay (master)", "relay (patch)", a, b)
	if err != nil {
		t.Fatalf("diffing: %v", err)
	}
	if diff == "" {
		t.Fatal("expected a non-empty diff")
	}
	if !strings.Contains(diff, "-") || !strings.Contains(diff, "timeout: 900") {
		t.Errorf("diff does not show the timeout change:\n%s", diff)
	}
	if !strings.Contains(diff, "--- relay (master)") || !strings.Contains(diff, "+++ relay (patch)") {
		t.Errorf("diff is missing file labels:\n%s", diff)
	}
}

func TestGitHubRepo(t *testing.T) {
	tests := []struct {
		name      string
		git       string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{
			name:      "ssh form",
			git:       "git@github.com:getsentry/relay.git",
			wantOwner: "getsentry",
			wantRepo:  "relay",
		},
		{
			name:      "https form",
			git:       "https://github.com/getsentry/relay.git",
			wantOwner: "getsentry",
			wantRepo:  "relay",
		},
		{
			name:      "https without suffix",
			git:       "https://github.com/getsentry/relay",
			wantOwner: "getsentry",
			wantRepo:  "relay",
		},
		{
			name:    "not github",
			git:     "https://gitlab.com/o/r.git",
			wantErr: true,
		},
		{
			name:    "missing repo segment",
			git:     "git@github.com:getsentry",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := GitHubRepo(domain.Material{Name: "m", Git: tt.git})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("GitHubRepo(%q) = %s/%s, want error", tt.git, owner, repo)
				}
				return
			}
			if err != nil {
				t.Fatalf("GitHubRepo(%q) error = %v", tt.git, err)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("GitHubRepo(%q) = %s/%s, want %s/%s", tt.git, owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading declaration") {
		t.Errorf("Load() error = %v, want reading declaration error", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error should wrap os.ErrNotExist, got %v", err)
	}
}
