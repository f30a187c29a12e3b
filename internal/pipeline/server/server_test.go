package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/app"
	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

type fakeExecutor struct{}

func (fakeExecutor) Run(_ context.Context, _ string, _ []string) (string, error) {
	return "ok\n", nil
}

type memoryStore struct {
	mu   sync.Mutex
	runs map[string]*domain.Run
	ids  []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: make(map[string]*domain.Run)}
}

func (s *memoryStore) CreateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.ID] = &copied
	s.ids = append(s.ids, run.ID)
	return nil
}

func (s *memoryStore) UpdateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *memoryStore) GetRun(_ context.Context, id string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.NewNotFoundError("run", id)
	}
	return run, nil
}

func (s *memoryStore) ListRuns(_ context.Context, pipeline string, limit int) ([]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Run
	for i := len(s.ids) - 1; i >= 0; i-- {
		run := s.runs[s.ids[i]]
		if pipeline != "" && run.Pipeline != pipeline {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func testPipeline() *domain.Pipeline {
	return &domain.Pipeline{
		Name:  "deploy-relay",
		Group: "relay",
		Materials: []domain.Material{
			{Name: "relay", Git: "git@github.com:getsentry/relay.git", Branch: "master", Destination: "relay"},
		},
		Stages: []domain.Stage{
			{
				Name:     "checks",
				Approval: domain.ApprovalManual,
				Jobs: []domain.Job{
					{Name: "checks", TimeoutSeconds: 60, Tasks: []domain.Task{{Script: "true"}}},
				},
			},
			{
				Name:     "deploy",
				Approval: domain.ApprovalSuccess,
				Jobs: []domain.Job{
					{Name: "deploy", TimeoutSeconds: 60, Tasks: []domain.Task{{Script: "true"}}},
				},
			},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	engine, err := app.NewEngine(app.Options{
		Executor: fakeExecutor{},
		Store:    store,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return New(engine, store, testPipeline(), nil), store
}

func TestTriggerRun(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"approve":   []string{"checks"},
		"revisions": map[string]string{"relay": "abc123def456"},
	})
	resp, err := http.Post(ts.URL+"/pipelines/deploy-relay/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var run domain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decoding run: %v", err)
	}
	if run.State != domain.StatePassed {
		t.Errorf("run state = %q, want %q", run.State, domain.StatePassed)
	}
	if run.Revisions["relay"] != "abc123def456" {
		t.Errorf("revision = %q, want abc123def456", run.Revisions["relay"])
	}
}

func TestTriggerBlocksWithoutApproval(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"revisions": map[string]string{"relay": "abc123def456"},
	})
	resp, err := http.Post(ts.URL+"/pipelines/deploy-relay/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var run domain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decoding run: %v", err)
	}
	if run.State != domain.StateBlocked {
		t.Errorf("run state = %q, want %q", run.State, domain.StateBlocked)
	}
}

func TestTriggerUnknownPipeline(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/pipelines/nope/runs", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestGetRun(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	seed := &domain.Run{ID: "run-1", Pipeline: "deploy-relay", State: domain.StatePassed}
	if err := store.CreateRun(context.Background(), seed); err != nil {
		t.Fatalf("seeding run: %v", err)
	}

	resp, err := http.Get(ts.URL + "/runs/run-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var run domain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decoding run: %v", err)
	}
	if run.ID != "run-1" {
		t.Errorf("run ID = %q, want run-1", run.ID)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/runs/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestListRuns(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, id := range []string{"a", "b", "c"} {
		run := &domain.Run{ID: id, Pipeline: "deploy-relay", State: domain.StatePassed}
		if err := store.CreateRun(context.Background(), run); err != nil {
			t.Fatalf("seeding run %s: %v", id, err)
		}
	}

	resp, err := http.Get(ts.URL + "/runs?pipeline=deploy-relay&limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var runs []*domain.Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("decoding runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "c" {
		t.Errorf("first run = %q, want newest first", runs[0].ID)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}
