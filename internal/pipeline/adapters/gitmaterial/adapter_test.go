package gitmaterial

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-github/v68/github"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

func testClient(t *testing.T, handler http.Handler) *github.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parsing test server url: %v", err)
	}
	client.BaseURL = base
	return client
}

func TestResolveBranchHead(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/getsentry/relay/branches/master" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"master","commit":{"sha":"0f2f9e6b7d1c4a5e8f90"}}`)
	})

	resolver := New(testClient(t, handler))
	rev, err := resolver.Resolve(context.Background(), domain.Material{
		Name: "relay", Git: "git@github.com:getsentry/relay.git", Branch: "master",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rev != "0f2f9e6b7d1c4a5e8f90" {
		t.Errorf("Resolve = %q, want head sha", rev)
	}
}

func TestResolveRejectsNonGitHubMaterial(t *testing.T) {
	resolver := New(github.NewClient(nil))
	_, err := resolver.Resolve(context.Background(), domain.Material{
		Name: "relay", Git: "https://gitlab.com/o/r.git",
	})
	if err == nil || !strings.Contains(err.Error(), "not a github url") {
		t.Errorf("Resolve error = %v, want non-github rejection", err)
	}
}

func TestResolveSurfacesAPIErrors(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})

	resolver := New(testClient(t, handler))
	_, err := resolver.Resolve(context.Background(), domain.Material{
		Name: "relay", Git: "git@github.com:getsentry/relay.git", Branch: "gone",
	})
	if err == nil || !strings.Contains(err.Error(), "resolving getsentry/relay@gone") {
		t.Errorf("Resolve error = %v, want wrapped API error", err)
	}
}
