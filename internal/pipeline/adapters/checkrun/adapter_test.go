package checkrun

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v68/github"
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

func checkRunsJSON(runs ...string) string {
	out := `{"total_count":` + fmt.Sprint(len(runs)) + `,"check_runs":[`
	for i, r := range runs {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out + `]}`
}

func TestWaitSucceedsOnceChecksPass(t *testing.T) {
	var polls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/getsentry/relay/commits/abc123/check-runs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if polls.Add(1) == 1 {
			fmt.Fprint(w, checkRunsJSON(
				`{"name":"Test (stable)","status":"in_progress"}`,
				`{"name":"Push GCR Docker Image","status":"completed","conclusion":"success"}`,
			))
			return
		}
		fmt.Fprint(w, checkRunsJSON(
			`{"name":"Test (stable)","status":"completed","conclusion":"success"}`,
			`{"name":"Push GCR Docker Image","status":"completed","conclusion":"success"}`,
		))
	})

	poller := New(testClient(t, handler), nil).WithInterval(10 * time.Millisecond)
	err := poller.Wait(context.Background(), "getsentry", "relay", "abc123",
		[]string{"Test (stable)", "Push GCR Docker Image"})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if polls.Load() < 2 {
		t.Errorf("polled %d times, want at least 2", polls.Load())
	}
}

func TestWaitFailsFastOnFailedCheck(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, checkRunsJSON(
			`{"name":"Test (stable)","status":"completed","conclusion":"failure"}`,
		))
	})

	poller := New(testClient(t, handler), nil).WithInterval(10 * time.Millisecond)
	err := poller.Wait(context.Background(), "getsentry", "relay", "abc123", []string{"Test (stable)"})

	var failed *CheckFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Wait error = %v, want CheckFailedError", err)
	}
	if failed.Name != "Test (stable)" || failed.Conclusion != "failure" {
		t.Errorf("CheckFailedError = %+v, want Test (stable)/failure", failed)
	}
}

func TestWaitIgnoresUnrelatedChecks(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, checkRunsJSON(
			`{"name":"lint","status":"completed","conclusion":"failure"}`,
			`{"name":"Test (stable)","status":"completed","conclusion":"success"}`,
		))
	})

	poller := New(testClient(t, handler), nil).WithInterval(10 * time.Millisecond)
	if err := poller.Wait(context.Background(), "getsentry", "relay", "abc123", []string{"Test (stable)"}); err != nil {
		t.Fatalf("Wait should ignore checks that were not requested: %v", err)
	}
}

func TestWaitTimesOutOnPendingChecks(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, checkRunsJSON(`{"name":"Test (stable)","status":"queued"}`))
	})

	poller := New(testClient(t, handler), nil).WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := poller.Wait(ctx, "getsentry", "relay", "abc123", []string{"Test (stable)"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait error = %v, want deadline exceeded", err)
	}
}

func TestWaitTreatsMissingCheckAsPending(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, checkRunsJSON())
	})

	poller := New(testClient(t, handler), nil).WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := poller.Wait(ctx, "getsentry", "relay", "abc123", []string{"Test (stable)"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("a check that never appears should pend until timeout, got %v", err)
	}
}
