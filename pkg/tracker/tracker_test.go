package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/testmux/testmux/pkg/agent"
)

func newTestServer(t *testing.T) (*httptest.Server, *[]issueRequest) {
	t.Helper()
	var created []issueRequest

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/api/v1/projects/web/issues", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req issueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		created = append(created, req)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(issueResponse{ID: "ISS-42", URL: "https://tracker.test/ISS-42"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &created
}

func TestClientPing(t *testing.T) {
	srv, _ := newTestServer(t)
	t.Setenv("TRACKER_TOKEN", "test-token")

	c := NewClient(srv.URL, "web")
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestClientPingWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t)
	t.Setenv("TRACKER_TOKEN", "")

	c := NewClient(srv.URL, "web")
	if err := c.Ping(); err == nil || !strings.Contains(err.Error(), "TRACKER_TOKEN") {
		t.Fatalf("err = %v, want a missing-token error", err)
	}
}

func TestClientBearerPrefixStripped(t *testing.T) {
	srv, _ := newTestServer(t)
	t.Setenv("TRACKER_TOKEN", "Bearer test-token")

	c := NewClient(srv.URL, "web")
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping with prefixed token: %v", err)
	}
}

func TestClientBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t)
	t.Setenv("TRACKER_TOKEN", "wrong")

	c := NewClient(srv.URL, "web")
	if err := c.Ping(); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want HTTP 401", err)
	}
}

func TestClientCreateIssue(t *testing.T) {
	srv, created := newTestServer(t)
	t.Setenv("TRACKER_TOKEN", "test-token")

	c := NewClient(srv.URL, "web")
	id, url, err := c.CreateIssue("title", "body", []string{"auto"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if id != "ISS-42" || url != "https://tracker.test/ISS-42" {
		t.Errorf("id=%q url=%q", id, url)
	}
	if len(*created) != 1 || (*created)[0].Title != "title" || (*created)[0].Labels[0] != "auto" {
		t.Errorf("server saw %+v", *created)
	}
}

func TestReporterLifecycle(t *testing.T) {
	srv, created := newTestServer(t)
	t.Setenv("TRACKER_TOKEN", "test-token")

	r := NewReporter(srv.URL, "web", []string{"testmux"})
	ctx := context.Background()

	// Submissions before Initialize are refused.
	if _, err := r.CreateIssue(ctx, &agent.TestFailure{ScenarioID: "early"}); err == nil {
		t.Error("CreateIssue before Initialize should fail")
	}

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	f := &agent.TestFailure{
		ScenarioID: "login",
		Timestamp:  time.Now(),
		Message:    "timeout waiting for prompt\nsecond line",
		Category:   "execution",
		StackTrace: "goroutine 1 [running]",
	}
	issue, err := r.CreateIssue(ctx, f)
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if issue.IssueID != "ISS-42" {
		t.Errorf("issue id = %q", issue.IssueID)
	}

	req := (*created)[0]
	if !strings.Contains(req.Title, "login") || strings.Contains(req.Title, "second line") {
		t.Errorf("title = %q, want the first message line only", req.Title)
	}
	if !strings.Contains(req.Body, "Stack trace") {
		t.Errorf("body missing stack trace:\n%s", req.Body)
	}

	r.Cleanup(ctx)
	if _, err := r.CreateIssue(ctx, f); err == nil {
		t.Error("CreateIssue after Cleanup should fail")
	}
}

func TestFirstLineTruncates(t *testing.T) {
	long := strings.Repeat("x", 200)
	if got := firstLine(long); len(got) != 123 || !strings.HasSuffix(got, "...") {
		t.Errorf("firstLine(long) = %q (len %d)", got, len(got))
	}
}
