package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"mediaforge/internal/api"
	"mediaforge/internal/apiclient"
	"mediaforge/internal/jobstore"
)

func TestNewRejectsEmptyBind(t *testing.T) {
	client, err := apiclient.New("  ", "")
	if !errors.Is(err, apiclient.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for empty bind")
	}
	if !apiclient.IsUnavailable(err) {
		t.Fatal("expected IsUnavailable")
	}
}

func TestNewAcceptsHostPort(t *testing.T) {
	client, err := apiclient.New("127.0.0.1:7610", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := client.BaseURL(); got != "http://127.0.0.1:7610" {
		t.Fatalf("unexpected base url %q", got)
	}
}

func TestSubmitJobSendsTokenAndWait(t *testing.T) {
	var (
		gotAuth  string
		gotQuery url.Values
		gotBody  api.CreateJobRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.JobResponse{Job: &jobstore.Job{ID: "job-1", Status: jobstore.StatusCompleted}})
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, "secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job, err := client.SubmitJob(context.Background(), api.CreateJobRequest{Title: "Recap"}, true)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.ID != "job-1" || job.Status != jobstore.StatusCompleted {
		t.Fatalf("unexpected job %+v", job)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotQuery.Get("wait") != "true" {
		t.Fatalf("expected wait=true, got %v", gotQuery)
	}
	if gotBody.Title != "Recap" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestListJobsBuildsQuery(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_ = json.NewEncoder(w).Encode(api.JobListResponse{Jobs: []*jobstore.Job{{ID: "a"}, {ID: "b"}}})
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	jobs, err := client.ListJobs(context.Background(), []jobstore.Status{jobstore.StatusFailed, jobstore.StatusCompleted}, 5)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if got := gotQuery["status"]; len(got) != 2 || got[0] != "failed" || got[1] != "completed" {
		t.Fatalf("unexpected status filter %v", got)
	}
	if gotQuery.Get("limit") != "5" {
		t.Fatalf("unexpected limit %q", gotQuery.Get("limit"))
	}
}

func TestErrorRepliesDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/jobs/missing":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "job missing not found", Kind: "not_found"})
		default:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, "slow down")
		}
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	_, err := client.GetJob(context.Background(), "missing")
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apiclient.Error, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Kind != "not_found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if !apiclient.IsNotFound(err) {
		t.Fatal("expected IsNotFound")
	}

	err = client.DeleteJob(context.Background(), "busy")
	if !errors.As(err, &apiErr) || apiErr.Kind != "rate_limited" {
		t.Fatalf("expected rate_limited error, got %v", err)
	}
	if apiErr.Message != "slow down (retry after 7s)" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}

func TestReadyDecodesUnavailableReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(api.HealthReport{Checks: []api.CheckResult{{Name: "Binaries", Detail: "missing: FFmpeg"}}})
	}))
	defer srv.Close()

	client, _ := apiclient.New(srv.URL, "")
	report, err := client.Ready(context.Background())
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if report.Ready || len(report.Checks) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestIsUnavailableOnRefusedConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, _ := apiclient.New(addr, "")
	_, err := client.Status(context.Background())
	if !apiclient.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
