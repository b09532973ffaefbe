package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediaforge/internal/jobstore"
	"mediaforge/internal/logs"
	"mediaforge/internal/testsupport"
)

func TestStatusReportsRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "version cli-test")
	requireContains(t, out, "Review queue")
	requireContains(t, out, "Readiness")
}

func TestStatusOfflineFallsBack(t *testing.T) {
	t.Setenv("MEDIAFORGE_API", "")
	t.Setenv("MEDIAFORGE_API_TOKEN", "")
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	// Port 1 is never served in the test environment.
	out, _, err := runCLI(t, []string{"--api", "127.0.0.1:1", "status"}, configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "Dependencies")
}

func TestJobsCreateWaitAndList(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithAutoApprove(true))

	out, err := env.run(t, "jobs", "create", "--title", "Launch recap", "--description", "what shipped", "--wait")
	if err != nil {
		t.Fatalf("jobs create: %v", err)
	}
	requireContains(t, out, "Completed")

	out, err = env.run(t, "--json", "jobs", "list", "--status", "completed")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	var jobs []*jobstore.Job
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(jobs) != 1 || jobs[0].Input.Title != "Launch recap" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	out, err = env.run(t, "jobs", "delete", jobs[0].ID, "missing-id")
	if err != nil {
		t.Fatalf("jobs delete: %v", err)
	}
	requireContains(t, out, "Job "+jobs[0].ID+" deleted")
	requireContains(t, out, "Job missing-id not found")
}

func TestJobsListRejectsUnknownStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "jobs", "list", "--status", "spinning"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestReviewApproveFlow(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithAutoApprove(false))

	out, err := env.run(t, "--json", "jobs", "create", "--title", "Needs eyes", "--wait")
	if err != nil {
		t.Fatalf("jobs create: %v", err)
	}
	var job jobstore.Job
	if err := json.Unmarshal([]byte(out), &job); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if job.Status != jobstore.StatusQueuedForReview {
		t.Fatalf("expected queued_for_review, got %s", job.Status)
	}

	out, err = env.run(t, "review", "list")
	if err != nil {
		t.Fatalf("review list: %v", err)
	}
	requireContains(t, out, job.ID)
	requireContains(t, out, "Queued For Review")

	out, err = env.run(t, "review", "approve", job.ID)
	if err != nil {
		t.Fatalf("review approve: %v", err)
	}
	requireContains(t, out, "Approved "+job.ID)

	out, err = env.run(t, "review", "list")
	if err != nil {
		t.Fatalf("review list: %v", err)
	}
	requireContains(t, out, "Review queue is empty")
}

func TestPersonasAndConversation(t *testing.T) {
	env := setupCLITestEnv(t)

	for _, name := range []string{"Host", "Guest"} {
		out, err := env.run(t, "personas", "add", "--name", name, "--id", strings.ToLower(name), "--voice-style", "warm")
		if err != nil {
			t.Fatalf("personas add %s: %v", name, err)
		}
		requireContains(t, out, "Persona "+name+" created")
	}

	out, err := env.run(t, "personas", "list", "--active")
	if err != nil {
		t.Fatalf("personas list: %v", err)
	}
	requireContains(t, out, "host")
	requireContains(t, out, "guest")

	out, err = env.run(t, "--json", "conversations", "create",
		"--title", "Weekly sync", "--topic", "release plan",
		"--actor", "host", "--actor", "guest", "--lines", "3",
		"--require-review=false", "--wait")
	if err != nil {
		t.Fatalf("conversations create: %v", err)
	}
	var conv jobstore.Conversation
	if err := json.Unmarshal([]byte(out), &conv); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if conv.Status != jobstore.StatusCompleted || len(conv.Lines) != 3 {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	out, err = env.run(t, "conversations", "show", conv.ID)
	if err != nil {
		t.Fatalf("conversations show: %v", err)
	}
	requireContains(t, out, "Weekly sync")
	requireContains(t, out, "line 1 on release plan")
	requireContains(t, out, "Media:")
}

func TestAssembleCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "a.mp4")
	second := filepath.Join(dir, "b.mp4")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, []byte("clip"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	output := filepath.Join(dir, "joined.mp4")

	out, err := env.run(t, "assemble", first, second, "--output", output)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	requireContains(t, out, "Wrote "+output)
}

func TestUnreachableDaemonHint(t *testing.T) {
	t.Setenv("MEDIAFORGE_API", "")
	t.Setenv("MEDIAFORGE_API_TOKEN", "")
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	_, _, err := runCLI(t, []string{"--api", "127.0.0.1:1", "jobs", "list"}, configPath)
	if err == nil {
		t.Fatal("expected error")
	}
	requireContains(t, err.Error(), "mediaforge start")
}

func TestLogsFiltersByMatch(t *testing.T) {
	t.Setenv("MEDIAFORGE_API_TOKEN", "")
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := logs.Path(cfg.Paths.LogDir)
	for _, line := range []string{"job abc started", "job xyz started", "job abc completed"} {
		if err := appendLine(path, line); err != nil {
			t.Fatal(err)
		}
	}

	out, _, err := runCLI(t, []string{"logs", "--match", "abc"}, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "job abc started\njob abc completed\n" {
		t.Fatalf("unexpected logs output %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "1"}, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "job abc completed\n" {
		t.Fatalf("unexpected tail %q", out)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	t.Setenv("MEDIAFORGE_API_TOKEN", "")
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	out, _, err := runCLI(t, []string{"config", "validate"}, configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Store backend: sqlite")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
}
