package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mediaforge/internal/assembly"
	"mediaforge/internal/collaborators"
	"mediaforge/internal/config"
	"mediaforge/internal/daemon"
	"mediaforge/internal/logging"
	"mediaforge/internal/testsupport"
)

type stubProducers struct {
	dir   string
	count atomic.Int64
}

func (s *stubProducers) next(ext string) string {
	return filepath.Join(s.dir, fmt.Sprintf("artifact-%d%s", s.count.Add(1), ext))
}

func (s *stubProducers) ProduceScript(_ context.Context, req collaborators.ScriptRequest) (collaborators.Script, error) {
	return collaborators.Script{Text: "narration for " + req.Title, SceneHint: "studio", DurationEstimate: 5}, nil
}

func (s *stubProducers) ProduceImage(context.Context, collaborators.ImageRequest) (string, error) {
	return s.next(".png"), nil
}

func (s *stubProducers) Synthesize(context.Context, collaborators.SpeechRequest) (collaborators.Audio, error) {
	return collaborators.Audio{Ref: s.next(".wav"), Duration: 3}, nil
}

func (s *stubProducers) Render(context.Context, collaborators.RenderRequest) (collaborators.Clip, error) {
	path := s.next(".mp4")
	if err := os.WriteFile(path, []byte("clip"), 0o644); err != nil {
		return collaborators.Clip{}, err
	}
	return collaborators.Clip{Ref: path, Duration: 3}, nil
}

func (s *stubProducers) ProduceDialogue(_ context.Context, req collaborators.DialogueRequest) ([]collaborators.DialogueTurn, error) {
	turns := make([]collaborators.DialogueTurn, req.LineCount)
	for i := range turns {
		turns[i] = collaborators.DialogueTurn{
			Actor: req.Speakers[i%len(req.Speakers)].Name,
			Text:  fmt.Sprintf("line %d on %s", i+1, req.Topic),
		}
	}
	return turns, nil
}

type nopRunner struct{}

func (nopRunner) Run(context.Context, string, []string) error { return nil }

type fixedProber float64

func (p fixedProber) Duration(context.Context, string) (float64, error) { return float64(p), nil }

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	apiAddr    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	t.Setenv("MEDIAFORGE_API", "")
	t.Setenv("MEDIAFORGE_API_TOKEN", "")

	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithStubbedBinaries()}, opts...)...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	d, err := daemon.New(context.Background(), cfg, logger,
		daemon.WithProducers(&stubProducers{dir: t.TempDir()}),
		daemon.WithAssembler(assembly.New(cfg, logger, assembly.WithRunner(nopRunner{}), assembly.WithProber(fixedProber(3)))),
		daemon.WithVersion("cli-test"),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		_ = d.Close()
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		configPath: configPath,
		apiAddr:    d.Addr(),
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := runCLI(t, append([]string{"--api", e.apiAddr}, args...), e.configPath)
	return stdout, err
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
