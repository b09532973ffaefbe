package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
}

// API contains the HTTP surface settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Store selects and configures the durable job store backend.
type Store struct {
	Backend     string `toml:"backend"`
	PostgresURL string `toml:"postgres_url"`
}

// Workflow contains single-job pipeline settings.
type Workflow struct {
	AutoApprove            bool   `toml:"auto_approve"`
	MaxConcurrentJobs      int    `toml:"max_concurrent_jobs"`
	StageTimeoutSeconds    int    `toml:"stage_timeout_seconds"`
	DefaultStyle           string `toml:"default_style"`
	DefaultDurationSeconds int    `toml:"default_duration_seconds"`
	DefaultAspectRatio     string `toml:"default_aspect_ratio"`
	DefaultVoice           string `toml:"default_voice"`
}

// Conversation contains multi-actor run settings.
type Conversation struct {
	LineParallelism   int     `toml:"line_parallelism"`
	WithTransitions   bool    `toml:"with_transitions"`
	TransitionSeconds float64 `toml:"transition_seconds"`
	RequireReview     bool    `toml:"require_review"`
	MaxLines          int     `toml:"max_lines"`
}

// Assembly configures the ffmpeg-backed media assembler.
type Assembly struct {
	FFmpegBinary     string `toml:"ffmpeg_binary"`
	FFprobeBinary    string `toml:"ffprobe_binary"`
	FallbackToConcat bool   `toml:"fallback_to_concat"`
	OutputDir        string `toml:"output_dir"`
}

// Admission configures the sliding-window rate limiter.
type Admission struct {
	Enabled       bool     `toml:"enabled"`
	Backend       string   `toml:"backend"`
	RedisURL      string   `toml:"redis_url"`
	KeyPrefix     string   `toml:"key_prefix"`
	Limit         int      `toml:"limit"`
	WindowSeconds int      `toml:"window_seconds"`
	ExemptPaths   []string `toml:"exempt_paths"`
}

// Collaborators configures the HTTP clients for the external producers.
type Collaborators struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts"`
	ScriptURL      string `toml:"script_url"`
	ImageURL       string `toml:"image_url"`
	SpeechURL      string `toml:"speech_url"`
	RenderURL      string `toml:"render_url"`
	DialogueURL    string `toml:"dialogue_url"`
	FetchArticles  bool   `toml:"fetch_articles"`
}

// Personas configures the persona catalog seed.
type Personas struct {
	CatalogPath string `toml:"catalog_path"`
}

// Notifications configures the optional ntfy progress feed.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	StageEvents           bool   `toml:"stage_events"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for mediaforge.
//
// Configuration sections by subsystem:
//   - Paths: data, artifact, and log directories
//   - API: HTTP bind address and bearer token
//   - Store: job store backend (sqlite or postgres)
//   - Workflow: single-job pipeline behaviour and concurrency
//   - Conversation: multi-actor runs and their assembly
//   - Assembly: ffmpeg/ffprobe binaries and transition fallback policy
//   - Admission: request rate limiting
//   - Collaborators: external producer endpoints
//   - Personas: persona catalog seed file
//   - Notifications: ntfy progress feed
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Store         Store         `toml:"store"`
	Workflow      Workflow      `toml:"workflow"`
	Conversation  Conversation  `toml:"conversation"`
	Assembly      Assembly      `toml:"assembly"`
	Admission     Admission     `toml:"admission"`
	Collaborators Collaborators `toml:"collaborators"`
	Personas      Personas      `toml:"personas"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactDir, c.Paths.LogDir, c.Assembly.OutputDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StoreDSN returns the SQLite database path used when the sqlite backend is selected.
func (c *Config) StoreDSN() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// StageTimeout returns the per-collaborator-call bound, or zero when unbounded.
func (c *Config) StageTimeout() time.Duration {
	if c.Workflow.StageTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Workflow.StageTimeoutSeconds) * time.Second
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		return defaultNotificationTimeout * time.Second
	}
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// AdmissionWindow returns the sliding window length.
func (c *Config) AdmissionWindow() time.Duration {
	return time.Duration(c.Admission.WindowSeconds) * time.Second
}

// CollaboratorTimeout returns the HTTP timeout for collaborator clients.
func (c *Config) CollaboratorTimeout() time.Duration {
	if c.Collaborators.TimeoutSeconds <= 0 {
		return defaultCollaboratorTimeout * time.Second
	}
	return time.Duration(c.Collaborators.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
