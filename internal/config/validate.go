package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateConversation(); err != nil {
		return err
	}
	if err := c.validateAdmission(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must be >= 0")
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		return errors.New("paths.artifact_dir must be set")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "sqlite":
		return nil
	case "postgres":
		if c.Store.PostgresURL == "" {
			return errors.New("store.postgres_url must be set when store.backend is postgres (or set MEDIAFORGE_POSTGRES_URL)")
		}
		return nil
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want sqlite or postgres)", c.Store.Backend)
	}
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrentJobs <= 0 {
		return errors.New("workflow.max_concurrent_jobs must be positive")
	}
	if c.Workflow.StageTimeoutSeconds < 0 {
		return errors.New("workflow.stage_timeout_seconds must be zero (unbounded) or positive")
	}
	if c.Workflow.DefaultDurationSeconds <= 0 {
		return errors.New("workflow.default_duration_seconds must be positive")
	}
	return nil
}

func (c *Config) validateConversation() error {
	if c.Conversation.LineParallelism <= 0 {
		return errors.New("conversation.line_parallelism must be positive")
	}
	if c.Conversation.TransitionSeconds < 0 {
		return errors.New("conversation.transition_seconds must be >= 0")
	}
	if c.Conversation.MaxLines <= 0 {
		return errors.New("conversation.max_lines must be positive")
	}
	return nil
}

func (c *Config) validateAdmission() error {
	if !c.Admission.Enabled {
		return nil
	}
	if c.Admission.Limit <= 0 {
		return errors.New("admission.limit must be positive")
	}
	if c.Admission.WindowSeconds <= 0 {
		return errors.New("admission.window_seconds must be positive")
	}
	switch c.Admission.Backend {
	case "memory":
	case "redis":
		if c.Admission.RedisURL == "" {
			return errors.New("admission.redis_url must be set when admission.backend is redis (or set MEDIAFORGE_REDIS_URL)")
		}
	default:
		return fmt.Errorf("admission.backend: unsupported value %q (want memory or redis)", c.Admission.Backend)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
