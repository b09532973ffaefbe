package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSecrets()
	c.normalizeBackends()
	c.normalizeCollaborators()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = defaultArtifactDir
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Assembly.OutputDir) == "" {
		c.Assembly.OutputDir = defaultAssemblyOutputDir
	}
	if c.Assembly.OutputDir, err = expandPath(c.Assembly.OutputDir); err != nil {
		return fmt.Errorf("assembly.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Personas.CatalogPath) != "" {
		if c.Personas.CatalogPath, err = expandPath(c.Personas.CatalogPath); err != nil {
			return fmt.Errorf("personas.catalog_path: %w", err)
		}
	}
	return nil
}

// Environment values win over file values for secrets and connection strings.
func (c *Config) normalizeSecrets() {
	if value, ok := os.LookupEnv("MEDIAFORGE_API_TOKEN"); ok {
		c.API.Token = value
	}
	if value, ok := os.LookupEnv("MEDIAFORGE_COLLABORATOR_API_KEY"); ok {
		c.Collaborators.APIKey = value
	}
	if value, ok := os.LookupEnv("MEDIAFORGE_POSTGRES_URL"); ok {
		c.Store.PostgresURL = value
	}
	if value, ok := os.LookupEnv("MEDIAFORGE_REDIS_URL"); ok {
		c.Admission.RedisURL = value
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	c.Collaborators.APIKey = strings.TrimSpace(c.Collaborators.APIKey)
	c.Store.PostgresURL = strings.TrimSpace(c.Store.PostgresURL)
	c.Admission.RedisURL = strings.TrimSpace(c.Admission.RedisURL)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeBackends() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	c.Admission.Backend = strings.ToLower(strings.TrimSpace(c.Admission.Backend))
	if c.Admission.Backend == "" {
		c.Admission.Backend = defaultAdmissionBackend
	}
	if strings.TrimSpace(c.Admission.KeyPrefix) == "" {
		c.Admission.KeyPrefix = defaultAdmissionKeyPrefix
	}
	if strings.TrimSpace(c.Assembly.FFmpegBinary) == "" {
		c.Assembly.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Assembly.FFprobeBinary) == "" {
		c.Assembly.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeCollaborators() {
	c.Collaborators.BaseURL = strings.TrimRight(strings.TrimSpace(c.Collaborators.BaseURL), "/")
	if c.Collaborators.RetryAttempts <= 0 {
		c.Collaborators.RetryAttempts = 1
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
