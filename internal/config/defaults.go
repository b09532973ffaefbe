package config

const (
	defaultConfigPath             = "~/.config/mediaforge/config.toml"
	defaultDataDir                = "~/.local/share/mediaforge"
	defaultArtifactDir            = "~/.local/share/mediaforge/artifacts"
	defaultLogDir                 = "~/.local/share/mediaforge/logs"
	defaultAssemblyOutputDir      = "~/.local/share/mediaforge/assembled"
	defaultAPIBind                = "127.0.0.1:7610"
	defaultStoreBackend           = "sqlite"
	defaultMaxConcurrentJobs      = 2
	defaultStageTimeoutSeconds    = 900
	defaultStyle                  = "professional"
	defaultDurationSeconds        = 45
	defaultAspectRatio            = "16:9"
	defaultVoice                  = "default"
	defaultLineParallelism        = 1
	defaultTransitionSeconds      = 0.3
	defaultMaxLines               = 40
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultAdmissionBackend       = "memory"
	defaultAdmissionKeyPrefix     = "rate_limit"
	defaultAdmissionLimit         = 60
	defaultAdmissionWindowSeconds = 60
	defaultCollaboratorTimeout    = 600
	defaultCollaboratorRetries    = 3
	defaultNotificationTimeout    = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Store: Store{
			Backend: defaultStoreBackend,
		},
		Workflow: Workflow{
			AutoApprove:            false,
			MaxConcurrentJobs:      defaultMaxConcurrentJobs,
			StageTimeoutSeconds:    defaultStageTimeoutSeconds,
			DefaultStyle:           defaultStyle,
			DefaultDurationSeconds: defaultDurationSeconds,
			DefaultAspectRatio:     defaultAspectRatio,
			DefaultVoice:           defaultVoice,
		},
		Conversation: Conversation{
			LineParallelism:   defaultLineParallelism,
			WithTransitions:   true,
			TransitionSeconds: defaultTransitionSeconds,
			MaxLines:          defaultMaxLines,
		},
		Assembly: Assembly{
			FFmpegBinary:     defaultFFmpegBinary,
			FFprobeBinary:    defaultFFprobeBinary,
			FallbackToConcat: true,
			OutputDir:        defaultAssemblyOutputDir,
		},
		Admission: Admission{
			Enabled:       true,
			Backend:       defaultAdmissionBackend,
			KeyPrefix:     defaultAdmissionKeyPrefix,
			Limit:         defaultAdmissionLimit,
			WindowSeconds: defaultAdmissionWindowSeconds,
			ExemptPaths:   []string{"/health", "/health/ready", "/health/live", "/api/status"},
		},
		Collaborators: Collaborators{
			TimeoutSeconds: defaultCollaboratorTimeout,
			RetryAttempts:  defaultCollaboratorRetries,
			FetchArticles:  true,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotificationTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
