// Package daemonrun hosts the mediaforged process lifecycle: logger setup,
// pid file, daemon construction, and signal-driven shutdown.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"mediaforge/internal/config"
	"mediaforge/internal/daemon"
	"mediaforge/internal/deps"
	"mediaforge/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
	Version  string
}

// Run starts the daemon and blocks until SIGINT, SIGTERM, or ctx ends.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}

	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	pidPath := daemon.PIDPath(cfg.Paths.LogDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(signalCtx, cfg, logger, daemon.WithVersion(opts.Version))
	if err != nil {
		logging.ErrorWithContext(logger, "daemon construction failed", "daemon_init_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store settings and the persona catalog"),
		)
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logging.WarnWithContext(logger, "daemon shutdown incomplete", "daemon_close_failed", logging.Error(err))
		}
	}()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api.bind is free and no other mediaforged is running"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("mediaforge daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("store_backend", cfg.Store.Backend),
		logging.Bool("admission_enabled", cfg.Admission.Enabled),
		logging.String("admission_backend", cfg.Admission.Backend),
		logging.Bool("collaborator_key_present", cfg.Collaborators.APIKey != ""),
		logging.Bool("api_token_present", cfg.API.Token != ""),
	}
	for _, status := range statuses {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "required binaries missing", "dependency_missing",
			logging.String("missing", strings.Join(missing, ", ")),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set assembly.ffmpeg_binary and assembly.ffprobe_binary"),
		)
	}
}
