package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaforge/internal/api"
	"mediaforge/internal/apiclient"
	"mediaforge/internal/daemonctl"
	"mediaforge/internal/daemonrun"
	"mediaforge/internal/preflight"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start mediaforged in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			probe := daemonctl.Prober{Client: client}.Probe
			result, err := daemonctl.EnsureStarted(cmd.Context(), probe, exe, ctx.configPath(), 15*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			default:
				fmt.Fprintf(stdout, "Daemon started (pid %d) at %s\n", result.PID, client.BaseURL())
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop mediaforged (interrupts in-flight runs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			probe := daemonctl.Prober{Client: client}.Probe
			result, err := daemonctl.Stop(cmd.Context(), probe, ctx.configValue().Paths.LogDir, 35*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintf(stdout, "Daemon stopped (pid %d)\n", result.PID)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and record status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, statusErr := client.Status(cmd.Context())
			if statusErr != nil && !apiclient.IsUnavailable(statusErr) {
				return statusErr
			}
			var ready *api.HealthReport
			if statusErr == nil {
				if report, err := client.Ready(cmd.Context()); err == nil {
					ready = &report
				}
			} else {
				status = offlineStatus(ctx)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"status": status, "ready": ready})
			}
			stdout := cmd.OutOrStdout()
			renderDaemonStatus(stdout, status, ready, client.BaseURL(), shouldColorize(stdout))
			return nil
		},
	}

	var logLevel string
	runCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel, Version: version})
		},
	}
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	return []*cobra.Command{startCmd, stopCmd, statusCmd, runCmd}
}

// offlineStatus fills what can be known without a running daemon.
func offlineStatus(ctx *commandContext) api.DaemonStatus {
	cfg := ctx.configValue()
	status := api.DaemonStatus{StoreBackend: cfg.Store.Backend}
	for _, dep := range preflight.CheckSystemDeps(cfg) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return status
}

func renderDaemonStatus(out io.Writer, status api.DaemonStatus, ready *api.HealthReport, address string, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		detail := fmt.Sprintf("pid %d at %s", status.PID, address)
		if status.Version != "" {
			detail += ", version " + status.Version
		}
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, detail, colorize))
		fmt.Fprintln(out, renderStatusLine("Started", statusInfo, orDash(status.StartedAt), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Store backend", statusInfo, orDash(status.StoreBackend), colorize))
	admission := "disabled"
	if status.AdmissionBackend != "" {
		admission = status.AdmissionBackend
	}
	fmt.Fprintln(out, renderStatusLine("Admission", statusInfo, admission, colorize))
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("In flight", statusInfo,
			fmt.Sprintf("%d jobs, %d conversations", status.JobsInFlight, status.ConversationsInFlight), colorize))
		kind := statusOK
		if status.ReviewQueueLength > 0 {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine("Review queue", kind, strconv.Itoa(status.ReviewQueueLength)+" waiting", colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, dep := range status.Dependencies {
		if dep.Available {
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusOK, "Ready (command: "+dep.Command+")", colorize))
			continue
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine(dep.Name, kind, orDash(dep.Detail), colorize))
	}

	if ready != nil {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Readiness", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, check := range ready.Checks {
			kind := statusOK
			if !check.OK {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}

	if len(status.StatusCounts) == 0 {
		return
	}
	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Records", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprint(out, renderTable([]string{"Kind", "Status", "Count"}, statusCountRows(status.StatusCounts),
		[]columnAlignment{alignLeft, alignLeft, alignRight}))
}

func statusCountRows(counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		kind, status, _ := strings.Cut(key, ".")
		rows = append(rows, []string{kind, titleCaser.String(strings.ReplaceAll(status, "_", " ")), strconv.Itoa(counts[key])})
	}
	return rows
}

// daemonExecutable prefers a mediaforged binary beside this one.
func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	sibling := filepath.Join(filepath.Dir(exe), "mediaforged")
	if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
		return sibling, nil
	}
	return "", fmt.Errorf("mediaforged not found next to %s; install it or run `mediaforge daemon`", exe)
}
