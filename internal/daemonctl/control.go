// Package daemonctl starts and stops a detached mediaforged process on behalf
// of the CLI, using the HTTP API to observe it.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediaforge/internal/apiclient"
	"mediaforge/internal/daemon"
)

const pollInterval = 200 * time.Millisecond

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Prober adapts an apiclient.Client into the running/pid probe used here.
type Prober struct {
	Client *apiclient.Client
}

// Probe reports whether the daemon answers and its pid when it does.
func (p Prober) Probe(ctx context.Context) (bool, int, error) {
	status, err := p.Client.Status(ctx)
	if err != nil {
		if apiclient.IsUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return status.Running, status.PID, nil
}

// ProbeFunc reports whether the daemon is serving and its pid.
type ProbeFunc func(ctx context.Context) (bool, int, error)

// StartState summarizes EnsureStarted.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts a detached mediaforged process.
func Launch(executablePath, configPath string) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	var args []string
	if cfg := strings.TrimSpace(configPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// EnsureStarted launches the daemon unless it already answers, then waits up
// to timeout for it to serve.
func EnsureStarted(ctx context.Context, probe ProbeFunc, executablePath, configPath string, timeout time.Duration) (StartResult, error) {
	running, pid, err := probe(ctx)
	if err != nil {
		return StartResult{}, err
	}
	if running {
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}
	if err := Launch(executablePath, configPath); err != nil {
		return StartResult{}, err
	}
	pid, err = waitFor(ctx, probe, true, timeout)
	if err != nil {
		return StartResult{}, fmt.Errorf("daemon failed to start: %w", err)
	}
	return StartResult{State: StartStateStarted, PID: pid}, nil
}

// Stop sends SIGTERM to the daemon and escalates to SIGKILL when it is still
// serving after grace. The pid comes from the API, falling back to the pid
// file under logDir.
func Stop(ctx context.Context, probe ProbeFunc, logDir string, grace time.Duration) (StopResult, error) {
	running, pid, err := probe(ctx)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		return StopResult{}, ErrDaemonNotRunning
	}
	pidPath := daemon.PIDPath(logDir)
	if pid <= 0 {
		if pid, err = ReadPID(pidPath); err != nil {
			return StopResult{}, err
		}
	}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if _, err := waitFor(ctx, probe, false, grace); err == nil {
		return result, nil
	}
	if err := signalProcess(pid, syscall.SIGKILL); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(pidPath)
	_ = os.Remove(daemon.LockPath(logDir))
	result.ForcedKill = true
	return result, nil
}

// ReadPID parses the pid file written by mediaforged.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q holds no pid", path)
	}
	return pid, nil
}

func signalProcess(pid int, sig syscall.Signal) error {
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return nil
}

// waitFor polls until the daemon's running state equals want.
func waitFor(ctx context.Context, probe ProbeFunc, want bool, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		running, pid, err := probe(ctx)
		if err == nil && running == want {
			return pid, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("timed out")
	}
	return 0, lastErr
}
