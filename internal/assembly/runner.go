package assembly

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a media binary with the given arguments.
type Runner interface {
	Run(ctx context.Context, binary string, args []string) error
}

// Prober reports a clip's duration in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// ExecRunner runs binaries as child processes.
type ExecRunner struct{}

// Run executes the binary and folds the stderr tail into any error.
func (ExecRunner) Run(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", binary, err, tail(stderr.String(), 400))
	}
	return nil
}

func tail(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return "..." + value[len(value)-limit:]
}
