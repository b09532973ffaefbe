package daemon

import (
	"context"
	"fmt"
	"strings"

	"mediaforge/internal/api"
	"mediaforge/internal/config"
	"mediaforge/internal/deps"
	"mediaforge/internal/preflight"
)

var preflightDeps = preflight.CheckSystemDeps

// Ready implements api.StatusReporter. The daemon is ready when every
// preflight check passes and the required binaries resolve.
func (d *Daemon) Ready(ctx context.Context) api.HealthReport {
	results := preflight.RunAll(ctx, d.cfg, d.store)
	report := api.HealthReport{Ready: true}
	for _, r := range results {
		report.Checks = append(report.Checks, api.CheckResult{Name: r.Name, OK: r.Passed, Detail: r.Detail})
		if !r.Passed {
			report.Ready = false
		}
	}
	report.Checks = append(report.Checks, binaryCheck(d.cfg))
	if !report.Checks[len(report.Checks)-1].OK {
		report.Ready = false
	}
	return report
}

func binaryCheck(cfg *config.Config) api.CheckResult {
	missing := deps.MissingRequired(preflightDeps(cfg))
	if len(missing) == 0 {
		return api.CheckResult{Name: "Binaries", OK: true, Detail: "ffmpeg and ffprobe found"}
	}
	return api.CheckResult{Name: "Binaries", Detail: fmt.Sprintf("missing: %s", strings.Join(missing, ", "))}
}
