package preflight

import (
	"context"

	"mediaforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is anything whose connectivity can be probed, such as the job store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
// store may be nil, in which case the store check is skipped.
func RunAll(ctx context.Context, cfg *config.Config, store Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir),
		CheckDirectoryAccess("Assembly output directory", cfg.Assembly.OutputDir),
	}
	if store != nil {
		results = append(results, CheckStore(ctx, cfg.Store.Backend, store))
	}
	if cfg.Collaborators.BaseURL != "" {
		results = append(results, CheckCollaborators(ctx, cfg.Collaborators.BaseURL))
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
