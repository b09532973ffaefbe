// Package preflight provides readiness checks for the filesystem paths, the
// job store and the collaborator endpoint mediaforge depends on.
//
// These checks run in two contexts:
//   - The daemon's /health/ready endpoint runs RunAll on every probe.
//   - The CLI "mediaforge status" command prints the same results from the
//     daemon status payload.
//
// Checks for optional features are skipped when the feature is not configured.
package preflight
