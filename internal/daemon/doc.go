// Package daemon is the composition root of the long-running mediaforge
// process.
//
// It opens the job store, seeds personas, builds the collaborator client, the
// job and conversation orchestrators, the review queue and the admission
// controller, and serves them through the HTTP API. A flock-based lock keeps a
// second daemon from starting against the same log directory.
//
// Keep orchestration logic here: job and conversation behaviour belongs to
// their own packages while the daemon focuses on startup, shutdown, and
// status reporting.
package daemon
