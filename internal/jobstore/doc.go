// Package jobstore persists job, conversation, and persona snapshots plus the
// review queue entries that reference them.
//
// Storage is a key-value Backend over JSON snapshots keyed by (kind, id). Two
// backends ship: SQLite (the default, single host) and Postgres (shared by
// several daemons). The typed Store layers domain models, status transition
// rules, per-id exclusive locks, and restart recovery on top of whichever
// backend is configured.
//
// Orchestrators treat the Store as the source of truth across restarts; nothing
// in memory outlives the process. Schema changes bump schemaVersion; the
// database must be recreated to adopt them.
package jobstore
