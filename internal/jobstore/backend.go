package jobstore

import (
	"context"
	"errors"
	"fmt"

	"mediaforge/internal/config"
)

// Backend is the durable key-value contract the typed Store is built on.
// Implementations must be safe for concurrent use.
type Backend interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, kind Kind, id string) (Record, error)
	List(ctx context.Context, q Query) ([]Record, error)
	// Delete removes the record and any queue entry for the id. It reports
	// whether a record existed.
	Delete(ctx context.Context, kind Kind, id string) (bool, error)
	// Enqueue is a no-op when an entry for the id already exists.
	Enqueue(ctx context.Context, entry QueueEntry) error
	// Dequeue reports whether an entry was actually removed.
	Dequeue(ctx context.Context, id string) (bool, error)
	ListQueue(ctx context.Context) ([]QueueEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrRecordNotFound is returned by Backend.Get for a missing record.
var ErrRecordNotFound = errors.New("record not found")

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// OpenBackend selects and opens the backend named in configuration.
func OpenBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	switch cfg.Store.Backend {
	case "", "sqlite":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.StoreDSN())
	case "postgres":
		return OpenPostgres(ctx, cfg.Store.PostgresURL)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}
