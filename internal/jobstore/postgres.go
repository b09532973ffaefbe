package jobstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresBackend stores records in a shared Postgres database so several
// daemons can serve the same job set.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// OpenPostgres establishes a connection pool and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("postgres url is empty")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	backend := &PostgresBackend{pool: pool}
	if err := backend.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return backend, nil
}

func (b *PostgresBackend) initSchema(ctx context.Context) error {
	var exists bool
	err := b.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'schema_version')`,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if !exists {
		tx, err := b.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, postgresSchema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit schema: %w", err)
		}
		return nil
	}

	var version int
	if err := b.pool.QueryRow(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Put inserts or replaces a record snapshot.
func (b *PostgresBackend) Put(ctx context.Context, rec Record) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO records (kind, id, status, created_at, updated_at, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (kind, id) DO UPDATE SET status = $3, updated_at = $5, payload = $6`,
		string(rec.Kind), rec.ID, rec.Status, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// Get fetches one record or ErrRecordNotFound.
func (b *PostgresBackend) Get(ctx context.Context, kind Kind, id string) (Record, error) {
	row := b.pool.QueryRow(ctx,
		`SELECT kind, id, status, created_at, updated_at, payload FROM records WHERE kind = $1 AND id = $2`,
		string(kind), id,
	)
	rec, err := scanPostgresRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return rec, nil
}

// List returns records of one kind, newest first.
func (b *PostgresBackend) List(ctx context.Context, q Query) ([]Record, error) {
	query := `SELECT kind, id, status, created_at, updated_at, payload FROM records WHERE kind = $1`
	args := []any{string(q.Kind)}
	if len(q.Statuses) > 0 {
		args = append(args, q.Statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += " ORDER BY created_at DESC, id"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", q.Kind, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Kind, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes the record and its queue entry in one transaction.
func (b *PostgresBackend) Delete(ctx context.Context, kind Kind, id string) (bool, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM records WHERE kind = $1 AND id = $2`, string(kind), id)
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM review_queue WHERE id = $1`, id); err != nil {
		return false, fmt.Errorf("delete review entry %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit delete %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Enqueue adds a review queue entry unless one exists.
func (b *PostgresBackend) Enqueue(ctx context.Context, entry QueueEntry) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO review_queue (id, kind, enqueued_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		entry.ID, string(entry.Kind), entry.EnqueuedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", entry.ID, err)
	}
	return nil
}

// Dequeue removes an entry and reports whether one was present.
func (b *PostgresBackend) Dequeue(ctx context.Context, id string) (bool, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM review_queue WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("dequeue %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListQueue returns review entries, newest first.
func (b *PostgresBackend) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	rows, err := b.pool.Query(ctx, `SELECT id, kind, enqueued_at FROM review_queue ORDER BY enqueued_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list review queue: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var (
			entry QueueEntry
			kind  string
		)
		if err := rows.Scan(&entry.ID, &kind, &entry.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan review entry: %w", err)
		}
		entry.Kind = Kind(kind)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Ping verifies the pool can reach the server.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close closes the connection pool.
func (b *PostgresBackend) Close() error {
	if b != nil && b.pool != nil {
		b.pool.Close()
	}
	return nil
}

func scanPostgresRecord(row pgx.Row) (Record, error) {
	var (
		rec  Record
		kind string
	)
	if err := row.Scan(&kind, &rec.ID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.Payload); err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	return rec, nil
}
