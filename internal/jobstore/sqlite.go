package jobstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteBackend stores records in a single SQLite database file.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	backend := &SQLiteBackend{db: db, path: path}
	if err := backend.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// Path returns the database file location.
func (b *SQLiteBackend) Path() string {
	return b.path
}

func (b *SQLiteBackend) initSchema(ctx context.Context) error {
	var tableExists int
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return b.createSchema(ctx)
	}

	var version int
	if err := b.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to recreate it)",
			ErrSchemaMismatch, version, schemaVersion, b.path)
	}
	return nil
}

func (b *SQLiteBackend) createSchema(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Put inserts or replaces a record snapshot.
func (b *SQLiteBackend) Put(ctx context.Context, rec Record) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := b.db.ExecContext(ctx,
			`INSERT INTO records (kind, id, status, created_at, updated_at, payload)
             VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT(kind, id) DO UPDATE SET
                 status = excluded.status,
                 updated_at = excluded.updated_at,
                 payload = excluded.payload`,
			string(rec.Kind),
			rec.ID,
			rec.Status,
			formatTime(rec.CreatedAt),
			formatTime(rec.UpdatedAt),
			string(rec.Payload),
		)
		if err != nil {
			return fmt.Errorf("put %s %s: %w", rec.Kind, rec.ID, err)
		}
		return nil
	})
}

// Get fetches one record or ErrRecordNotFound.
func (b *SQLiteBackend) Get(ctx context.Context, kind Kind, id string) (Record, error) {
	ctx = ensureContext(ctx)
	row := b.db.QueryRowContext(ctx,
		`SELECT kind, id, status, created_at, updated_at, payload FROM records WHERE kind = ? AND id = ?`,
		string(kind), id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return rec, nil
}

// List returns records of one kind, newest first.
func (b *SQLiteBackend) List(ctx context.Context, q Query) ([]Record, error) {
	ctx = ensureContext(ctx)
	query := `SELECT kind, id, status, created_at, updated_at, payload FROM records WHERE kind = ?`
	args := []any{string(q.Kind)}
	if len(q.Statuses) > 0 {
		query += " AND status IN (" + makePlaceholders(len(q.Statuses)) + ")"
		for _, status := range q.Statuses {
			args = append(args, status)
		}
	}
	query += " ORDER BY created_at DESC, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", q.Kind, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Kind, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes the record and its queue entry in one transaction.
func (b *SQLiteBackend) Delete(ctx context.Context, kind Kind, id string) (bool, error) {
	ctx = ensureContext(ctx)
	var removed bool
	err := retryOnBusy(ctx, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, string(kind), id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM review_queue WHERE id = ?`, id); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		removed = affected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return removed, nil
}

// Enqueue adds a review queue entry unless one exists.
func (b *SQLiteBackend) Enqueue(ctx context.Context, entry QueueEntry) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := b.db.ExecContext(ctx,
			`INSERT INTO review_queue (id, kind, enqueued_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
			entry.ID, string(entry.Kind), formatTime(entry.EnqueuedAt),
		)
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", entry.ID, err)
		}
		return nil
	})
}

// Dequeue removes an entry and reports whether one was present.
func (b *SQLiteBackend) Dequeue(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	var removed bool
	err := retryOnBusy(ctx, func() error {
		res, err := b.db.ExecContext(ctx, `DELETE FROM review_queue WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = affected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("dequeue %s: %w", id, err)
	}
	return removed, nil
}

// ListQueue returns review entries, newest first.
func (b *SQLiteBackend) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	ctx = ensureContext(ctx)
	rows, err := b.db.QueryContext(ctx, `SELECT id, kind, enqueued_at FROM review_queue ORDER BY enqueued_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list review queue: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var (
			entry    QueueEntry
			kind     string
			enqueued string
		)
		if err := rows.Scan(&entry.ID, &kind, &enqueued); err != nil {
			return nil, fmt.Errorf("scan review entry: %w", err)
		}
		entry.Kind = Kind(kind)
		if ts, err := parseTimeString(enqueued); err == nil {
			entry.EnqueuedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Ping verifies the database is reachable.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ensureContext(ctx))
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		kind       string
		rec        Record
		createdRaw string
		updatedRaw string
		payload    string
	)
	if err := scanner.Scan(&kind, &rec.ID, &rec.Status, &createdRaw, &updatedRaw, &payload); err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	rec.Payload = []byte(payload)
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return rec, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Fixed-width fractional seconds keep lexical order equal to time order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	if value.IsZero() {
		value = time.Now()
	}
	return value.UTC().Format(storedTimeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
