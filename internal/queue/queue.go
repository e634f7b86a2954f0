// Package queue provides the durable offline mutation buffer for fieldsync.
//
// The buffer is an embedded SQLite database (WAL mode) holding pending
// field records in strict FIFO order: insertion order is sync order. The
// same database file carries a small key/value store for "last known"
// state (last successful sync time, last known coordinates) and the local
// read cache that is invalidated after a successful drain.
//
// Lifecycle:
//  1. Created empty at first open
//  2. Appended to when a remote write fails while offline
//  3. Drained record by record on reconnect or manual sync
//  4. Wholly cleared by the explicit clear verb (destructive)
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sitesense/fieldsync/internal/record"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a record or state key does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite connection with queue-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before
// first use. The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Pending records awaiting server acknowledgment.
	-- seq gives strict FIFO drain order.
	CREATE TABLE IF NOT EXISTS pending (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		local_id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		payload TEXT,
		observation_id TEXT,
		photo_path TEXT,
		created_at TEXT NOT NULL,
		enqueued_at TEXT NOT NULL
	);

	-- Last-known state (last sync time, last known coordinates).
	CREATE TABLE IF NOT EXISTS client_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Cached server query results, invalidated after a successful drain.
	CREATE TABLE IF NOT EXISTS read_cache (
		kind TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		fetched_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_kind ON pending(kind);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Enqueue appends a record to the durable queue and returns its
// locally-unique placeholder id immediately, so callers can render the
// new item optimistically before server acknowledgment.
//
// If the record has no LocalID yet, a UUIDv4 is assigned.
func (db *DB) Enqueue(rec *record.PendingRecord) (string, error) {
	return db.EnqueueContext(context.Background(), rec)
}

// EnqueueContext appends a record with context support.
func (db *DB) EnqueueContext(ctx context.Context, rec *record.PendingRecord) (string, error) {
	rec.SetDefaults()
	if rec.LocalID == "" {
		rec.LocalID = uuid.New().String()
	}
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}

	var payload any
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO pending (local_id, kind, payload, observation_id, photo_path, created_at, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.LocalID,
		string(rec.Kind),
		payload,
		rec.ObservationID,
		rec.PhotoPath,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue record: %w", err)
	}

	return rec.LocalID, nil
}

// List returns all pending records in FIFO order (oldest first).
func (db *DB) List() ([]*record.PendingRecord, error) {
	return db.ListContext(context.Background())
}

// ListContext returns all pending records with context support.
func (db *DB) ListContext(ctx context.Context) ([]*record.PendingRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT local_id, kind, payload, observation_id, photo_path, created_at
		FROM pending
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	var records []*record.PendingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending records: %w", err)
	}

	return records, nil
}

// Get returns the pending record with the given local id.
// Returns ErrNotFound if no such record is queued.
func (db *DB) Get(localID string) (*record.PendingRecord, error) {
	row := db.conn.QueryRow(`
		SELECT local_id, kind, payload, observation_id, photo_path, created_at
		FROM pending
		WHERE local_id = ?
	`, localID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Remove deletes a record from the queue after server acknowledgment.
// Removing a record that is not queued is a no-op (idempotent).
func (db *DB) Remove(localID string) error {
	return db.RemoveContext(context.Background(), localID)
}

// RemoveContext deletes a record with context support.
func (db *DB) RemoveContext(ctx context.Context, localID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM pending WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to remove record %s: %w", localID, err)
	}
	return nil
}

// Clear empties the queue unconditionally and returns how many records
// were dropped. This is destructive: cleared records are not recoverable.
func (db *DB) Clear() (int, error) {
	res, err := db.conn.Exec(`DELETE FROM pending`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared records: %w", err)
	}
	return int(n), nil
}

// Depth returns the number of pending records.
func (db *DB) Depth() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM pending`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return n, nil
}

// Counts returns the number of pending records per kind.
// Kinds with no pending records are absent from the map.
func (db *DB) Counts() (map[record.Kind]int, error) {
	rows, err := db.conn.Query(`SELECT kind, COUNT(*) FROM pending GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending records: %w", err)
	}
	defer rows.Close()

	counts := make(map[record.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[record.Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

// SetState stores a key/value pair in the client state store.
func (db *DB) SetState(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO client_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// GetState returns the value stored for key, or ErrNotFound.
func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// CachePut stores a cached server query result for the given entity kind.
func (db *DB) CachePut(kind record.Kind, body []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO read_cache (kind, body, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			body = excluded.body,
			fetched_at = excluded.fetched_at
	`, string(kind), string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to cache %s results: %w", kind, err)
	}
	return nil
}

// CacheGet returns the cached result for kind, or ErrNotFound when the
// cache is cold or was invalidated.
func (db *DB) CacheGet(kind record.Kind) ([]byte, error) {
	var body string
	err := db.conn.QueryRow(`SELECT body FROM read_cache WHERE kind = ?`, string(kind)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s cache: %w", kind, err)
	}
	return []byte(body), nil
}

// InvalidateCache drops cached query results so the next read refetches
// server truth. With no arguments the whole cache is dropped.
func (db *DB) InvalidateCache(kinds ...record.Kind) error {
	if len(kinds) == 0 {
		if _, err := db.conn.Exec(`DELETE FROM read_cache`); err != nil {
			return fmt.Errorf("failed to invalidate cache: %w", err)
		}
		return nil
	}
	for _, kind := range kinds {
		if _, err := db.conn.Exec(`DELETE FROM read_cache WHERE kind = ?`, string(kind)); err != nil {
			return fmt.Errorf("failed to invalidate %s cache: %w", kind, err)
		}
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*record.PendingRecord, error) {
	var (
		rec           record.PendingRecord
		kind          string
		payload       sql.NullString
		observationID sql.NullString
		photoPath     sql.NullString
		createdAt     string
	)

	if err := s.Scan(&rec.LocalID, &kind, &payload, &observationID, &photoPath, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pending record: %w", err)
	}

	rec.Kind = record.Kind(kind)
	if payload.Valid && payload.String != "" {
		rec.Payload = json.RawMessage(payload.String)
	}
	rec.ObservationID = observationID.String
	rec.PhotoPath = photoPath.String

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = ts

	return &rec, nil
}
