// Package store is the durable metadata store for docrag: documents and
// their fingerprints, the ingestion job queue, and the embedding cache, all
// in one SQLite database. Job transitions are conditional UPDATEs so any
// number of worker processes can share the file safely.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store is the SQLite-backed metadata store. It is safe for concurrent use.
type Store struct {
	// db is the underlying database handle.
	db *sqlx.DB
	// now returns the current time; replaced in tests.
	now func() time.Time
}

// DefaultDBPath returns ~/.docrag/docrag.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "docrag.db"), nil
}

// Open opens (or creates) the database at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL allows readers during writes; immediate transactions take the write
	// lock up front so concurrent claimers queue on busy_timeout instead of
	// failing on lock upgrade.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection serialises writers within the process.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the handle so the SQLite vector index and generation pointers
// share the same database file and connection.
func (s *Store) DB() *sqlx.DB { return s.db }

// schema is applied on every Open; every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT    PRIMARY KEY,
    title       TEXT    NOT NULL,
    source_url  TEXT    NOT NULL DEFAULT '',
    filename    TEXT    NOT NULL,
    mime_type   TEXT    NOT NULL,
    format      TEXT    NOT NULL,
    checksum    TEXT    NOT NULL,
    tenant_id   TEXT    NOT NULL,
    blob_key    TEXT    NOT NULL,
    size_bytes  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,  -- Unix nanoseconds
    UNIQUE (checksum, tenant_id)
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant_created
    ON documents (tenant_id, created_at);

CREATE TABLE IF NOT EXISTS ingestion_jobs (
    id               TEXT    PRIMARY KEY,
    document_id      TEXT    NOT NULL REFERENCES documents (id),
    status           TEXT    NOT NULL CHECK (status IN ('QUEUED','PROCESSING','SUCCEEDED','FAILED')),
    attempts         INTEGER NOT NULL DEFAULT 0,
    last_error       TEXT,
    cancel_requested INTEGER NOT NULL DEFAULT 0,
    run_after        INTEGER NOT NULL,
    lease_until      INTEGER,
    worker_id        TEXT,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_ingestion_jobs_active
    ON ingestion_jobs (document_id) WHERE status IN ('QUEUED','PROCESSING');
CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_queue
    ON ingestion_jobs (status, run_after);
CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_document
    ON ingestion_jobs (document_id, created_at);

CREATE TABLE IF NOT EXISTS embedding_cache (
    key         TEXT    PRIMARY KEY,  -- sha256(model || 0x00 || text)
    vector      BLOB    NOT NULL,
    created_at  INTEGER NOT NULL
);
`

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// nowNanos returns the store clock as Unix nanoseconds.
func (s *Store) nowNanos() int64 { return s.now().UnixNano() }

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// fromNanos converts stored Unix nanoseconds back to UTC time.
func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
