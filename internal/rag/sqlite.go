package rag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

// lastGeneration backs NewGeneration.
var lastGeneration atomic.Int64

// SQLiteIndex is a VectorIndex stored in SQLite and searched by brute-force
// cosine similarity. Vectors are kept as little-endian float32 blobs.
// Only chunks whose generation matches index_generations are visible, and a
// Replace writes, flips and collects inside one transaction.
type SQLiteIndex struct {
	// db is the shared database handle (usually the store's).
	db *sqlx.DB
	// maxK caps every search.
	maxK int
}

// sqliteIndexDDL creates the chunk and metadata tables.
const sqliteIndexDDL = `
CREATE TABLE IF NOT EXISTS index_chunks (
    document_id  TEXT    NOT NULL,
    generation   INTEGER NOT NULL,
    chunk_index  INTEGER NOT NULL,
    tenant_id    TEXT    NOT NULL,
    page         INTEGER NOT NULL DEFAULT 0,
    text         TEXT    NOT NULL,
    vector       BLOB    NOT NULL,
    PRIMARY KEY (document_id, generation, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_index_chunks_tenant ON index_chunks (tenant_id);
CREATE TABLE IF NOT EXISTS index_meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
`

// NewSQLiteIndex migrates the index tables on db and returns the index.
func NewSQLiteIndex(db *sqlx.DB, maxK int) (*SQLiteIndex, error) {
	if _, err := db.Exec(generationsDDL + sqliteIndexDDL); err != nil {
		return nil, fmt.Errorf("sqlite index: migrate: %w", err)
	}
	return &SQLiteIndex{db: db, maxK: maxK}, nil
}

// chunkRow is the scanned shape of index_chunks joined to the active pointer.
type chunkRow struct {
	DocumentID string `db:"document_id"`
	ChunkIndex int    `db:"chunk_index"`
	TenantID   string `db:"tenant_id"`
	Page       int    `db:"page"`
	Text       string `db:"text"`
	Vector     []byte `db:"vector"`
}

// Replace writes chunks under a fresh generation, activates it, and deletes
// every other generation of the document in a single transaction.
func (s *SQLiteIndex) Replace(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite index: begin: %v: %w", err, ErrIndexUnavailable)
	}
	defer func() { _ = tx.Rollback() }()

	dim, err := s.dimension(ctx, tx)
	if err != nil {
		return err
	}
	sorted, got, err := validateChunks(documentID, chunks, dim)
	if err != nil {
		return fmt.Errorf("sqlite index: replace %s: %w", documentID, err)
	}
	if dim == 0 && got > 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES ('dimension', ?)`, strconv.Itoa(got)); err != nil {
			return fmt.Errorf("sqlite index: pin dimension: %v: %w", err, ErrIndexUnavailable)
		}
	}

	if len(sorted) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_generations WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("sqlite index: deactivate %s: %v: %w", documentID, err, ErrIndexUnavailable)
		}
	} else {
		gen := NewGeneration()
		const ins = `
INSERT INTO index_chunks (document_id, generation, chunk_index, tenant_id, page, text, vector)
VALUES (?, ?, ?, ?, ?, ?, ?)`
		for _, c := range sorted {
			if _, err := tx.ExecContext(ctx, ins, documentID, gen, c.Index, c.TenantID, c.Page, c.Text, FloatsToBytes(c.Vector)); err != nil {
				return fmt.Errorf("sqlite index: insert chunk %d: %v: %w", c.Index, err, ErrIndexUnavailable)
			}
		}
		if _, err := activate(ctx, tx, documentID, gen); err != nil {
			return fmt.Errorf("sqlite index: %v: %w", err, ErrIndexUnavailable)
		}
	}

	const gc = `
DELETE FROM index_chunks
WHERE document_id = ?
  AND generation != COALESCE((SELECT generation FROM index_generations WHERE document_id = ?), -1)`
	if _, err := tx.ExecContext(ctx, gc, documentID, documentID); err != nil {
		return fmt.Errorf("sqlite index: collect old generations: %v: %w", err, ErrIndexUnavailable)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite index: commit: %v: %w", err, ErrIndexUnavailable)
	}
	return nil
}

// Search scores every visible chunk that passes filter against query.
func (s *SQLiteIndex) Search(ctx context.Context, query []float32, k int, filter *Filter) ([]SearchHit, error) {
	dim, err := s.dimension(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if len(query) != dim {
		return nil, fmt.Errorf("sqlite index: query has %d dimensions, index has %d: %w", len(query), dim, ErrDimensionMismatch)
	}

	var f Filter
	if filter != nil {
		f = *filter
	}
	const q = `
SELECT c.document_id, c.chunk_index, c.tenant_id, c.page, c.text, c.vector
FROM   index_chunks c
JOIN   index_generations g ON g.document_id = c.document_id AND g.generation = c.generation
WHERE  (? = '' OR c.document_id = ?)
  AND  (? = '' OR c.tenant_id = ?)`
	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, q, f.DocumentID, f.DocumentID, f.TenantID, f.TenantID); err != nil {
		return nil, fmt.Errorf("sqlite index: search: %v: %w", err, ErrIndexUnavailable)
	}

	hits := make([]SearchHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, SearchHit{
			Chunk: Chunk{
				DocumentID: r.DocumentID,
				TenantID:   r.TenantID,
				Index:      r.ChunkIndex,
				Text:       r.Text,
				Page:       r.Page,
			},
			Score: Cosine(query, BytesToFloats(r.Vector)),
		})
	}
	SortHits(hits)
	if k = boundK(k, s.maxK); len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of visible chunks for documentID.
func (s *SQLiteIndex) Count(ctx context.Context, documentID string) (int, error) {
	const q = `
SELECT COUNT(*) FROM index_chunks c
JOIN index_generations g ON g.document_id = c.document_id AND g.generation = c.generation
WHERE c.document_id = ?`
	var n int
	if err := s.db.GetContext(ctx, &n, q, documentID); err != nil {
		return 0, fmt.Errorf("sqlite index: count: %v: %w", err, ErrIndexUnavailable)
	}
	return n, nil
}

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLiteIndex) Close() error { return nil }

// Ping checks the database is reachable.
func (s *SQLiteIndex) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite index: ping: %w", err)
	}
	return nil
}

// dimension returns the pinned vector length, or 0 before the first write.
func (s *SQLiteIndex) dimension(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var v string
	err := sqlx.GetContext(ctx, q, &v, `SELECT value FROM index_meta WHERE key = 'dimension'`)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite index: read dimension: %v: %w", err, ErrIndexUnavailable)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("sqlite index: bad stored dimension %q: %w", v, ErrCorruptContent)
	}
	return n, nil
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
