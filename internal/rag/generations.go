package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// GenerationStore holds the active-generation pointer per document. A chunk
// set becomes visible the moment its generation is activated.
type GenerationStore interface {
	// Active returns the active generation for each of documentIDs that has
	// one. Documents never activated are absent from the map.
	Active(ctx context.Context, documentIDs []string) (map[string]int64, error)
	// Activate points documentID at gen and returns the previous generation
	// (0 when none).
	Activate(ctx context.Context, documentID string, gen int64) (int64, error)
	// Deactivate removes the pointer so the document has no visible chunks.
	Deactivate(ctx context.Context, documentID string) error
}

// generationsDDL creates the pointer table. Shared by SQLGenerations and
// SQLiteIndex.
const generationsDDL = `
CREATE TABLE IF NOT EXISTS index_generations (
    document_id  TEXT    PRIMARY KEY,
    generation   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL  -- Unix nanoseconds
);
`

// SQLGenerations is a GenerationStore over a SQLite database.
type SQLGenerations struct {
	// db is the shared database handle.
	db *sqlx.DB
}

// NewSQLGenerations creates the pointer table if needed and returns the store.
func NewSQLGenerations(db *sqlx.DB) (*SQLGenerations, error) {
	if _, err := db.Exec(generationsDDL); err != nil {
		return nil, fmt.Errorf("generations: migrate: %w", err)
	}
	return &SQLGenerations{db: db}, nil
}

// Active returns the active generation for each known document.
func (g *SQLGenerations) Active(ctx context.Context, documentIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT document_id, generation FROM index_generations WHERE document_id IN (?)`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("generations: build query: %w", err)
	}
	var rows []struct {
		DocumentID string `db:"document_id"`
		Generation int64  `db:"generation"`
	}
	if err := g.db.SelectContext(ctx, &rows, g.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("generations: active: %w", err)
	}
	for _, r := range rows {
		out[r.DocumentID] = r.Generation
	}
	return out, nil
}

// Activate swaps the pointer for documentID to gen.
func (g *SQLGenerations) Activate(ctx context.Context, documentID string, gen int64) (int64, error) {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("generations: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := activate(ctx, tx, documentID, gen)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("generations: commit: %w", err)
	}
	return prev, nil
}

// Deactivate removes the pointer for documentID.
func (g *SQLGenerations) Deactivate(ctx context.Context, documentID string) error {
	if _, err := g.db.ExecContext(ctx, `DELETE FROM index_generations WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("generations: deactivate %s: %w", documentID, err)
	}
	return nil
}

// activate upserts the pointer inside an open transaction and returns the
// previous generation.
func activate(ctx context.Context, tx *sqlx.Tx, documentID string, gen int64) (int64, error) {
	var prev int64
	err := tx.GetContext(ctx, &prev, `SELECT generation FROM index_generations WHERE document_id = ?`, documentID)
	if err != nil && !isNoRows(err) {
		return 0, fmt.Errorf("generations: read %s: %w", documentID, err)
	}
	const q = `
INSERT INTO index_generations (document_id, generation, updated_at) VALUES (?, ?, ?)
ON CONFLICT(document_id) DO UPDATE SET generation = excluded.generation, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, documentID, gen, time.Now().UnixNano()); err != nil {
		return 0, fmt.Errorf("generations: activate %s: %w", documentID, err)
	}
	return prev, nil
}

// NewGeneration returns a fresh, strictly increasing generation tag.
// Each write attempt gets its own tag so leftovers from a failed attempt are
// never mistaken for a committed set.
func NewGeneration() int64 {
	for {
		last := lastGeneration.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if lastGeneration.CompareAndSwap(last, next) {
			return next
		}
	}
}
