package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/54b3r/docrag-go/internal/rag"
)

// GetEmbeddings returns the cached vectors for the keys present.
// It implements embedder.Cache.
func (s *Store) GetEmbeddings(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	// Stay well under SQLite's bound-parameter limit.
	const batch = 500
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		q, args, err := sqlx.In(`SELECT key, vector FROM embedding_cache WHERE key IN (?)`, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("store: build cache query: %w", err)
		}
		var rows []struct {
			Key    string `db:"key"`
			Vector []byte `db:"vector"`
		}
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
			return nil, fmt.Errorf("store: read embedding cache: %w", err)
		}
		for _, r := range rows {
			out[r.Key] = rag.BytesToFloats(r.Vector)
		}
	}
	return out, nil
}

// PutEmbeddings stores vectors by key, replacing existing entries.
func (s *Store) PutEmbeddings(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin cache write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowNanos()
	for k, v := range vectors {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO embedding_cache (key, vector, created_at) VALUES (?, ?, ?)`,
			k, rag.FloatsToBytes(v), now); err != nil {
			return fmt.Errorf("store: write embedding cache: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit cache write: %w", err)
	}
	return nil
}
