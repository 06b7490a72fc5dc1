package rag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryIndex is a VectorIndex held entirely in process memory.
// Writers build a new snapshot and publish it with a single pointer swap, so
// readers never take a lock and never see a half-replaced document.
type MemoryIndex struct {
	// maxK caps every search.
	maxK int
	// mu serialises writers; readers only load snap.
	mu sync.Mutex
	// snap is the currently published snapshot.
	snap atomic.Pointer[memorySnapshot]
}

// memorySnapshot is an immutable view of the index.
type memorySnapshot struct {
	// dim is the vector length shared by every chunk (0 while empty).
	dim int
	// docs maps document ID to its chunk set, sorted by index.
	docs map[string][]Chunk
}

// NewMemoryIndex constructs an empty MemoryIndex. dim pins the vector length
// when > 0; otherwise the first non-empty Replace fixes it.
func NewMemoryIndex(dim, maxK int) *MemoryIndex {
	idx := &MemoryIndex{maxK: maxK}
	idx.snap.Store(&memorySnapshot{dim: dim, docs: map[string][]Chunk{}})
	return idx
}

// Replace publishes a new snapshot in which documentID owns exactly chunks.
func (m *MemoryIndex) Replace(ctx context.Context, documentID string, chunks []Chunk) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory index: replace: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	sorted, dim, err := validateChunks(documentID, chunks, cur.dim)
	if err != nil {
		return fmt.Errorf("memory index: replace %s: %w", documentID, err)
	}

	next := &memorySnapshot{dim: dim, docs: make(map[string][]Chunk, len(cur.docs)+1)}
	for id, cs := range cur.docs {
		next.docs[id] = cs
	}
	if len(sorted) == 0 {
		delete(next.docs, documentID)
	} else {
		for i := range sorted {
			sorted[i].Vector = append([]float32(nil), sorted[i].Vector...)
		}
		next.docs[documentID] = sorted
	}
	m.snap.Store(next)
	return nil
}

// Search scans the current snapshot and returns the top-k hits.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter *Filter) ([]SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory index: search: %w", err)
	}
	snap := m.snap.Load()
	if len(snap.docs) == 0 {
		return nil, nil
	}
	if len(query) != snap.dim {
		return nil, fmt.Errorf("memory index: query has %d dimensions, index has %d: %w", len(query), snap.dim, ErrDimensionMismatch)
	}

	var hits []SearchHit
	for _, cs := range snap.docs {
		for _, c := range cs {
			if !filter.Matches(c) {
				continue
			}
			hit := c
			hit.Vector = nil
			hits = append(hits, SearchHit{Chunk: hit, Score: Cosine(query, c.Vector)})
		}
	}
	SortHits(hits)
	if k = boundK(k, m.maxK); len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of chunks visible for documentID.
func (m *MemoryIndex) Count(_ context.Context, documentID string) (int, error) {
	return len(m.snap.Load().docs[documentID]), nil
}

// Close is a no-op for the in-memory index.
func (m *MemoryIndex) Close() error { return nil }
