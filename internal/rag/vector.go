package rag

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b. Zero-norm vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortHits orders hits by descending score, then lower chunk index, then
// lower document ID, so equal scores always come back in the same order.
func SortHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Index != b.Chunk.Index {
			return a.Chunk.Index < b.Chunk.Index
		}
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	})
}

// boundK resolves the requested result count against the default and cap.
func boundK(k, maxK int) int {
	if maxK <= 0 {
		maxK = DefaultMaxK
	}
	if k <= 0 {
		k = DefaultTopK
	}
	if k > maxK {
		k = maxK
	}
	return k
}

// validateChunks checks that chunks belong to documentID, carry contiguous
// indices starting at zero, and share one vector length. It returns the
// chunks sorted by index and their dimension (0 for an empty set).
// want > 0 pins the expected dimension.
func validateChunks(documentID string, chunks []Chunk, want int) ([]Chunk, int, error) {
	if documentID == "" {
		return nil, 0, fmt.Errorf("rag: document id is required: %w", ErrInvalidInput)
	}
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	dim := want
	for i, c := range sorted {
		if c.DocumentID != documentID {
			return nil, 0, fmt.Errorf("rag: chunk %d belongs to %q, not %q: %w", c.Index, c.DocumentID, documentID, ErrInvalidInput)
		}
		if c.Index != i {
			return nil, 0, fmt.Errorf("rag: chunk indices must be contiguous from 0, found %d at position %d: %w", c.Index, i, ErrInvalidInput)
		}
		if dim == 0 {
			dim = len(c.Vector)
		}
		if len(c.Vector) == 0 || len(c.Vector) != dim {
			return nil, 0, fmt.Errorf("rag: chunk %d has %d dimensions, index expects %d: %w", c.Index, len(c.Vector), dim, ErrDimensionMismatch)
		}
	}
	if len(sorted) == 0 {
		dim = want
	}
	return sorted, dim, nil
}

// FloatsToBytes encodes v as little-endian float32 values.
func FloatsToBytes(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// BytesToFloats decodes a buffer produced by FloatsToBytes.
func BytesToFloats(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
