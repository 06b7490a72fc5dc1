package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written on every Qdrant point.
const (
	payloadDocumentID = "document_id"
	payloadTenantID   = "tenant_id"
	payloadIndex      = "index"
	payloadText       = "text"
	payloadPage       = "page"
	payloadGeneration = "generation"
)

// qdrantOversample widens each query so hits from superseded generations
// can be dropped without starving the result set.
const qdrantOversample = 3

// pointNamespace seeds deterministic UUIDv5 point IDs.
var pointNamespace = uuid.MustParse("7b0f3c1e-6a0d-4f43-9e7e-2c5a9d7f1b20")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxK caps every search.
	MaxK int
}

// QdrantIndex implements VectorIndex backed by a Qdrant instance.
// Every point is tagged with its write generation; the active generation per
// document lives in a GenerationStore, and search drops hits from any other
// generation. Flipping the pointer is therefore the visibility boundary.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig

	// gens holds the active-generation pointers.
	gens GenerationStore
}

// NewQdrantIndex creates a new QdrantIndex, ensuring the target collection
// and its payload indexes exist.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig, gens GenerationStore) (*QdrantIndex, error) {
	if gens == nil {
		return nil, fmt.Errorf("qdrant: generation store must not be nil")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "docrag-chunks"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg, gens: gens}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// Client exposes the gRPC client for readiness checks.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

// ensureCollection creates the collection and keyword indexes if missing.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %v: %w", err, ErrIndexUnavailable)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %v: %w", q.cfg.Collection, err, ErrIndexUnavailable)
	}

	for _, field := range []string{payloadDocumentID, payloadTenantID} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.cfg.Collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to index payload field %q: %v: %w", field, err, ErrIndexUnavailable)
		}
	}
	return nil
}

// Replace upserts chunks under a fresh generation, activates it, then
// deletes every other generation of the document.
func (q *QdrantIndex) Replace(ctx context.Context, documentID string, chunks []Chunk) error {
	sorted, _, err := validateChunks(documentID, chunks, int(q.cfg.VectorSize)) //nolint:gosec // dimensions are bounded
	if err != nil {
		return fmt.Errorf("qdrant: replace %s: %w", documentID, err)
	}

	if len(sorted) == 0 {
		if err := q.gens.Deactivate(ctx, documentID); err != nil {
			return fmt.Errorf("qdrant: %v: %w", err, ErrIndexUnavailable)
		}
		return q.collect(ctx, documentID, 0)
	}

	gen := NewGeneration()
	points := make([]*qdrant.PointStruct, 0, len(sorted))
	for _, c := range sorted {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(documentID, gen, c.Index)),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: documentID,
				payloadTenantID:   c.TenantID,
				payloadIndex:      int64(c.Index),
				payloadText:       c.Text,
				payloadPage:       int64(c.Page),
				payloadGeneration: gen,
			}),
		})
	}

	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant: upsert failed: %v: %w", err, ErrIndexUnavailable)
	}

	if _, err := q.gens.Activate(ctx, documentID, gen); err != nil {
		return fmt.Errorf("qdrant: activate generation: %v: %w", err, ErrIndexUnavailable)
	}
	return q.collect(ctx, documentID, gen)
}

// collect deletes every point of documentID whose generation is not keep.
// With keep == 0 the whole document is removed.
func (q *QdrantIndex) collect(ctx context.Context, documentID string, keep int64) error {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentID, documentID)},
	}
	if keep != 0 {
		filter.MustNot = []*qdrant.Condition{qdrant.NewMatchInt(payloadGeneration, keep)}
	}
	wait := true
	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	}); err != nil {
		return fmt.Errorf("qdrant: delete old generations of %s: %v: %w", documentID, err, ErrIndexUnavailable)
	}
	return nil
}

// Search performs a cosine similarity search and returns the top-k hits
// from active generations only.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int, filter *Filter) ([]SearchHit, error) {
	if uint64(len(query)) != q.cfg.VectorSize {
		return nil, fmt.Errorf("qdrant: query has %d dimensions, collection has %d: %w", len(query), q.cfg.VectorSize, ErrDimensionMismatch)
	}
	k = boundK(k, q.cfg.MaxK)
	limit := uint64(k * qdrantOversample) //nolint:gosec // k is bounded

	req := &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if f := qdrantFilter(filter); f != nil {
		req.Filter = f
	}
	results, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %v: %w", err, ErrIndexUnavailable)
	}

	hits := make([]SearchHit, 0, len(results))
	pointGens := make([]int64, 0, len(results))
	seen := make(map[string]bool)
	var docIDs []string
	for _, r := range results {
		p := r.GetPayload()
		docID := p[payloadDocumentID].GetStringValue()
		if !seen[docID] {
			seen[docID] = true
			docIDs = append(docIDs, docID)
		}
		hits = append(hits, SearchHit{
			Chunk: Chunk{
				DocumentID: docID,
				TenantID:   p[payloadTenantID].GetStringValue(),
				Index:      int(p[payloadIndex].GetIntegerValue()),
				Text:       p[payloadText].GetStringValue(),
				Page:       int(p[payloadPage].GetIntegerValue()),
			},
			Score: float64(r.GetScore()),
		})
		pointGens = append(pointGens, p[payloadGeneration].GetIntegerValue())
	}

	active, err := q.gens.Active(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("qdrant: load active generations: %v: %w", err, ErrIndexUnavailable)
	}

	visible := make([]SearchHit, 0, len(hits))
	for i, h := range hits {
		if want, ok := active[h.Chunk.DocumentID]; ok && pointGens[i] == want {
			visible = append(visible, h)
		}
	}
	SortHits(visible)
	if len(visible) > k {
		visible = visible[:k]
	}
	return visible, nil
}

// Count returns the number of points in the active generation of documentID.
func (q *QdrantIndex) Count(ctx context.Context, documentID string) (int, error) {
	active, err := q.gens.Active(ctx, []string{documentID})
	if err != nil {
		return 0, fmt.Errorf("qdrant: %v: %w", err, ErrIndexUnavailable)
	}
	gen, ok := active[documentID]
	if !ok {
		return 0, nil
	}
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadDocumentID, documentID),
			qdrant.NewMatchInt(payloadGeneration, gen),
		}},
		Exact: &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %v: %w", err, ErrIndexUnavailable)
	}
	return int(n), nil //nolint:gosec // counts are bounded
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// qdrantFilter translates a Filter into Qdrant payload conditions.
func qdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil || (f.DocumentID == "" && f.TenantID == "") {
		return nil
	}
	var must []*qdrant.Condition
	if f.DocumentID != "" {
		must = append(must, qdrant.NewMatch(payloadDocumentID, f.DocumentID))
	}
	if f.TenantID != "" {
		must = append(must, qdrant.NewMatch(payloadTenantID, f.TenantID))
	}
	return &qdrant.Filter{Must: must}
}

// pointID derives a stable UUIDv5 for one chunk of one generation.
func pointID(documentID string, gen int64, index int) string {
	return uuid.NewSHA1(pointNamespace, fmt.Appendf(nil, "%s/%d/%d", documentID, gen, index)).String()
}
