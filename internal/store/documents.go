package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/54b3r/docrag-go/internal/rag"
)

// documentRow is the scanned shape of the documents table.
type documentRow struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	SourceURL string `db:"source_url"`
	Filename  string `db:"filename"`
	MIMEType  string `db:"mime_type"`
	Format    string `db:"format"`
	Checksum  string `db:"checksum"`
	TenantID  string `db:"tenant_id"`
	BlobKey   string `db:"blob_key"`
	SizeBytes int64  `db:"size_bytes"`
	CreatedAt int64  `db:"created_at"`
}

// document converts the row to its domain type.
func (r documentRow) document() *rag.Document {
	return &rag.Document{
		ID:        r.ID,
		Title:     r.Title,
		SourceURL: r.SourceURL,
		Filename:  r.Filename,
		MIMEType:  r.MIMEType,
		Format:    r.Format,
		Checksum:  r.Checksum,
		TenantID:  r.TenantID,
		BlobKey:   r.BlobKey,
		SizeBytes: r.SizeBytes,
		CreatedAt: fromNanos(r.CreatedAt),
	}
}

// documentColumns is the select list matching documentRow.
const documentColumns = `id, title, source_url, filename, mime_type, format, checksum, tenant_id, blob_key, size_bytes, created_at`

// FindByFingerprint returns the document holding checksum for tenantID, or
// nil, nil when there is none.
func (s *Store) FindByFingerprint(ctx context.Context, checksum, tenantID string) (*rag.Document, error) {
	return s.findByFingerprint(ctx, s.db, checksum, tenantID)
}

// findByFingerprint is FindByFingerprint against any queryer (db or tx).
func (s *Store) findByFingerprint(ctx context.Context, q sqlx.QueryerContext, checksum, tenantID string) (*rag.Document, error) {
	var row documentRow
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT `+documentColumns+` FROM documents WHERE checksum = ? AND tenant_id = ?`, checksum, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find by fingerprint: %w", err)
	}
	return row.document(), nil
}

// CreateDocumentWithJob inserts doc and its first QUEUED job in one
// transaction. doc.CreatedAt and the job fields are filled in. When another
// upload of the same bytes for the same tenant won a race, the error is a
// *rag.DuplicateError carrying the winner.
func (s *Store) CreateDocumentWithJob(ctx context.Context, doc *rag.Document, jobID string) (*rag.IngestionJob, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowNanos()
	const insDoc = `
INSERT INTO documents (` + documentColumns + `)
VALUES (:id, :title, :source_url, :filename, :mime_type, :format, :checksum, :tenant_id, :blob_key, :size_bytes, :created_at)`
	row := documentRow{
		ID:        doc.ID,
		Title:     doc.Title,
		SourceURL: doc.SourceURL,
		Filename:  doc.Filename,
		MIMEType:  doc.MIMEType,
		Format:    doc.Format,
		Checksum:  doc.Checksum,
		TenantID:  doc.TenantID,
		BlobKey:   doc.BlobKey,
		SizeBytes: doc.SizeBytes,
		CreatedAt: now,
	}
	if _, err := tx.NamedExecContext(ctx, insDoc, row); err != nil {
		if isUniqueViolation(err) {
			existing, ferr := s.findByFingerprint(ctx, tx, doc.Checksum, doc.TenantID)
			if ferr == nil && existing != nil {
				return nil, &rag.DuplicateError{Existing: existing}
			}
		}
		return nil, fmt.Errorf("store: insert document: %w", err)
	}

	job, err := insertJob(ctx, tx, jobID, doc.ID, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	doc.CreatedAt = fromNanos(now)
	return job, nil
}

// GetDocument returns the document with id, or rag.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: document %s: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	return row.document(), nil
}

// ListDocuments returns up to limit documents, newest first. An empty
// tenantID lists every tenant.
func (s *Store) ListDocuments(ctx context.Context, tenantID string, limit int) ([]rag.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + documentColumns + ` FROM documents
WHERE (? = '' OR tenant_id = ?)
ORDER BY created_at DESC, id DESC
LIMIT ?`
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, q, tenantID, tenantID, limit); err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	out := make([]rag.Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.document())
	}
	return out, nil
}
