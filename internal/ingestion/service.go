// Package ingestion implements the document ingestion pipeline: the Service
// accepts uploads, deduplicates them by content and enqueues durable jobs;
// the Pool claims those jobs and runs fetch, verify, extract, chunk, embed
// and index for each one.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/docrag-go/internal/extract"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Repository is the durable metadata the Service reads and writes.
// *store.Store implements it.
type Repository interface {
	// FindByFingerprint returns the document holding checksum for tenantID,
	// or nil, nil.
	FindByFingerprint(ctx context.Context, checksum, tenantID string) (*rag.Document, error)
	// CreateDocumentWithJob inserts doc and its first QUEUED job atomically.
	CreateDocumentWithJob(ctx context.Context, doc *rag.Document, jobID string) (*rag.IngestionJob, error)
	// CreateJob enqueues a job for an existing document.
	CreateJob(ctx context.Context, jobID, documentID string) (*rag.IngestionJob, error)
	// GetDocument returns a document or rag.ErrNotFound.
	GetDocument(ctx context.Context, id string) (*rag.Document, error)
	// ListDocuments returns documents newest first.
	ListDocuments(ctx context.Context, tenantID string, limit int) ([]rag.Document, error)
	// GetJob returns a job or rag.ErrNotFound.
	GetJob(ctx context.Context, id string) (*rag.IngestionJob, error)
	// ListJobs returns the jobs of a document newest first.
	ListJobs(ctx context.Context, documentID string) ([]rag.IngestionJob, error)
	// CancelJob cancels a queued or processing job.
	CancelJob(ctx context.Context, id string) (*rag.IngestionJob, error)
}

// ContentStore holds original upload bytes. *blob.Store implements it.
type ContentStore interface {
	// Put stores data and returns its key.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// SubmitRequest is one upload.
type SubmitRequest struct {
	// Content is the full file bytes.
	Content []byte
	// Filename is the original upload name; its extension selects the format.
	Filename string
	// MIMEType is the declared content type, used when the extension is unknown.
	MIMEType string
	// TenantID scopes deduplication. Empty uses the anonymous tenant.
	TenantID string
	// SourceURL records the remote origin for SubmitURL uploads.
	SourceURL string
	// Title overrides the title derived from Filename.
	Title string
}

// SubmitResult reports the outcome of Submit.
type SubmitResult struct {
	// Accepted is true when the document and its job are durably enqueued.
	Accepted bool `json:"accepted"`
	// DocumentID is the new document, or the existing one for a duplicate.
	DocumentID string `json:"documentId,omitempty"`
	// JobID is the first ingestion job. Empty when not accepted.
	JobID string `json:"jobId,omitempty"`
	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`
}

// DocumentStatus is a document together with its ingestion history.
type DocumentStatus struct {
	// Document is the stored document.
	Document rag.Document `json:"document"`
	// Jobs lists every ingestion job for the document, newest first.
	Jobs []rag.IngestionJob `json:"ingestionJobs"`
}

// Service is the entry point for submitting documents and managing their
// ingestion jobs. It is safe for concurrent use.
type Service struct {
	// repo is the metadata store.
	repo Repository
	// blobs holds the original bytes.
	blobs ContentStore
	// cfg is the resolved configuration.
	cfg Config
	// metrics records submission outcomes.
	metrics *Metrics
	// httpClient downloads SubmitURL documents.
	httpClient *http.Client
	// newID generates document and job IDs.
	newID func() string
}

// NewService constructs a Service. metrics may be nil.
func NewService(repo Repository, blobs ContentStore, cfg Config, metrics *Metrics) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ingestion: repository must not be nil")
	}
	if blobs == nil {
		return nil, fmt.Errorf("ingestion: content store must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	cfg = cfg.withDefaults()
	return &Service{
		repo:       repo,
		blobs:      blobs,
		cfg:        cfg,
		metrics:    metrics,
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
		newID:      uuid.NewString,
	}, nil
}

// Checksum is the lowercase hex SHA-256 of data, the document fingerprint.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ResolveTenant applies the anonymous tenant policy to tenantID.
func (s *Service) ResolveTenant(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID != "" {
		return tenantID, nil
	}
	if s.cfg.RequireTenant {
		return "", fmt.Errorf("ingestion: tenant is required: %w", rag.ErrInvalidInput)
	}
	return s.cfg.AnonymousTenant, nil
}

// Submit validates an upload, rejects content already stored for the tenant,
// writes the bytes to the content store and enqueues the first ingestion job.
//
// A duplicate returns a non-accepted result naming the existing document
// together with a *rag.DuplicateError. Every other rejection returns a nil
// result and a classified error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	log := logging.FromContext(ctx)

	res, err := s.submit(ctx, req)
	switch {
	case err == nil:
		s.metrics.submissionsTotal.WithLabelValues("accepted").Inc()
		log.Info("document accepted",
			slog.String("document_id", res.DocumentID),
			slog.String("job_id", res.JobID),
			slog.String("filename", req.Filename),
		)
	case errors.Is(err, rag.ErrDuplicateContent):
		s.metrics.submissionsTotal.WithLabelValues("duplicate").Inc()
		log.Info("duplicate upload rejected",
			slog.String("document_id", res.DocumentID),
			slog.String("filename", req.Filename),
		)
	default:
		s.metrics.submissionsTotal.WithLabelValues("rejected").Inc()
		log.Warn("upload rejected", slog.String("filename", req.Filename), slog.String("error", err.Error()))
	}
	return res, err
}

// submit is Submit without the logging and metrics.
func (s *Service) submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("ingestion: content is empty: %w", rag.ErrInvalidInput)
	}
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		return nil, fmt.Errorf("ingestion: filename is required: %w", rag.ErrInvalidInput)
	}
	if int64(len(req.Content)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(req.Content), s.cfg.MaxUploadBytes)
	}
	format, err := extract.DetectFormat(filename, req.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	tenant, err := s.ResolveTenant(req.TenantID)
	if err != nil {
		return nil, err
	}

	checksum := Checksum(req.Content)
	existing, err := s.repo.FindByFingerprint(ctx, checksum, tenant)
	if err != nil {
		return nil, fmt.Errorf("ingestion: fingerprint lookup: %v: %w", err, rag.ErrIndexUnavailable)
	}
	if existing != nil {
		return duplicateResult(existing), &rag.DuplicateError{Existing: existing}
	}

	key, err := s.blobs.Put(ctx, req.Content)
	if err != nil {
		return nil, fmt.Errorf("ingestion: store content: %v: %w", err, rag.ErrIndexUnavailable)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = TitleFromFilename(filename)
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = extract.MIMEType(format)
	}
	doc := &rag.Document{
		ID:        s.newID(),
		Title:     title,
		SourceURL: req.SourceURL,
		Filename:  filename,
		MIMEType:  mimeType,
		Format:    string(format),
		Checksum:  checksum,
		TenantID:  tenant,
		BlobKey:   key,
		SizeBytes: int64(len(req.Content)),
	}
	job, err := s.repo.CreateDocumentWithJob(ctx, doc, s.newID())
	if err != nil {
		var de *rag.DuplicateError
		if errors.As(err, &de) {
			return duplicateResult(de.Existing), err
		}
		return nil, fmt.Errorf("ingestion: create document: %v: %w", err, rag.ErrIndexUnavailable)
	}
	return &SubmitResult{Accepted: true, DocumentID: doc.ID, JobID: job.ID}, nil
}

// duplicateResult is the rejection returned for content already stored.
func duplicateResult(existing *rag.Document) *SubmitResult {
	return &SubmitResult{
		Accepted:   false,
		DocumentID: existing.ID,
		Reason:     rag.ErrDuplicateContent.Error(),
	}
}

// SubmitURL downloads rawURL and submits it. Filename and title are inferred
// from the URL and response Content-Type.
func (s *Service) SubmitURL(ctx context.Context, rawURL, tenantID string) (*SubmitResult, error) {
	f, err := s.fetch(ctx, rawURL, s.cfg.MaxUploadBytes)
	if err != nil {
		s.metrics.submissionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	meta := InferMetadata(rawURL, f.contentType)
	return s.Submit(ctx, SubmitRequest{
		Content:   f.data,
		Filename:  meta.Filename,
		MIMEType:  f.contentType,
		TenantID:  tenantID,
		SourceURL: rawURL,
		Title:     meta.Title,
	})
}

// StartIngestion enqueues a new job for documentID, e.g. to re-ingest after
// a failure. It fails with rag.ErrConcurrentIngestion while another job for
// the document is QUEUED or PROCESSING.
func (s *Service) StartIngestion(ctx context.Context, documentID string) (*rag.IngestionJob, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("ingestion: document id is required: %w", rag.ErrInvalidInput)
	}
	job, err := s.repo.CreateJob(ctx, s.newID(), documentID)
	if err != nil {
		return nil, fmt.Errorf("ingestion: start: %w", err)
	}
	logging.FromContext(ctx).Info("ingestion job queued",
		slog.String("document_id", documentID),
		slog.String("job_id", job.ID),
	)
	return job, nil
}

// Cancel cancels a job. A QUEUED job fails immediately; a PROCESSING job is
// flagged and stops before its index write. Terminal jobs return
// rag.ErrInvalidInput.
func (s *Service) Cancel(ctx context.Context, jobID string) (*rag.IngestionJob, error) {
	job, err := s.repo.CancelJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("ingestion: cancel: %w", err)
	}
	logging.FromContext(ctx).Info("cancellation requested",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
	return job, nil
}

// GetDocument returns a document and its jobs, newest first.
func (s *Service) GetDocument(ctx context.Context, id string) (*DocumentStatus, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	jobs, err := s.repo.ListJobs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	return &DocumentStatus{Document: *doc, Jobs: jobs}, nil
}

// GetJob returns a single job.
func (s *Service) GetJob(ctx context.Context, id string) (*rag.IngestionJob, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	return job, nil
}

// ListDocuments returns up to limit documents for tenantID, newest first.
// An empty tenantID lists every tenant.
func (s *Service) ListDocuments(ctx context.Context, tenantID string, limit int) ([]rag.Document, error) {
	docs, err := s.repo.ListDocuments(ctx, strings.TrimSpace(tenantID), limit)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	return docs, nil
}
