package rag

import (
	"fmt"
	"time"
)

// Document is an accepted upload. Its dedup identity is (Checksum, TenantID);
// ID is the durable primary key.
type Document struct {
	// ID is the document's primary key (UUIDv4).
	ID string `json:"id"`
	// Title is a human-readable display name derived from the upload.
	Title string `json:"title"`
	// SourceURL is the remote origin when the document was submitted by URL.
	SourceURL string `json:"sourceUrl,omitempty"`
	// Filename is the original upload filename.
	Filename string `json:"filename"`
	// MIMEType is the content type declared at upload.
	MIMEType string `json:"mimeType"`
	// Format is the detected format used for text extraction (pdf, text, markdown, json, html).
	Format string `json:"format"`
	// Checksum is the lowercase hex SHA-256 of the full file bytes.
	Checksum string `json:"checksum"`
	// TenantID scopes deduplication and retrieval.
	TenantID string `json:"tenantId"`
	// BlobKey addresses the original bytes in the content store.
	BlobKey string `json:"-"`
	// SizeBytes is the length of the original upload.
	SizeBytes int64 `json:"sizeBytes"`
	// CreatedAt is when the upload was accepted.
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatus is the lifecycle state of an IngestionJob.
type JobStatus string

const (
	// JobQueued is waiting in the queue for a worker.
	JobQueued JobStatus = "QUEUED"
	// JobProcessing has been claimed by a worker.
	JobProcessing JobStatus = "PROCESSING"
	// JobSucceeded finished and its chunks are visible in the index.
	JobSucceeded JobStatus = "SUCCEEDED"
	// JobFailed finished without indexing; LastError holds the cause.
	JobFailed JobStatus = "FAILED"
)

// ParseJobStatus converts a stored string into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("rag: unknown job status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the four known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobProcessing, JobSucceeded, JobFailed:
		return true
	default:
		return false
	}
}

// Active reports whether the job still counts against the one-active-job
// rule for its document.
func (s JobStatus) Active() bool {
	switch s {
	case JobQueued, JobProcessing:
		return true
	case JobSucceeded, JobFailed:
		return false
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed:
		return true
	case JobQueued, JobProcessing:
		return false
	default:
		return false
	}
}

// IngestionJob tracks one attempt sequence at indexing a document.
type IngestionJob struct {
	// ID is the job's primary key (UUIDv4).
	ID string `json:"id"`
	// DocumentID is the document being ingested.
	DocumentID string `json:"documentId"`
	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`
	// Attempts counts how many times a worker has claimed this job.
	Attempts int `json:"attempts"`
	// LastError is the most recent failure cause. Cleared on success.
	LastError string `json:"lastError,omitempty"`
	// CancelRequested is set when Cancel was called while PROCESSING.
	CancelRequested bool `json:"cancelRequested,omitempty"`
	// RunAfter is the earliest time a worker may claim the job again.
	RunAfter time.Time `json:"runAfter"`
	// CreatedAt is when the job was enqueued.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is the time of the last transition.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chunk is a bounded slice of a document's text and its embedding.
type Chunk struct {
	// DocumentID is the owning document.
	DocumentID string `json:"documentId"`
	// TenantID is copied from the document so searches can be tenant-scoped.
	TenantID string `json:"tenantId"`
	// Index is the zero-based, gap-free ordinal within the document.
	Index int `json:"index"`
	// Text is the chunk content.
	Text string `json:"text"`
	// Vector is the embedding of Text.
	Vector []float32 `json:"-"`
	// Page is the 1-based source page, or 0 when the format has no pages.
	Page int `json:"page,omitempty"`
}

// SearchHit is a chunk returned by similarity search.
type SearchHit struct {
	// Chunk is the matched chunk. Vector may be nil.
	Chunk Chunk
	// Score is the cosine similarity between the query and the chunk.
	Score float64
}

// Filter restricts a search. Empty fields are ignored.
type Filter struct {
	// DocumentID limits results to a single document.
	DocumentID string
	// TenantID limits results to a single tenant.
	TenantID string
}

// Matches reports whether c passes the filter. A nil filter matches everything.
func (f *Filter) Matches(c Chunk) bool {
	if f == nil {
		return true
	}
	if f.DocumentID != "" && c.DocumentID != f.DocumentID {
		return false
	}
	if f.TenantID != "" && c.TenantID != f.TenantID {
		return false
	}
	return true
}

// Outcome classifies how a query was answered.
type Outcome string

const (
	// OutcomeAnswered means the generation model produced a grounded answer.
	OutcomeAnswered Outcome = "answered"
	// OutcomeNoRelevantContext means nothing passed the relevance threshold
	// and the model was not called.
	OutcomeNoRelevantContext Outcome = "no_relevant_context"
	// OutcomeFallback means a failure was converted into a graceful answer.
	OutcomeFallback Outcome = "fallback"
)

// Citation points from an answer back to a chunk that was in the context.
type Citation struct {
	// DocumentID is the cited chunk's document.
	DocumentID string `json:"documentId"`
	// Index is the cited chunk's ordinal.
	Index int `json:"index"`
	// Text is the cited chunk's content.
	Text string `json:"text"`
	// Page is the cited chunk's page, omitted when unknown.
	Page int `json:"page,omitempty"`
	// Score is the retrieval similarity of the cited chunk.
	Score float64 `json:"score"`
}

// QueryResult is the ephemeral answer to a question.
type QueryResult struct {
	// Answer is the generated (or deterministic fallback) answer text.
	Answer string `json:"answer"`
	// Citations lists the context chunks supporting the answer.
	Citations []Citation `json:"citations"`
	// Confidence is a normalised score in [0,1], nil when not produced.
	Confidence *float64 `json:"confidence,omitempty"`
	// Model names the generation model that produced Answer.
	Model string `json:"model,omitempty"`
	// Outcome classifies the result.
	Outcome Outcome `json:"outcome"`
	// Error is the error kind when Outcome is fallback.
	Error string `json:"error,omitempty"`
}
