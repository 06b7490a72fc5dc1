package rag

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by every docrag component. Callers match them with
// errors.Is; wrapping layers add context with fmt.Errorf("...: %w", err).
var (
	// ErrInvalidInput is malformed or empty request data. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateContent rejects an upload whose bytes already exist for the
	// tenant. Returned wrapped in a *DuplicateError.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrConcurrentIngestion rejects a second active job for a document.
	ErrConcurrentIngestion = errors.New("concurrent ingestion")

	// ErrEmbeddingUnavailable is an upstream embedding failure or timeout.
	// Recoverable.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrIndexUnavailable is a vector index or storage failure. Recoverable.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationUnavailable is a failed or timed-out call to the answer
	// generation model. Only the query path produces it.
	ErrGenerationUnavailable = errors.New("generation model unavailable")

	// ErrUnsupportedFormat is a document type the extractor cannot read. Fatal.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCorruptContent is unreadable or tampered content. Fatal.
	ErrCorruptContent = errors.New("corrupt content")

	// ErrNoRelevantContext marks a query with no chunk above the relevance
	// threshold. It is an outcome, not a failure.
	ErrNoRelevantContext = errors.New("no relevant context")

	// ErrNotFound is an unknown document or job.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch is a vector whose length differs from the index
	// dimension. Fatal during ingestion.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DuplicateError carries the existing document for a rejected upload.
type DuplicateError struct {
	// Existing is the document that already holds the same content.
	Existing *Document
}

// Error implements error.
func (e *DuplicateError) Error() string {
	if e.Existing == nil {
		return ErrDuplicateContent.Error()
	}
	return fmt.Sprintf("%s: matches document %s", ErrDuplicateContent, e.Existing.ID)
}

// Unwrap lets errors.Is(err, ErrDuplicateContent) match.
func (e *DuplicateError) Unwrap() error { return ErrDuplicateContent }

// Fatal reports whether err must send a job straight to FAILED.
func Fatal(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrCorruptContent) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotFound)
}

// Recoverable reports whether a job that failed with err may be retried.
// Fatal classes always win over transient ones in a wrapped chain.
func Recoverable(err error) bool {
	if err == nil || Fatal(err) {
		return false
	}
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrIndexUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// Kind returns a stable snake_case name for err, used in API results and
// metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDuplicateContent):
		return "duplicate_content"
	case errors.Is(err, ErrConcurrentIngestion):
		return "concurrent_ingestion"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, ErrGenerationUnavailable):
		return "generation_unavailable"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrCorruptContent):
		return "corrupt_content"
	case errors.Is(err, ErrNoRelevantContext):
		return "no_relevant_context"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
