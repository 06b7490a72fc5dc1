package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// statusFor maps a domain error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingestion.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrJobFinished),
		errors.Is(err, rag.ErrDuplicateContent),
		errors.Is(err, rag.ErrConcurrentIngestion):
		return http.StatusConflict
	case errors.Is(err, rag.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, rag.ErrCorruptContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rag.ErrEmbeddingUnavailable),
		errors.Is(err, rag.ErrIndexUnavailable),
		errors.Is(err, rag.ErrGenerationUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it as an errorResponse. Internal errors are
// not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context())
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, r, status, errorResponse{Error: msg, Kind: rag.Kind(err)})
}

// writeJSONError writes a plain request-validation failure.
func writeJSONError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	writeJSON(w, r, status, errorResponse{Error: msg, Kind: "invalid_input"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
