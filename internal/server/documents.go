package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// multipartMemory is the in-memory part of a parsed upload; the rest spills
// to temporary files.
const multipartMemory = 8 << 20

// handleSubmit handles POST /api/documents. The multipart form carries the
// upload in "file" plus optional "tenantId", "sourceUrl" and "title". A form
// with a sourceUrl and no file downloads the URL instead.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	// Leave headroom for the multipart envelope so an upload of exactly
	// MaxUploadBytes reaches the service's own size check.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, fmt.Errorf("server: upload exceeds %d bytes: %w", s.cfg.MaxUploadBytes, ingestion.ErrTooLarge))
			return
		}
		writeJSONError(w, r, "expected a multipart/form-data body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	tenantID := strings.TrimSpace(r.FormValue("tenantId"))
	sourceURL := strings.TrimSpace(r.FormValue("sourceUrl"))

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) && sourceURL != "" {
		res, err := s.docs.SubmitURL(r.Context(), sourceURL, tenantID)
		s.writeSubmitResult(w, r, res, err)
		return
	}
	if err != nil {
		writeJSONError(w, r, `form field "file" is required`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, r, "could not read upload", http.StatusBadRequest)
		return
	}

	res, err := s.docs.Submit(r.Context(), ingestion.SubmitRequest{
		Content:   data,
		Filename:  header.Filename,
		MIMEType:  header.Header.Get("Content-Type"),
		TenantID:  tenantID,
		SourceURL: sourceURL,
		Title:     strings.TrimSpace(r.FormValue("title")),
	})
	s.writeSubmitResult(w, r, res, err)
}

// writeSubmitResult renders a Submit outcome: 202 on accept, 409 with the
// existing document on duplicate, otherwise the mapped error.
func (s *Server) writeSubmitResult(w http.ResponseWriter, r *http.Request, res *ingestion.SubmitResult, err error) {
	var dup *rag.DuplicateError
	switch {
	case errors.As(err, &dup) && res != nil:
		logging.FromContext(r.Context()).Info("duplicate upload rejected",
			slog.String("document_id", res.DocumentID),
		)
		writeJSON(w, r, http.StatusConflict, res)
	case err != nil:
		writeError(w, r, err)
	default:
		writeJSON(w, r, http.StatusAccepted, res)
	}
}

// handleListDocuments handles GET /api/documents?tenantId=&limit=.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, r, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	docs, err := s.docs.ListDocuments(r.Context(), r.URL.Query().Get("tenantId"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []rag.Document{}
	}
	writeJSON(w, r, http.StatusOK, listResponse{Documents: docs})
}

// handleGetDocument handles GET /api/documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	status, err := s.docs.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleStartIngestion handles POST /api/documents/{id}/ingest.
func (s *Server) handleStartIngestion(w http.ResponseWriter, r *http.Request) {
	job, err := s.docs.StartIngestion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, job)
}

// handleCancelJob handles POST /api/jobs/{id}/cancel.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.docs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}
