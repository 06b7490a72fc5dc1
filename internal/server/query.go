package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/docrag-go/internal/answer"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// maxQueryBody bounds the JSON body of POST /api/query.
const maxQueryBody = 64 << 10

// handleQuery handles POST /api/query. Answered, no-context and fallback
// results are all 200 so a chat client can always render something; only
// invalid input is rejected.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q answer.Question
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	if err := dec.Decode(&q); err != nil {
		writeJSONError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.answers.Ask(r.Context(), q)
	if errors.Is(err, rag.ErrInvalidInput) {
		writeError(w, r, err)
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn("query answered with fallback",
			slog.String("kind", rag.Kind(err)),
			slog.Any("error", err),
		)
	}
	if res == nil {
		if err == nil {
			err = errors.New("server: answerer returned no result")
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
