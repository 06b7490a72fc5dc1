package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/54b3r/docrag-go/internal/rag"
)

// ErrTooLarge rejects an upload above Config.MaxUploadBytes.
var ErrTooLarge = fmt.Errorf("ingestion: content too large: %w", rag.ErrInvalidInput)

// userAgent is sent with every SubmitURL download.
const userAgent = "docrag/1.0 (document ingestion)"

// fetched is a downloaded remote document.
type fetched struct {
	// data is the response body.
	data []byte
	// contentType is the response Content-Type header.
	contentType string
}

// fetch retrieves rawURL, reading at most limit bytes.
func (s *Service) fetch(ctx context.Context, rawURL string, limit int64) (*fetched, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("ingestion: invalid URL %q: %w", rawURL, rag.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ingestion: creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, text/plain, text/markdown, application/json, application/pdf")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingestion: http get %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingestion: unexpected status %d for %s: %w", resp.StatusCode, u, rag.ErrInvalidInput)
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("ingestion: download of %s timed out: %w", u, err)
		}
		return nil, fmt.Errorf("ingestion: reading body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return &fetched{data: body, contentType: resp.Header.Get("Content-Type")}, nil
}
