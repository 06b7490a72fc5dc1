package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HealthCheckConfig checks a backend without spending tokens.
type HealthCheckConfig interface {
	// HealthCheck returns nil when the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck issues a GET against a cheap backend endpoint.
type httpHealthCheck struct {
	// url is the checked endpoint.
	url string
	// header is added to the health request.
	header http.Header
	// client performs the check.
	client *http.Client
}

// HealthCheck implements HealthCheckConfig.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider: health check %s returned HTTP %d", h.url, resp.StatusCode)
	}
	return nil
}

// HealthCheckFor returns a token-free check for the configured backend, or
// nil when the backend offers none (callers then fall back to a Generate
// call).
func HealthCheckFor(cfg *Config) HealthCheckConfig {
	client := &http.Client{Timeout: 5 * time.Second}
	switch cfg.Backend {
	case BackendOllama:
		return &httpHealthCheck{
			url:    strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags",
			client: client,
		}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &httpHealthCheck{
			url:    strings.TrimRight(base, "/") + "/models",
			header: http.Header{"Authorization": []string{"Bearer " + cfg.OpenAI.APIKey}},
			client: client,
		}
	case BackendAzure:
		az := cfg.AzureOpenAI
		return &httpHealthCheck{
			url:    fmt.Sprintf("%s/openai/models?api-version=%s", strings.TrimRight(az.Endpoint, "/"), az.APIVersion),
			header: http.Header{"api-key": []string{az.APIKey}},
			client: client,
		}
	case BackendBedrock, BackendGemini:
		return nil
	default:
		return nil
	}
}
