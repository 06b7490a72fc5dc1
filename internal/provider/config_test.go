package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/docrag-go/internal/embedder"
)

// providerEnv lists every variable ConfigFromEnv and ResolveSettings read.
var providerEnv = []string{
	"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
	"OLLAMA_HOST", "OLLAMA_MODEL",
	"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
	"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
	"AWS_REGION", "BEDROCK_MODEL_ID", "BEDROCK_API_KEY", "BEDROCK_BASE_URL",
	"GOOGLE_API_KEY", "GEMINI_MODEL",
	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS",
}

// setEnv clears the provider environment and applies env.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range providerEnv {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		backend   Backend
		modelName string
		wantErr   string
	}{
		{
			name:      "defaults to local ollama",
			backend:   BackendOllama,
			modelName: "llama3",
		},
		{
			name:      "openai with key",
			env:       map[string]string{"MODEL_PROVIDER": "openai", "OPENAI_API_KEY": "sk-test", "OPENAI_MODEL": "gpt-4.1-mini"},
			backend:   BackendOpenAI,
			modelName: "gpt-4.1-mini",
		},
		{
			name:    "openai without key",
			env:     map[string]string{"MODEL_PROVIDER": "openai"},
			backend: BackendOpenAI,
			wantErr: "OPENAI_API_KEY",
		},
		{
			name: "azure reports the deployment",
			env: map[string]string{
				"MODEL_PROVIDER":          "azure",
				"AZURE_OPENAI_API_KEY":    "key",
				"AZURE_OPENAI_ENDPOINT":   "https://docs.openai.azure.com",
				"AZURE_OPENAI_DEPLOYMENT": "answers-gpt4o",
			},
			backend:   BackendAzure,
			modelName: "answers-gpt4o",
		},
		{
			name:    "azure lists every missing variable",
			env:     map[string]string{"MODEL_PROVIDER": "azure"},
			backend: BackendAzure,
			wantErr: "AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT",
		},
		{
			name:      "bedrock uses the default region",
			env:       map[string]string{"MODEL_PROVIDER": "bedrock", "BEDROCK_MODEL_ID": "anthropic.claude-3-haiku"},
			backend:   BackendBedrock,
			modelName: "anthropic.claude-3-haiku",
		},
		{
			name:    "gemini without key",
			env:     map[string]string{"MODEL_PROVIDER": "gemini"},
			backend: BackendGemini,
			wantErr: "GOOGLE_API_KEY",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"MODEL_PROVIDER": "claude"},
			backend: "claude",
			wantErr: "unknown backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setEnv(t, tc.env)
			cfg := ConfigFromEnv()

			if cfg.Backend != tc.backend {
				t.Errorf("Backend = %q, want %q", cfg.Backend, tc.backend)
			}
			err := cfg.Validate()
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("Validate() = %v, want error containing %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if got := cfg.ModelName(); got != tc.modelName {
				t.Errorf("ModelName() = %q, want %q", got, tc.modelName)
			}
		})
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"MODEL_MAX_TOKENS": "lots", "MODEL_TEMPERATURE": "0.4"})
	cfg := ConfigFromEnv()

	if cfg.Tuning.MaxTokens != 1024 {
		t.Errorf("unparsable MODEL_MAX_TOKENS: got %d, want default 1024", cfg.Tuning.MaxTokens)
	}
	if cfg.Tuning.Temperature != 0.4 {
		t.Errorf("Temperature = %v, want 0.4", cfg.Tuning.Temperature)
	}
	if cfg.Ollama.Host != "http://localhost:11434" {
		t.Errorf("Ollama.Host = %q", cfg.Ollama.Host)
	}
	if cfg.AzureOpenAI.APIVersion != "2024-02-01" {
		t.Errorf("AzureOpenAI.APIVersion = %q", cfg.AzureOpenAI.APIVersion)
	}
	if cfg.Bedrock.AWSRegion != "us-east-1" {
		t.Errorf("Bedrock.AWSRegion = %q", cfg.Bedrock.AWSRegion)
	}
}

func TestNewFromEnv_RejectsIncompleteConfig(t *testing.T) {
	setEnv(t, map[string]string{"MODEL_PROVIDER": "openai"})

	m, cfg, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("NewFromEnv() error = %v, want missing OPENAI_API_KEY", err)
	}
	if m != nil {
		t.Errorf("expected no model, got %T", m)
	}
	if cfg == nil || cfg.Backend != BackendOpenAI {
		t.Errorf("expected the resolved config to be returned, got %+v", cfg)
	}
}

// TestEmbeddingFollowsChatProvider covers the shared MODEL_PROVIDER setting:
// embeddings track the chat backend unless EMBEDDING_PROVIDER overrides it.
func TestEmbeddingFollowsChatProvider(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		backend string
		model   string
		dims    int
	}{
		{"ollama default", nil, "ollama", "nomic-embed-text", 768},
		{"openai chat", map[string]string{"MODEL_PROVIDER": "openai", "OPENAI_API_KEY": "sk"}, "openai", "text-embedding-3-small", 1536},
		{"gemini chat", map[string]string{"MODEL_PROVIDER": "gemini", "GOOGLE_API_KEY": "k"}, "gemini", "gemini-embedding-001", 768},
		{
			"bedrock chat with ollama embeddings",
			map[string]string{"MODEL_PROVIDER": "bedrock", "BEDROCK_MODEL_ID": "m", "EMBEDDING_PROVIDER": "ollama", "EMBEDDING_DIMENSIONS": "1024"},
			"ollama", "nomic-embed-text", 1024,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setEnv(t, tc.env)
			if err := ConfigFromEnv().Validate(); err != nil {
				t.Fatalf("chat config invalid: %v", err)
			}
			s := embedder.ResolveSettings()
			if s.Backend != tc.backend || s.Model != tc.model || s.Dimensions != tc.dims {
				t.Errorf("embedding settings = %+v, want %s/%s/%d", s, tc.backend, tc.model, tc.dims)
			}
		})
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()
	for deployment, want := range map[string]bool{
		"o3-mini":       true,
		"O4-Mini":       true,
		"codex-mini":    true,
		"answers-gpt4o": false,
		"gpt-4.1":       false,
		"":              false,
	} {
		if got := isAzureReasoningModel(deployment); got != want {
			t.Errorf("isAzureReasoningModel(%q) = %v, want %v", deployment, got, want)
		}
	}
}

func TestHealthCheckFor(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		if r.URL.Path == "/down/models" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ollama := HealthCheckFor(&Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: srv.URL + "/"}})
	if err := ollama.HealthCheck(context.Background()); err != nil {
		t.Fatalf("ollama health: %v", err)
	}
	if gotPath != "/api/tags" {
		t.Errorf("ollama health path = %q, want /api/tags", gotPath)
	}

	openai := HealthCheckFor(&Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}})
	if err := openai.HealthCheck(context.Background()); err != nil {
		t.Fatalf("openai health: %v", err)
	}
	if gotPath != "/v1/models" || gotAuth != "Bearer sk-test" {
		t.Errorf("openai health request = %q auth %q", gotPath, gotAuth)
	}

	down := HealthCheckFor(&Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{BaseURL: srv.URL + "/down"}})
	if err := down.HealthCheck(context.Background()); err == nil {
		t.Error("expected an error for HTTP 503")
	}

	if hc := HealthCheckFor(&Config{Backend: BackendGemini}); hc != nil {
		t.Errorf("gemini should have no token-free health check, got %T", hc)
	}
}
