package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/54b3r/docrag-go/internal/blob"
	"github.com/54b3r/docrag-go/internal/store"
)

// readyDeps are the real local dependencies docrag checks for readiness: the SQLite
// metadata store and the blob directory.
type readyDeps struct {
	store   *store.Store
	blobs   *blob.Store
	blobDir string
}

func newReadyDeps(t *testing.T) *readyDeps {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	dir := t.TempDir()
	bs, err := blob.New(blob.Config{Dir: dir})
	if err != nil {
		t.Fatalf("open blobs: %v", err)
	}
	return &readyDeps{store: st, blobs: bs, blobDir: dir}
}

// pingers mirrors the readiness set the CLI wires for a local deployment.
func (d *readyDeps) pingers(extra ...Pinger) []Pinger {
	ps := []Pinger{
		NewPingFunc("sqlite", d.store.Ping),
		NewPingFunc("blobs", d.blobs.Ping),
	}
	return append(ps, extra...)
}

// getReady issues GET /api/ready through the full handler chain.
func getReady(t *testing.T, ctx context.Context, pingers []Pinger, apiKey string) (int, readyResponse) {
	t.Helper()
	s := newTestServerWith(t, &fakeDocs{}, &fakeAnswerer{}, &Config{Pingers: pingers, APIKey: apiKey})
	req := httptest.NewRequestWithContext(ctx, http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body readyResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode ready body: %v", err)
	}
	return w.Code, body
}

func TestLiveness_Routes(t *testing.T) {
	t.Parallel()
	s := newTestServerWith(t, &fakeDocs{}, &fakeAnswerer{}, &Config{APIKey: "secret"})

	for _, path := range []string{"/api/health", "/api/test"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%s: want 200 without a token, got %d", path, w.Code)
			continue
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["status"] != "ok" {
			t.Errorf("%s: want {status: ok}, got %v (err %v)", path, body, err)
		}
	}
}

func TestReady_LocalDependenciesHealthy(t *testing.T) {
	t.Parallel()
	deps := newReadyDeps(t)

	code, body := getReady(t, t.Context(), deps.pingers(), "secret")
	if code != http.StatusOK || !body.Ready {
		t.Fatalf("want 200 ready, got %d %+v", code, body)
	}
	want := []string{"sqlite", "blobs"}
	if len(body.Checks) != len(want) {
		t.Fatalf("want %d checks, got %+v", len(want), body.Checks)
	}
	for i, c := range body.Checks {
		if c.Name != want[i] || !c.OK || c.Error != "" {
			t.Errorf("check %d: want healthy %q, got %+v", i, want[i], c)
		}
	}
}

func TestReady_FailingDependencies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		breakFn  func(t *testing.T, d *readyDeps)
		extra    []Pinger
		failing  string
		errorHas string
	}{
		{
			name:     "closed sqlite store",
			breakFn:  func(t *testing.T, d *readyDeps) { _ = d.store.Close() },
			failing:  "sqlite",
			errorHas: "store: ping",
		},
		{
			name: "blob directory removed",
			breakFn: func(t *testing.T, d *readyDeps) {
				if err := os.RemoveAll(d.blobDir); err != nil {
					t.Fatalf("remove blob dir: %v", err)
				}
			},
			failing:  "blobs",
			errorHas: "blob:",
		},
		{
			name:     "llm health check refused",
			extra:    []Pinger{NewLLMPinger(&stubChat{}, stubHealthCheck{err: errors.New("connection refused")}, "ollama")},
			failing:  "ollama",
			errorHas: "ollama health check failed",
		},
		{
			name:     "qdrant unreachable",
			extra:    []Pinger{NewPingFunc("qdrant", func(context.Context) error { return errors.New("qdrant: health check: unavailable") })},
			failing:  "qdrant",
			errorHas: "unavailable",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			deps := newReadyDeps(t)
			if tc.breakFn != nil {
				tc.breakFn(t, deps)
			}

			code, body := getReady(t, t.Context(), deps.pingers(tc.extra...), "")
			if code != http.StatusServiceUnavailable || body.Ready {
				t.Fatalf("want 503 not ready, got %d %+v", code, body)
			}
			for _, c := range body.Checks {
				if c.Name == tc.failing {
					if c.OK || !strings.Contains(c.Error, tc.errorHas) {
						t.Errorf("%s: want failure containing %q, got %+v", c.Name, tc.errorHas, c)
					}
					continue
				}
				if !c.OK {
					t.Errorf("%s: healthy dependency reported failure: %+v", c.Name, c)
				}
			}
		})
	}
}

func TestReady_ChecksHonourRequestContext(t *testing.T) {
	t.Parallel()
	deps := newReadyDeps(t)
	blocking := NewPingFunc("qdrant", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	code, body := getReady(t, ctx, deps.pingers(blocking), "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("want 503 when a check is cut short, got %d", code)
	}
	last := body.Checks[len(body.Checks)-1]
	if last.Name != "qdrant" || last.OK || !strings.Contains(last.Error, context.Canceled.Error()) {
		t.Errorf("want cancelled qdrant check, got %+v", last)
	}
}
