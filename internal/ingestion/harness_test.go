package ingestion

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/blob"
	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

const testDim = 16

// hashVector is a deterministic bag-of-words embedding.
func hashVector(text string) []float32 {
	v := make([]float32, testDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?")))
		v[h.Sum32()%testDim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// fakeBackend embeds with hashVector unless fail returns an error.
type fakeBackend struct {
	calls atomic.Int64
	mu    sync.Mutex
	fail  func(text string) error
	hook  func(text string)
}

func (f *fakeBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		f.calls.Add(1)
		f.mu.Lock()
		fail, hook := f.fail, f.hook
		f.mu.Unlock()
		if hook != nil {
			hook(t)
		}
		if fail != nil {
			if err := fail(t); err != nil {
				return nil, err
			}
		}
		out[i] = hashVector(t)
	}
	return out, nil
}

func (f *fakeBackend) setFail(fn func(string) error) {
	f.mu.Lock()
	f.fail = fn
	f.mu.Unlock()
}

func (f *fakeBackend) setHook(fn func(string)) {
	f.mu.Lock()
	f.hook = fn
	f.mu.Unlock()
}

// countingBlobs records Put calls and can corrupt reads.
type countingBlobs struct {
	ContentStore
	puts    atomic.Int64
	corrupt atomic.Bool
}

func (c *countingBlobs) Put(ctx context.Context, data []byte) (string, error) {
	c.puts.Add(1)
	return c.ContentStore.Put(ctx, data)
}

func (c *countingBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.ContentStore.Get(ctx, key)
	if err == nil && c.corrupt.Load() {
		data = append([]byte("tampered "), data...)
	}
	return data, err
}

// harness wires a Service and Pool over real SQLite, filesystem blobs and an
// in-memory index.
type harness struct {
	store   *store.Store
	blobs   *countingBlobs
	index   *rag.MemoryIndex
	backend *fakeBackend
	chunker *chunker.Chunker
	svc     *Service
	pool    *Pool
}

func testConfig() Config {
	return Config{
		Workers:        1,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		LeaseTimeout:   time.Minute,
		JobTimeout:     10 * time.Second,
		MaxUploadBytes: 1 << 20,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fs, err := blob.New(blob.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	blobs := &countingBlobs{ContentStore: fs}

	ch, err := chunker.New(chunker.Options{Size: 60, Overlap: 10})
	require.NoError(t, err)

	backend := &fakeBackend{}
	client, err := embedder.NewClient(backend, embedder.ClientConfig{
		Model:       "fake-embed",
		Dimensions:  testDim,
		Concurrency: 2,
	}, st)
	require.NoError(t, err)

	index := rag.NewMemoryIndex(testDim, 10)
	metrics := NewMetrics(nil)

	svc, err := NewService(st, blobs, cfg, metrics)
	require.NoError(t, err)
	pool, err := NewPool(PoolDeps{
		Queue:    st,
		Blobs:    blobs,
		Chunker:  ch,
		Embedder: client,
		Index:    index,
		Metrics:  metrics,
	}, cfg)
	require.NoError(t, err)

	return &harness{store: st, blobs: blobs, index: index, backend: backend, chunker: ch, svc: svc, pool: pool}
}

// submitText submits content as a .txt upload and requires acceptance.
func (h *harness) submitText(t *testing.T, name, content, tenant string) *SubmitResult {
	t.Helper()
	res, err := h.svc.Submit(context.Background(), SubmitRequest{
		Content:  []byte(content),
		Filename: name,
		TenantID: tenant,
	})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	return res
}

// processOne claims and processes a single job, waiting for backoff delays.
func (h *harness) processOne(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		ok, err := h.pool.ProcessNext(context.Background(), "test-worker")
		return err == nil && ok
	}, 2*time.Second, 2*time.Millisecond)
}

// job loads a job, failing the test on error.
func (h *harness) job(t *testing.T, id string) *rag.IngestionJob {
	t.Helper()
	j, err := h.svc.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

const sampleText = `Solar panels convert sunlight into electricity. They work best facing south.
Wind turbines turn kinetic energy into power. Offshore farms produce more energy.
Batteries store surplus energy for the night. Lithium cells dominate the market.`
