package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/rag"
)

// fakeSubmitter records submissions and optionally fails them.
type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []ingestion.SubmitRequest
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, req ingestion.SubmitRequest) (*ingestion.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return &ingestion.SubmitResult{DocumentID: "existing"}, f.err
	}
	return &ingestion.SubmitResult{Accepted: true, DocumentID: "doc", JobID: "job"}, nil
}

func (f *fakeSubmitter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.reqs))
	for _, r := range f.reqs {
		out = append(out, r.Filename)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	sub := &fakeSubmitter{}

	_, err := New(nil, Config{Dir: t.TempDir()})
	require.Error(t, err)

	_, err = New(sub, Config{})
	require.ErrorIs(t, err, rag.ErrInvalidInput)

	file := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(sub, Config{Dir: file})
	require.ErrorIs(t, err, rag.ErrInvalidInput)

	w, err := New(sub, Config{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DefaultSettle, w.cfg.Settle)
}

func TestCandidate(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("content"), 0o644))
		return p
	}
	txt := write("notes.txt")
	hidden := write(".notes.txt")
	binary := write("image.png")
	sub := filepath.Join(dir, "nested.md")
	require.NoError(t, os.Mkdir(sub, 0o755))

	w, err := New(&fakeSubmitter{}, Config{Dir: dir})
	require.NoError(t, err)

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create supported file", fsnotify.Event{Name: txt, Op: fsnotify.Create}, true},
		{"write supported file", fsnotify.Event{Name: txt, Op: fsnotify.Write}, true},
		{"chmod ignored", fsnotify.Event{Name: txt, Op: fsnotify.Chmod}, false},
		{"remove ignored", fsnotify.Event{Name: txt, Op: fsnotify.Remove}, false},
		{"hidden file skipped", fsnotify.Event{Name: hidden, Op: fsnotify.Create}, false},
		{"unsupported format skipped", fsnotify.Event{Name: binary, Op: fsnotify.Create}, false},
		{"directory skipped", fsnotify.Event{Name: sub, Op: fsnotify.Create}, false},
		{"missing file skipped", fsnotify.Event{Name: filepath.Join(dir, "gone.txt"), Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := w.candidate(tt.ev)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestSettled(t *testing.T) {
	w, err := New(&fakeSubmitter{}, Config{Dir: t.TempDir(), Settle: time.Second})
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	pending := map[string]time.Time{
		"b.txt": now.Add(-2 * time.Second),
		"a.txt": now.Add(-time.Second),
		"c.txt": now.Add(-100 * time.Millisecond),
	}
	assert.Equal(t, []string{"a.txt", "b.txt"}, w.settled(pending))
}

func TestSubmitFile(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.md")
	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(small, []byte("# hi"), 0o644))
	require.NoError(t, os.WriteFile(big, make([]byte, 64), 0o644))

	sub := &fakeSubmitter{}
	w, err := New(sub, Config{Dir: dir, TenantID: "acme", MaxBytes: 32})
	require.NoError(t, err)

	ctx := context.Background()
	w.submitFile(ctx, small)
	w.submitFile(ctx, big)
	w.submitFile(ctx, filepath.Join(dir, "missing.txt"))

	require.Len(t, sub.reqs, 1)
	assert.Equal(t, "small.md", sub.reqs[0].Filename)
	assert.Equal(t, "acme", sub.reqs[0].TenantID)
	assert.Equal(t, []byte("# hi"), sub.reqs[0].Content)

	// A duplicate is logged, not fatal.
	sub.err = &rag.DuplicateError{Existing: &rag.Document{ID: "existing"}}
	w.submitFile(ctx, small)
	assert.Len(t, sub.reqs, 2)
}

func TestRun_SubmitsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "before.txt"), []byte("already here"), 0o644))

	sub := &fakeSubmitter{}
	w, err := New(sub, Config{Dir: dir, Settle: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(sub.names()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "after.json"), []byte(`{"a":1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.png"), []byte("png"), 0o644))

	assert.Eventually(t, func() bool {
		names := sub.names()
		return len(names) == 2 && names[1] == "after.json"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.Equal(t, []string{"before.txt", "after.json"}, sub.names())
}
