// Package blob is the content store for original upload bytes. Objects are
// addressed by the SHA-256 of their content and written atomically, so a
// crashed upload never leaves a half-written file behind a valid key.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/docrag-go/internal/rag"
)

// ErrNotFound is returned by Get for an unknown key. It wraps rag.ErrNotFound.
var ErrNotFound = fmt.Errorf("blob: %w", rag.ErrNotFound)

// Store is a content-addressed filesystem store. It is safe for concurrent
// use; concurrent Puts of the same key race to an identical file.
type Store struct {
	// dir is the root directory holding the objects.
	dir string
}

// Config holds the content store settings.
type Config struct {
	// Dir is the root directory. Defaults to ~/.docrag/blobs.
	Dir string
}

// ConfigFromEnv reads DOCRAG_BLOB_DIR.
func ConfigFromEnv() Config {
	return Config{Dir: os.Getenv("DOCRAG_BLOB_DIR")}
}

// New opens (creating if needed) the store rooted at cfg.Dir.
func New(cfg Config) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("blob: could not determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".docrag", "blobs")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("blob: could not create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Key returns the content address of data: its lowercase hex SHA-256.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// path maps a key to a two-level fan-out path, e.g. ab/abcdef....
func (s *Store) path(key string) (string, error) {
	if len(key) < 3 || strings.ContainsAny(key, `/\.`) {
		return "", fmt.Errorf("blob: invalid key %q: %w", key, rag.ErrInvalidInput)
	}
	return filepath.Join(s.dir, key[:2], key), nil
}

// Put writes data and returns its key. Writing an existing key is a no-op.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := Key(data)
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return "", fmt.Errorf("blob: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return "", fmt.Errorf("blob: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("blob: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("blob: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blob: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("blob: commit %s: %w", key, err)
	}
	return key, nil
}

// Get returns the bytes stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("blob: stat %s: %w", key, err)
	}
}

// Delete removes key. Deleting an unknown key is not an error.
func (s *Store) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}

// Ping checks the root directory is still accessible.
func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	return nil
}
