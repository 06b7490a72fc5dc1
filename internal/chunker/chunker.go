// Package chunker splits extracted document text into overlapping windows
// sized for embedding. Output is a pure function of the input and options.
package chunker

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/54b3r/docrag-go/internal/extract"
)

const (
	// DefaultSize is the default window length in runes.
	DefaultSize = 1000
	// DefaultOverlap is the default number of runes shared by neighbours.
	DefaultOverlap = 100
)

// ErrInvalidConfig is returned by New for unusable options.
var ErrInvalidConfig = errors.New("chunker: invalid config")

// Options configures a Chunker.
type Options struct {
	// Size is the maximum window length in runes. Must be > 0.
	Size int
	// Overlap is the number of runes carried into the next window.
	// Must satisfy 0 <= Overlap < Size.
	Overlap int
}

// Piece is one chunk of text with its position in the document.
type Piece struct {
	// Index is the zero-based, contiguous position across the document.
	Index int
	// Text is the trimmed chunk text, never empty.
	Text string
	// Page is the source page number, or 0 when the format has no pages.
	Page int
}

// Chunker produces Pieces from pages of text.
type Chunker struct {
	// size is the window length in runes.
	size int
	// overlap is the carried-over prefix length in runes.
	overlap int
}

// New validates opts and returns a Chunker.
func New(opts Options) (*Chunker, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, opts.Size)
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, opts.Size, opts.Overlap)
	}
	return &Chunker{size: opts.Size, overlap: opts.Overlap}, nil
}

// ConfigFromEnv reads DOCRAG_CHUNK_SIZE and DOCRAG_CHUNK_OVERLAP, falling
// back to the defaults when unset or unparsable.
func ConfigFromEnv() Options {
	return Options{
		Size:    envInt("DOCRAG_CHUNK_SIZE", DefaultSize),
		Overlap: envInt("DOCRAG_CHUNK_OVERLAP", DefaultOverlap),
	}
}

// envInt returns the integer value of key or def.
func envInt(key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

// Size returns the configured window length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// SplitText chunks a single page-less text.
func (c *Chunker) SplitText(text string) []Piece {
	return c.Split([]extract.Page{{Text: text}})
}

// Split chunks every page in order. Windows never cross a page boundary and
// indices run contiguously across pages.
func (c *Chunker) Split(pages []extract.Page) []Piece {
	var out []Piece
	for _, p := range pages {
		for _, text := range c.windows([]rune(p.Text)) {
			out = append(out, Piece{Index: len(out), Text: text, Page: p.Number})
		}
	}
	return out
}

// windows returns the trimmed, non-empty windows of r.
func (c *Chunker) windows(r []rune) []string {
	n := len(r)
	var out []string
	start := 0
	for start < n {
		for start < n && unicode.IsSpace(r[start]) {
			start++
		}
		if start >= n {
			break
		}

		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = cutPoint(r, start, end)
		}

		if text := strings.TrimSpace(string(r[start:end])); text != "" {
			out = append(out, text)
		}
		if end >= n {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		// Snap forward so the overlap begins on a word.
		for next < end && !unicode.IsSpace(r[next-1]) {
			next++
		}
		start = next
	}
	return out
}

// cutPoint picks where a window [start, end) should stop. It prefers the last
// sentence boundary in the second half of the window, then the last
// whitespace there, and cuts hard at end otherwise. end < len(r).
func cutPoint(r []rune, start, end int) int {
	half := start + (end-start)/2
	for i := end; i > half; i-- {
		if r[i-1] == '\n' || (isTerminal(r[i-1]) && unicode.IsSpace(r[i])) {
			return i
		}
	}
	for i := end; i > half; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}
	return end
}

// isTerminal reports whether r ends a sentence.
func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
