package chunker

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/extract"
)

func mustNew(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(Options{Size: size, Overlap: overlap})
	require.NoError(t, err)
	return c
}

// words returns "w0 w1 ... w(n-1)".
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	tests := []Options{
		{Size: 0, Overlap: 0},
		{Size: -5, Overlap: 0},
		{Size: 10, Overlap: -1},
		{Size: 10, Overlap: 10},
		{Size: 10, Overlap: 11},
	}
	for _, opts := range tests {
		_, err := New(opts)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "options %+v", opts)
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	t.Parallel()
	c := mustNew(t, 100, 10)
	assert.Empty(t, c.SplitText(""))
	assert.Empty(t, c.SplitText(" \n\t  "))
	assert.Empty(t, c.Split(nil))
}

func TestSplit_ShortTextIsOneTrimmedPiece(t *testing.T) {
	t.Parallel()
	got := mustNew(t, 100, 10).SplitText("  hello world \n")
	assert.Equal(t, []Piece{{Index: 0, Text: "hello world"}}, got)
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	t.Parallel()
	got := mustNew(t, 30, 0).SplitText("Alpha beta gamma. Delta epsilon zeta eta theta.")
	require.Len(t, got, 2)
	assert.Equal(t, "Alpha beta gamma.", got[0].Text)
	assert.Equal(t, "Delta epsilon zeta eta theta.", got[1].Text)
}

func TestSplit_HardCutWithoutWhitespace(t *testing.T) {
	t.Parallel()
	got := mustNew(t, 4, 1).SplitText("abcdefghij")
	texts := make([]string, len(got))
	for i, p := range got {
		texts[i] = p.Text
	}
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, texts)
}

func TestSplit_Properties(t *testing.T) {
	t.Parallel()
	text := words(300)
	c := mustNew(t, 50, 10)
	got := c.SplitText(text)
	require.Greater(t, len(got), 1)

	seen := map[string]bool{}
	for i, p := range got {
		assert.Equal(t, i, p.Index, "indices must be contiguous")
		assert.NotEmpty(t, p.Text)
		assert.LessOrEqual(t, utf8.RuneCountInString(p.Text), 50)
		for _, w := range strings.Fields(p.Text) {
			seen[w] = true
		}
		if i > 0 {
			first := strings.Fields(p.Text)[0]
			assert.True(t, slices.Contains(strings.Fields(got[i-1].Text), first),
				"piece %d should start inside the previous window", i)
		}
	}
	for _, w := range strings.Fields(text) {
		assert.True(t, seen[w], "word %q lost", w)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	t.Parallel()
	text := words(500) + ". Ünïcödé sentence here! And more?"
	a := mustNew(t, 64, 16).SplitText(text)
	b := mustNew(t, 64, 16).SplitText(text)
	assert.Equal(t, a, b)
}

func TestSplit_PagesNeverMerge(t *testing.T) {
	t.Parallel()
	pages := []extract.Page{
		{Number: 1, Text: words(40)},
		{Number: 2, Text: "   "},
		{Number: 3, Text: "tail page"},
	}
	got := mustNew(t, 60, 5).Split(pages)
	require.NotEmpty(t, got)

	for i, p := range got {
		assert.Equal(t, i, p.Index)
		var src string
		for _, pg := range pages {
			if pg.Number == p.Page {
				src = pg.Text
			}
		}
		assert.Contains(t, src, p.Text, "piece %d must come from page %d only", i, p.Page)
	}
	last := got[len(got)-1]
	assert.Equal(t, 3, last.Page)
	assert.Equal(t, "tail page", last.Text)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DOCRAG_CHUNK_SIZE", "256")
	t.Setenv("DOCRAG_CHUNK_OVERLAP", "bogus")
	assert.Equal(t, Options{Size: 256, Overlap: DefaultOverlap}, ConfigFromEnv())
}
