package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/docrag-go/internal/budget"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// source is one numbered entry of the grounding context.
type source struct {
	// number is the 1-based label the model cites.
	number int
	// hit is the retrieved chunk.
	hit rag.SearchHit
	// text is the chunk text as sent to the model, possibly truncated.
	text string
}

// sourceBlock renders one source as it appears in the prompt.
func sourceBlock(number int, text string) string {
	return fmt.Sprintf("[%d] %s\n\n", number, text)
}

// assemble numbers hits in rank order and keeps whole chunks while the
// rendered context stays within maxTokens. The first chunk that does not fit
// ends the context. A first chunk that alone exceeds the budget is cut at a
// sentence boundary so the model always has something to ground on.
func assemble(ctx context.Context, hits []rag.SearchHit, maxTokens int) []source {
	out := make([]source, 0, len(hits))
	used := 0
	for i, h := range hits {
		n := i + 1
		cost := budget.Estimate(sourceBlock(n, h.Chunk.Text))
		if used+cost <= maxTokens {
			used += cost
			out = append(out, source{number: n, hit: h, text: h.Chunk.Text})
			continue
		}
		if i == 0 {
			room := max(maxTokens-budget.Estimate(sourceBlock(n, "")), 1)
			text := budget.TruncateToSentence(h.Chunk.Text, room)
			logging.FromContext(ctx).Warn("top chunk exceeds context budget; truncated",
				"document_id", h.Chunk.DocumentID,
				"chunk_index", h.Chunk.Index,
				"chunk_tokens", budget.Estimate(h.Chunk.Text),
				"max_context_tokens", maxTokens,
			)
			out = append(out, source{number: n, hit: h, text: text})
		}
		break
	}
	return out
}

// renderSources joins the numbered blocks for the system prompt.
func renderSources(sources []source) string {
	var b strings.Builder
	for _, s := range sources {
		b.WriteString(sourceBlock(s.number, s.text))
	}
	return strings.TrimRight(b.String(), "\n")
}

// citation converts a source back into the public citation shape.
func (s source) citation() rag.Citation {
	return rag.Citation{
		DocumentID: s.hit.Chunk.DocumentID,
		Index:      s.hit.Chunk.Index,
		Text:       s.text,
		Page:       s.hit.Chunk.Page,
		Score:      s.hit.Score,
	}
}
