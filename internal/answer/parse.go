package answer

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/54b3r/docrag-go/internal/logging"
)

// parsedReply is the model output after validation against the context.
type parsedReply struct {
	// answer is the answer text.
	answer string
	// citations are 1-based source numbers, ascending and unique.
	citations []int
	// confidence is clamped to [0,1], nil when the model gave none.
	confidence *float64
}

// rawReply is the JSON shape the prompt asks for. Citations are decoded
// loosely because models emit 1, "1" and "[1]" interchangeably.
type rawReply struct {
	Answer     string            `json:"answer"`
	Citations  []json.RawMessage `json:"citations"`
	Confidence *float64          `json:"confidence"`
}

// parseReply validates content against n numbered sources. It never fails:
// a reply that is not JSON becomes the answer verbatim and cites every source.
func parseReply(ctx context.Context, content string, n int) parsedReply {
	log := logging.FromContext(ctx)
	all := make([]int, n)
	for i := range all {
		all[i] = i + 1
	}

	var raw rawReply
	obj, ok := extractObject(stripFences(content))
	if !ok || json.Unmarshal([]byte(obj), &raw) != nil || strings.TrimSpace(raw.Answer) == "" {
		log.Info("model reply is not structured; citing all context", "reply_chars", len(content))
		return parsedReply{answer: strings.TrimSpace(content), citations: all}
	}

	out := parsedReply{answer: strings.TrimSpace(raw.Answer)}
	for _, rc := range raw.Citations {
		num, ok := citationNumber(rc)
		if !ok || num < 1 || num > n {
			log.Warn("dropping citation outside context", "citation", string(rc), "sources", n)
			continue
		}
		if !slices.Contains(out.citations, num) {
			out.citations = append(out.citations, num)
		}
	}
	if len(out.citations) == 0 {
		log.Info("model cited no sources; citing all context", "sources", n)
		out.citations = all
	}
	slices.Sort(out.citations)

	if raw.Confidence != nil {
		c := *raw.Confidence
		clamped := min(max(c, 0), 1)
		if clamped != c {
			log.Warn("confidence out of range; clamped", "confidence", c, "clamped", clamped)
		}
		out.confidence = &clamped
	}
	return out
}

// stripFences removes a surrounding ``` or ```json code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.Contains(s[:i], "{") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractObject returns the span from the first '{' to the last '}'.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// citationNumber decodes a citation given as 2, 2.0, "2" or "[2]".
func citationNumber(rc json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(rc, &f); err == nil {
		if f != float64(int(f)) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(rc, &s); err != nil {
		return 0, false
	}
	s = strings.Trim(strings.TrimSpace(s), "[]")
	i, err := strconv.Atoi(strings.TrimSpace(s))
	return i, err == nil
}
