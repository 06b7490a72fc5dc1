// Package budget estimates token counts for retrieval context assembly.
// docrag talks to several generation backends with different tokenizers, so
// the estimate is a character heuristic: 1 token is about 4 characters of
// English prose or code.
package budget

import (
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Fits 8k-context models with room left for the answer. Override with
	// DOCRAG_MAX_CONTEXT_TOKENS.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TruncateToSentence returns the longest prefix of s whose estimate fits
// maxTokens, cut after the last sentence terminator (. ! ? or newline) in
// that window. Without a terminator the prefix is cut at the window edge.
func TruncateToSentence(s string, maxTokens int) string {
	limit := maxTokens * charsPerToken
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	window := s[:limit]
	if i := strings.LastIndexAny(window, ".!?\n"); i > 0 {
		return strings.TrimSpace(window[:i+1])
	}
	return strings.TrimSpace(window)
}
