package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/54b3r/docrag-go/internal/rag"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// printAnswer renders a QueryResult for a terminal.
func printAnswer(w io.Writer, res *rag.QueryResult) {
	fmt.Fprintln(w, strings.TrimSpace(res.Answer))
	if len(res.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for i, c := range res.Citations {
			loc := fmt.Sprintf("%s#%d", c.DocumentID, c.Index)
			if c.Page > 0 {
				loc += fmt.Sprintf(" p.%d", c.Page)
			}
			fmt.Fprintf(w, "  [%d] %s (score %.2f) %s\n", i+1, loc, c.Score, snippet(c.Text, 80))
		}
	}
	if res.Confidence != nil {
		fmt.Fprintf(w, "\nConfidence: %.2f\n", *res.Confidence)
	}
}

// printJobs renders an ingestion job table.
func printJobs(w io.Writer, jobs []rag.IngestionJob) {
	for _, j := range jobs {
		line := fmt.Sprintf("  %s  %-10s attempts=%d  updated=%s", j.ID, j.Status, j.Attempts, j.UpdatedAt.Format("2006-01-02 15:04:05"))
		if j.LastError != "" {
			line += "  error=" + snippet(j.LastError, 60)
		}
		fmt.Fprintln(w, line)
	}
}

// snippet collapses whitespace and shortens s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
