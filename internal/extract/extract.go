// Package extract detects document formats and turns raw bytes into text
// pages for the chunker. Only PDF carries real page numbers; every other
// format yields a single page numbered 0 (no page provenance).
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Format is a document format the extractor understands.
type Format string

const (
	// FormatText is plain UTF-8 text.
	FormatText Format = "text"
	// FormatMarkdown is CommonMark or similar; it is indexed as-is.
	FormatMarkdown Format = "markdown"
	// FormatJSON is any valid JSON document.
	FormatJSON Format = "json"
	// FormatHTML is an HTML page; only readable text is kept.
	FormatHTML Format = "html"
	// FormatPDF is a PDF file with an extractable text layer.
	FormatPDF Format = "pdf"
)

// extensions maps lowercase file extensions to formats.
var extensions = map[string]Format{
	".txt":      FormatText,
	".text":     FormatText,
	".log":      FormatText,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".json":     FormatJSON,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".pdf":      FormatPDF,
}

// mimeTypes maps media types (without parameters) to formats.
var mimeTypes = map[string]Format{
	"text/plain":            FormatText,
	"text/markdown":         FormatMarkdown,
	"text/x-markdown":       FormatMarkdown,
	"application/json":      FormatJSON,
	"text/html":             FormatHTML,
	"application/xhtml+xml": FormatHTML,
	"application/pdf":       FormatPDF,
}

// Page is the text of one page. Number is 1-based for paged formats and 0
// when the format has no pages.
type Page struct {
	// Number is the 1-based page number, or 0 when absent.
	Number int
	// Text is the extracted page text.
	Text string
}

// Result is the output of Extract.
type Result struct {
	// Pages holds the document text in reading order.
	Pages []Page
	// Title is a title found inside the document (HTML <title>), if any.
	Title string
}

// DetectFormat resolves the format from the filename extension, falling
// back to the declared MIME type. Unknown types are rag.ErrUnsupportedFormat.
func DetectFormat(filename, mimeType string) (Format, error) {
	if f, ok := extensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return f, nil
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		if f, ok := mimeTypes[strings.ToLower(mt)]; ok {
			return f, nil
		}
	}
	return "", fmt.Errorf("extract: %q (%s): %w", filename, mimeType, rag.ErrUnsupportedFormat)
}

// Supported reports whether format is one Extract can read.
func Supported(format Format) bool {
	switch format {
	case FormatText, FormatMarkdown, FormatJSON, FormatHTML, FormatPDF:
		return true
	default:
		return false
	}
}

// MIMEType returns the canonical media type for format.
func MIMEType(format Format) string {
	switch format {
	case FormatText:
		return "text/plain"
	case FormatMarkdown:
		return "text/markdown"
	case FormatJSON:
		return "application/json"
	case FormatHTML:
		return "text/html"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Extract converts data of the given format into pages. Unreadable input is
// rag.ErrCorruptContent; an unknown format is rag.ErrUnsupportedFormat.
func Extract(format Format, data []byte) (*Result, error) {
	switch format {
	case FormatText, FormatMarkdown:
		text, err := decodeText(data)
		if err != nil {
			return nil, err
		}
		return &Result{Pages: []Page{{Text: text}}}, nil
	case FormatJSON:
		if !json.Valid(data) {
			return nil, fmt.Errorf("extract: invalid JSON: %w", rag.ErrCorruptContent)
		}
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			return nil, fmt.Errorf("extract: indent JSON: %v: %w", err, rag.ErrCorruptContent)
		}
		return &Result{Pages: []Page{{Text: out.String()}}}, nil
	case FormatHTML:
		return extractHTML(data)
	case FormatPDF:
		return extractPDF(data)
	default:
		return nil, fmt.Errorf("extract: format %q: %w", format, rag.ErrUnsupportedFormat)
	}
}

// decodeText validates UTF-8 and rejects binary payloads.
func decodeText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("extract: text is not valid UTF-8: %w", rag.ErrCorruptContent)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("extract: text contains NUL bytes: %w", rag.ErrCorruptContent)
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// htmlBlocks are the elements whose text becomes its own paragraph.
const htmlBlocks = "h1,h2,h3,h4,h5,h6,p,li,pre,blockquote,td,th,dt,dd,figcaption"

// extractHTML keeps the readable text of main/article (or the body) with one
// paragraph per block element.
func extractHTML(data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("extract: html is not valid UTF-8: %w", rag.ErrCorruptContent)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %v: %w", err, rag.ErrCorruptContent)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script,style,noscript,svg,template,nav,footer").Remove()

	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	var parts []string
	root.Find(htmlBlocks).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks (li > p) are emitted by the innermost element only.
		if s.Find(htmlBlocks).Length() > 0 {
			return
		}
		if t := collapseSpaces(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		if t := collapseSpaces(root.Text()); t != "" {
			parts = append(parts, t)
		}
	}
	return &Result{Pages: []Page{{Text: strings.Join(parts, "\n")}}, Title: title}, nil
}

// collapseSpaces folds every whitespace run into one space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractPDF reads the text layer page by page. The pdf reader panics on
// some malformed inputs, so panics are reported as corrupt content.
func extractPDF(data []byte) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("extract: malformed pdf: %v: %w", r, rag.ErrCorruptContent)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("extract: open pdf: %v: %w", err, rag.ErrCorruptContent)
	}

	res = &Result{}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract: pdf page %d: %v: %w", i, err, rag.ErrCorruptContent)
		}
		res.Pages = append(res.Pages, Page{Number: i, Text: text})
	}
	return res, nil
}
