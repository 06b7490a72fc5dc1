package ingestion

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

// InferredMetadata holds the filename and display title inferred for a
// document fetched by URL. Explicit values supplied by the caller take
// precedence; this is the best-effort fallback.
type InferredMetadata struct {
	// Filename is a name with an extension the extractor recognises.
	Filename string
	// Title is the human-readable display name.
	Title string
}

// contentTypeExtensions maps response media types to a filename extension
// for URLs whose path carries none.
var contentTypeExtensions = map[string]string{
	"text/html":             ".html",
	"application/xhtml+xml": ".html",
	"text/plain":            ".txt",
	"text/markdown":         ".md",
	"text/x-markdown":       ".md",
	"application/json":      ".json",
	"application/pdf":       ".pdf",
}

// InferMetadata derives a filename and title from a source URL and the
// response Content-Type:
//
//	https://example.com/docs/User-Guide.pdf   -> User-Guide.pdf, "User Guide"
//	https://example.com/docs/install/         -> install.html,   "Install"
//	https://example.com                       -> example.com.html, "example.com"
func InferMetadata(rawURL, contentType string) InferredMetadata {
	m := InferredMetadata{Filename: "document", Title: "Untitled document"}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return m
	}

	base := path.Base(strings.TrimSuffix(parsed.Path, "/"))
	if base == "." || base == "/" || base == "" {
		base = parsed.Hostname()
	}
	if base == "" {
		return m
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}

	if !hasKnownExtension(base) {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if ext, ok := contentTypeExtensions[strings.ToLower(mt)]; ok {
				base += ext
			}
		}
	}
	m.Filename = base
	m.Title = TitleFromFilename(base)
	return m
}

// hasKnownExtension reports whether name already ends in an extension from
// contentTypeExtensions.
func hasKnownExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, known := range contentTypeExtensions {
		if ext == known {
			return true
		}
	}
	return ext == ".htm" || ext == ".markdown"
}

// TitleFromFilename turns an upload filename into a display title: the
// extension is removed, separators become spaces and the first letter is
// upper-cased. Host-like names are kept as they are.
func TitleFromFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" || stem == "." {
		return "Untitled document"
	}
	if strings.Count(stem, ".") > 0 && !strings.ContainsAny(stem, " _-") {
		return stem
	}
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	if len(words) == 0 {
		return "Untitled document"
	}
	title := strings.Join(words, " ")
	r := []rune(title)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
