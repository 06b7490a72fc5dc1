package ingestion

import "testing"

func TestInferMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		url         string
		contentType string
		filename    string
		title       string
	}{
		{
			name:     "pdf path",
			url:      "https://example.com/docs/User-Guide.pdf",
			filename: "User-Guide.pdf",
			title:    "User Guide",
		},
		{
			name:        "trailing slash html",
			url:         "https://example.com/docs/install/",
			contentType: "text/html; charset=utf-8",
			filename:    "install.html",
			title:       "Install",
		},
		{
			name:        "bare host",
			url:         "https://example.com",
			contentType: "text/html",
			filename:    "example.com.html",
			title:       "example.com",
		},
		{
			name:        "escaped path",
			url:         "https://example.com/release%20notes.md",
			contentType: "text/plain",
			filename:    "release notes.md",
			title:       "Release notes",
		},
		{
			name:        "extension from content type",
			url:         "https://api.example.com/v1/openapi",
			contentType: "application/json",
			filename:    "openapi.json",
			title:       "Openapi",
		},
		{
			name:        "unknown content type keeps base",
			url:         "https://example.com/blob",
			contentType: "application/octet-stream",
			filename:    "blob",
			title:       "Blob",
		},
		{
			name:     "malformed URL",
			url:      "://not-a-url",
			filename: "document",
			title:    "Untitled document",
		},
		{
			name:     "empty string",
			url:      "",
			filename: "document",
			title:    "Untitled document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := InferMetadata(tt.url, tt.contentType)

			if got.Filename != tt.filename {
				t.Errorf("Filename: got %q, want %q", got.Filename, tt.filename)
			}
			if got.Title != tt.title {
				t.Errorf("Title: got %q, want %q", got.Title, tt.title)
			}
		})
	}
}

func TestTitleFromFilename(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"quarterly_report-2025.pdf": "Quarterly report 2025",
		"notes.txt":                 "Notes",
		"  readme.md ":              "Readme",
		"dir/nested/guide.html":     "Guide",
		".txt":                      "Untitled document",
		"":                          "Untitled document",
		"docs.example.com.html":     "docs.example.com",
	}
	for in, want := range tests {
		if got := TitleFromFilename(in); got != want {
			t.Errorf("TitleFromFilename(%q): got %q, want %q", in, got, want)
		}
	}
}
