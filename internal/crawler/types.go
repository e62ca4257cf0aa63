package crawler

import (
	"mime"
	"net/http"
	"strings"
	"time"
)

// FetchResult represents a successful fetch of a single URL
type FetchResult struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url"` // URL after redirects, used as the base for relative links
	StatusCode  int           `json:"status_code"`
	ContentType string        `json:"content_type"`
	Headers     http.Header   `json:"-"`
	Body        []byte        `json:"-"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration"`
}

// IsHTML reports whether the response carries markup worth extracting.
// A missing Content-Type is treated as HTML.
func (r *FetchResult) IsHTML() bool {
	if r.ContentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return strings.Contains(strings.ToLower(r.ContentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Content is the extracted, archive-ready view of a page
type Content struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content,omitempty"`
	Links       []string `json:"links,omitempty"` // Raw href values, unresolved
}
