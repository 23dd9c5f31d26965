// Package scraper extracts readable article text from entry links,
// used when a feed carries only a stub description.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const defaultMaxContentLen = 4000

// Extractor fetches article pages and strips them to readable text.
type Extractor struct {
	httpClient    *http.Client
	maxContentLen int
	userAgent     string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		e.httpClient.Timeout = d
	}
}

// WithMaxContentLength caps the extracted text length in runes.
func WithMaxContentLength(n int) Option {
	return func(e *Extractor) {
		e.maxContentLen = n
	}
}

// NewExtractor creates a full-text extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		maxContentLen: defaultMaxContentLen,
		userAgent:     "Mozilla/5.0 (compatible; RSS-AI-Bot/1.0)",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fetches rawURL and returns its readable text content with
// whitespace collapsed. The result is capped at the configured rune
// count so translated prompts never receive a split multi-byte rune.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}

	content := strings.Join(strings.Fields(article.TextContent), " ")
	if runes := []rune(content); len(runes) > e.maxContentLen {
		content = string(runes[:e.maxContentLen])
	}

	return content, nil
}
