// Package enricher turns raw article text into a translated,
// summarized, genre-labeled result using a pluggable AI backend.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Sentinel errors classifying backend failures.
var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrBackendMalformed   = errors.New("backend returned malformed response")
)

// GenreFallback is used when the backend returns an unrecognized or
// empty genre label.
const GenreFallback = "uncategorized"

// Genres is the closed set of recognized genre labels.
var Genres = []string{
	"technology",
	"business",
	"entertainment",
	"sports",
	"politics",
	"science",
	"health",
}

// Backend is the capability interface every AI provider implements.
type Backend interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
	Summarize(ctx context.Context, text string, maxChars int) (string, error)
	Classify(ctx context.Context, title, body string) (string, error)
}

// Result is the enrichment output for one article. Consumed immediately
// by the publisher; never persisted.
type Result struct {
	Title   string
	Body    string
	Summary string
	Genre   string
}

// Enricher wraps a Backend with retry, summary-length enforcement, and
// genre normalization.
type Enricher struct {
	backend        Backend
	targetLanguage string
	maxChars       int
	maxRetries     int
	backoff        time.Duration
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithRetries sets how many times a retryable backend failure is retried.
func WithRetries(n int) Option {
	return func(e *Enricher) {
		e.maxRetries = n
	}
}

// WithBackoff sets the base backoff between retries.
func WithBackoff(d time.Duration) Option {
	return func(e *Enricher) {
		e.backoff = d
	}
}

// NewEnricher creates an enricher around the given backend.
func NewEnricher(backend Backend, targetLanguage string, maxChars int, opts ...Option) *Enricher {
	e := &Enricher{
		backend:        backend,
		targetLanguage: targetLanguage,
		maxChars:       maxChars,
		maxRetries:     3,
		backoff:        2 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich translates, summarizes, and classifies an article. On
// unrecoverable backend failure the article is returned to the caller
// unenriched (error non-nil) so it can be retried on a later cycle.
func (e *Enricher) Enrich(ctx context.Context, title, body string) (*Result, error) {
	translatedTitle, err := e.withRetry(ctx, func(ctx context.Context) (string, error) {
		return e.backend.Translate(ctx, title, e.targetLanguage)
	})
	if err != nil {
		return nil, fmt.Errorf("translate title: %w", err)
	}

	translatedBody, err := e.withRetry(ctx, func(ctx context.Context) (string, error) {
		return e.backend.Translate(ctx, body, e.targetLanguage)
	})
	if err != nil {
		return nil, fmt.Errorf("translate body: %w", err)
	}

	summary, err := e.withRetry(ctx, func(ctx context.Context) (string, error) {
		return e.backend.Summarize(ctx, title+"\n"+body, e.maxChars)
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	// The length bound is a hard constraint: truncate a backend overrun
	// at the boundary rather than trusting the prompt.
	summary = TruncateRunes(summary, e.maxChars)

	// Classification failure degrades to the fallback label instead of
	// failing the whole enrichment.
	genre, err := e.backend.Classify(ctx, title, body)
	if err != nil {
		slog.Warn("genre classification failed, using fallback", "error", err)
		genre = GenreFallback
	}
	genre = NormalizeGenre(genre)

	return &Result{
		Title:   translatedTitle,
		Body:    translatedBody,
		Summary: summary,
		Genre:   genre,
	}, nil
}

func (e *Enricher) withRetry(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.backoff * time.Duration(attempt)):
			}
		}

		result, err := call(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return "", err
		}
		slog.Warn("backend call failed, retrying",
			"attempt", attempt+1, "max", e.maxRetries, "error", err)
	}
	return "", fmt.Errorf("retries exhausted: %w", lastErr)
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrBackendTimeout)
}

// NormalizeGenre maps a backend label onto the recognized set, falling
// back to GenreFallback for anything unrecognized.
func NormalizeGenre(label string) string {
	label = strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(label), ".\"'")))
	for _, g := range Genres {
		if label == g {
			return g
		}
	}
	return GenreFallback
}

// TruncateRunes cuts s at the max rune boundary deterministically.
func TruncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
