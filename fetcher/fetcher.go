package fetcher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
)

// Sentinel errors distinguishing transport failures from malformed documents.
var (
	ErrNetwork = errors.New("feed unreachable")
	ErrParse   = errors.New("feed malformed")
)

const defaultMaxArticles = 10

// Article is one normalized feed entry. Produced fresh on each fetch,
// never mutated.
type Article struct {
	ID        string
	Title     string
	Link      string
	Body      string
	Published time.Time
}

// Feed holds the parsed feed metadata and its entries in feed-native order.
type Feed struct {
	Title       string
	Description string
	Articles    []Article
}

// Fetcher retrieves and parses RSS/Atom feeds.
type Fetcher struct {
	httpClient  *http.Client
	parser      *gofeed.Parser
	maxArticles int
	userAgent   string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.httpClient.Timeout = d
	}
}

// WithMaxArticles caps how many entries are returned per fetch.
func WithMaxArticles(n int) Option {
	return func(f *Fetcher) {
		f.maxArticles = n
	}
}

// NewFetcher creates a feed fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		parser:      gofeed.NewParser(),
		maxArticles: defaultMaxArticles,
		userAgent:   "Mozilla/5.0 (compatible; RSS-AI-Bot/1.0)",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the feed document at rawURL and parses it into
// article records. RSS and Atom are auto-detected by the parser.
// Failures are classified as ErrNetwork or ErrParse.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Feed, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	parsed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	feed := &Feed{
		Title:       parsed.Title,
		Description: parsed.Description,
	}

	items := parsed.Items
	if f.maxArticles > 0 && len(items) > f.maxArticles {
		items = items[:f.maxArticles]
	}

	feed.Articles = make([]Article, 0, len(items))
	for _, item := range items {
		feed.Articles = append(feed.Articles, Article{
			ID:        articleID(item),
			Title:     item.Title,
			Link:      item.Link,
			Body:      articleBody(item),
			Published: publishedTime(item),
		})
	}

	return feed, nil
}

// ValidateURL checks that a feed URL is well-formed http(s) before any
// network call is attempted.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: invalid URL %q", ErrNetwork, rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: URL %q must use http or https", ErrNetwork, rawURL)
	}
	return nil
}

// articleID derives a stable identifier for an entry: guid, then link,
// then a hash of title and link when both are absent.
func articleID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	sum := md5.Sum([]byte(item.Title + "|" + item.Link))
	return hex.EncodeToString(sum[:])
}

func articleBody(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}

func publishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}
