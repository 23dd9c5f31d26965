package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Example News</title>
	<description>Example feed</description>
	<item>
		<title>First Article</title>
		<link>https://example.com/1</link>
		<guid>guid-1</guid>
		<description>Body of the first article</description>
		<pubDate>Mon, 06 Jan 2025 10:00:00 GMT</pubDate>
	</item>
	<item>
		<title>Second Article</title>
		<link>https://example.com/2</link>
		<description>Body of the second article</description>
	</item>
</channel>
</rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
	<title>Atom Feed</title>
	<entry>
		<title>Atom Entry</title>
		<link href="https://example.com/atom/1"/>
		<id>atom-entry-1</id>
		<summary>Atom entry body</summary>
		<updated>2025-01-06T10:00:00Z</updated>
	</entry>
</feed>`

func serveFeed(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchRSS(t *testing.T) {
	server := serveFeed(t, http.StatusOK, rssDoc)

	f := NewFetcher()
	feed, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if feed.Title != "Example News" {
		t.Errorf("Title = %q, want %q", feed.Title, "Example News")
	}
	if len(feed.Articles) != 2 {
		t.Fatalf("got %d articles, want 2", len(feed.Articles))
	}

	first := feed.Articles[0]
	if first.ID != "guid-1" {
		t.Errorf("ID = %q, want guid", first.ID)
	}
	if first.Title != "First Article" {
		t.Errorf("Title = %q, want %q", first.Title, "First Article")
	}
	if first.Body != "Body of the first article" {
		t.Errorf("Body = %q", first.Body)
	}
	if first.Published.IsZero() {
		t.Error("Published should be parsed from pubDate")
	}

	// No guid: falls back to link.
	second := feed.Articles[1]
	if second.ID != "https://example.com/2" {
		t.Errorf("ID = %q, want link fallback", second.ID)
	}
}

func TestFetchAtom(t *testing.T) {
	server := serveFeed(t, http.StatusOK, atomDoc)

	f := NewFetcher()
	feed, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if feed.Title != "Atom Feed" {
		t.Errorf("Title = %q, want %q", feed.Title, "Atom Feed")
	}
	if len(feed.Articles) != 1 {
		t.Fatalf("got %d articles, want 1", len(feed.Articles))
	}
	if feed.Articles[0].ID != "atom-entry-1" {
		t.Errorf("ID = %q, want atom id", feed.Articles[0].ID)
	}
}

func TestFetchPreservesOrder(t *testing.T) {
	server := serveFeed(t, http.StatusOK, rssDoc)

	f := NewFetcher()
	feed, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if feed.Articles[0].Title != "First Article" || feed.Articles[1].Title != "Second Article" {
		t.Errorf("feed-native order not preserved: %q, %q",
			feed.Articles[0].Title, feed.Articles[1].Title)
	}
}

func TestFetchMaxArticles(t *testing.T) {
	server := serveFeed(t, http.StatusOK, rssDoc)

	f := NewFetcher(WithMaxArticles(1))
	feed, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(feed.Articles) != 1 {
		t.Errorf("got %d articles, want 1", len(feed.Articles))
	}
	if feed.Articles[0].Title != "First Article" {
		t.Errorf("cap should keep the first entries, got %q", feed.Articles[0].Title)
	}
}

func TestFetchServerError(t *testing.T) {
	server := serveFeed(t, http.StatusInternalServerError, "")

	f := NewFetcher()
	_, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	f := NewFetcher()
	_, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestFetchMalformedDocument(t *testing.T) {
	server := serveFeed(t, http.StatusOK, "this is not a feed")

	f := NewFetcher()
	_, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://example.com/feed", false},
		{"valid https", "https://example.com/feed.xml", false},
		{"no scheme", "example.com/feed", true},
		{"ftp scheme", "ftp://example.com/feed", true},
		{"empty", "", true},
		{"garbage", "://///", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestArticleIDHashFallback(t *testing.T) {
	doc := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>F</title>
<item><title>No Link Or GUID</title></item>
</channel></rss>`
	server := serveFeed(t, http.StatusOK, doc)

	f := NewFetcher()
	feed, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(feed.Articles) != 1 {
		t.Fatalf("got %d articles, want 1", len(feed.Articles))
	}
	id := feed.Articles[0].ID
	if len(id) != 32 {
		t.Errorf("ID = %q, want 32-char content hash", id)
	}
}
