package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestExtractArticle(t *testing.T) {
	htmlContent := `<!DOCTYPE html>
<html>
<head><title>Test Article</title></head>
<body>
<article>
<h1>Test Article Title</h1>
<p>This is the main content of the article. It contains important information that should be extracted.</p>
<p>Second paragraph with more details about the topic.</p>
</article>
</body>
</html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(htmlContent))
	}))
	defer server.Close()

	e := NewExtractor(WithTimeout(5 * time.Second))

	content, err := e.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if content == "" {
		t.Fatal("expected non-empty content")
	}
	if !strings.Contains(content, "main content") {
		t.Errorf("content should contain 'main content', got: %s", content)
	}
	if strings.Contains(content, "\n") {
		t.Errorf("whitespace should be collapsed, got: %q", content)
	}
}

func TestExtractContentLimit(t *testing.T) {
	largeContent := strings.Repeat("x", 5000)
	htmlContent := `<!DOCTYPE html>
<html>
<head><title>Test</title></head>
<body><p>` + largeContent + `</p></body>
</html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(htmlContent))
	}))
	defer server.Close()

	e := NewExtractor(WithMaxContentLength(1000))

	content, err := e.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(content) > 1000 {
		t.Errorf("content length = %d, want <= 1000", len(content))
	}
}

func TestExtractMultibyteContentLimit(t *testing.T) {
	largeContent := strings.Repeat("日本語のテキストです。", 200)
	htmlContent := `<!DOCTYPE html>
<html>
<head><title>Test</title></head>
<body><p>` + largeContent + `</p></body>
</html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(htmlContent))
	}))
	defer server.Close()

	e := NewExtractor(WithMaxContentLength(100))

	content, err := e.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if n := len([]rune(content)); n > 100 {
		t.Errorf("content length = %d runes, want <= 100", n)
	}
	if !utf8.ValidString(content) {
		t.Error("truncation split a multi-byte rune")
	}
}

func TestExtractServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := NewExtractor()
	_, err := e.Extract(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error for server error response")
	}
}

func TestExtractContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte("<html><body>content</body></html>"))
	}))
	defer server.Close()

	e := NewExtractor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, server.URL)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestExtractInvalidURL(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract(context.Background(), "not-a-valid-url")
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestDefaultExtractor(t *testing.T) {
	e := NewExtractor()
	if e.maxContentLen != 4000 {
		t.Errorf("default maxContentLen = %d, want 4000", e.maxContentLen)
	}
}
