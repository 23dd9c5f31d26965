package enricher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiModel   = "gemini-2.0-flash-lite"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
)

// classifyBodyLimit caps how much article body is sent for genre
// classification.
const classifyBodyLimit = 500

// Gemini is the cloud inference backend.
type Gemini struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// GeminiOption configures a Gemini backend.
type GeminiOption func(*Gemini)

// WithGeminiModel sets the Gemini model to use.
func WithGeminiModel(model string) GeminiOption {
	return func(g *Gemini) {
		g.model = model
	}
}

// WithGeminiBaseURL sets a custom base URL (for testing).
func WithGeminiBaseURL(url string) GeminiOption {
	return func(g *Gemini) {
		g.baseURL = url
	}
}

// WithGeminiTimeout sets the per-request timeout.
func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(g *Gemini) {
		g.httpClient.Timeout = d
	}
}

// NewGemini creates a Gemini backend.
func NewGemini(apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:     apiKey,
		model:      defaultGeminiModel,
		baseURL:    defaultGeminiBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Translate renders text into the target language.
func (g *Gemini) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following text into natural %s. Preserve the original meaning exactly and keep it readable. Respond with the translation only.\n\n%s",
		targetLanguage, text)
	return g.generate(ctx, prompt, 0.3)
}

// Summarize produces a summary within maxChars characters.
func (g *Gemini) Summarize(ctx context.Context, text string, maxChars int) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize the following text in at most %d characters. Include the key points, keep it concise and clear. Respond with the summary only.\n\n%s",
		maxChars, text)
	return g.generate(ctx, prompt, 0.3)
}

// Classify picks a genre label for an article.
func (g *Gemini) Classify(ctx context.Context, title, body string) (string, error) {
	prompt := fmt.Sprintf(
		"Classify the following article into exactly one of these genres: %s.\n\nTitle: %s\nContent: %s\n\nRespond with the genre only.",
		strings.Join(Genres, ", "), title, TruncateRunes(body, classifyBodyLimit))
	text, err := g.generate(ctx, prompt, 0.1)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (g *Gemini) generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{
				Parts: []geminiPart{{Text: prompt}},
			},
		},
		GenerationConfig: &geminiGenerationConfig{Temperature: temperature},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrBackendMalformed, err)
	}

	if len(geminiResp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", ErrBackendMalformed)
	}
	candidate := geminiResp.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no parts in candidate", ErrBackendMalformed)
	}

	return strings.TrimSpace(candidate.Content.Parts[0].Text), nil
}

// Gemini API types

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}
