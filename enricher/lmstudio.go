package enricher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// LMStudio is the locally-hosted inference backend. LM Studio exposes
// an OpenAI-compatible chat completions API.
type LMStudio struct {
	client *openai.Client
	model  string
}

// NewLMStudio creates a backend pointed at an OpenAI-compatible endpoint.
func NewLMStudio(baseURL, apiKey, model string, timeout time.Duration) *LMStudio {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &LMStudio{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Translate renders text into the target language.
func (l *LMStudio) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	system := fmt.Sprintf(
		"You are a high-accuracy translation AI. Translate the given text into natural %s. Respond with the translation only.",
		targetLanguage)
	user := fmt.Sprintf("Translate the following text into %s:\n%s", targetLanguage, text)
	return l.chat(ctx, system, user, 0.3, 2000)
}

// Summarize produces a summary within maxChars characters.
func (l *LMStudio) Summarize(ctx context.Context, text string, maxChars int) (string, error) {
	system := fmt.Sprintf(
		"You are an expert summarization AI. Summarize the given text in at most %d characters. Respond with the summary only.",
		maxChars)
	user := fmt.Sprintf("Summarize the following text:\n%s", text)
	return l.chat(ctx, system, user, 0.3, 1000)
}

// Classify picks a genre label for an article.
func (l *LMStudio) Classify(ctx context.Context, title, body string) (string, error) {
	system := fmt.Sprintf(
		"You are an article genre classification AI. Pick exactly one of these genres and respond with the genre only: %s.",
		strings.Join(Genres, ", "))
	user := fmt.Sprintf("Title: %s\nContent: %s\n\nClassify this article.",
		title, TruncateRunes(body, classifyBodyLimit))
	return l.chat(ctx, system, user, 0.1, 50)
}

func (l *LMStudio) chat(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	resp, err := l.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: l.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: system,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: user,
				},
			},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		},
	)
	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrBackendMalformed)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrBackendMalformed, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
