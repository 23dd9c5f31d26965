package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func lmStudioServer(t *testing.T, handler http.HandlerFunc) *LMStudio {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewLMStudio(server.URL+"/v1", "lm-studio", "local-model", 5*time.Second)
}

func chatCompletionResponse(content string) string {
	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1736150400,
		"model":   "local-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestLMStudioTranslate(t *testing.T) {
	var gotModel string
	var gotMessages []map[string]string
	backend := lmStudioServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		gotMessages = req.Messages
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletionResponse("translated text")))
	})

	got, err := backend.Translate(context.Background(), "Hello", "Japanese")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "translated text" {
		t.Errorf("got %q", got)
	}
	if gotModel != "local-model" {
		t.Errorf("model = %q, want local-model", gotModel)
	}
	if len(gotMessages) != 2 || gotMessages[0]["role"] != "system" {
		t.Errorf("expected system + user messages, got %v", gotMessages)
	}
	if !strings.Contains(gotMessages[1]["content"], "Hello") {
		t.Errorf("user message missing source text: %v", gotMessages[1])
	}
}

func TestLMStudioSummarize(t *testing.T) {
	backend := lmStudioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletionResponse("  a summary  ")))
	})

	got, err := backend.Summarize(context.Background(), "long text", 200)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if got != "a summary" {
		t.Errorf("got %q, want trimmed summary", got)
	}
}

func TestLMStudioClassify(t *testing.T) {
	backend := lmStudioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletionResponse("sports")))
	})

	got, err := backend.Classify(context.Background(), "Match result", "body")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if got != "sports" {
		t.Errorf("got %q", got)
	}
}

func TestLMStudioServerError(t *testing.T) {
	backend := lmStudioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "model crashed", "type": "server_error"}}`))
	})

	_, err := backend.Translate(context.Background(), "text", "Japanese")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestLMStudioUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()
	backend := NewLMStudio(server.URL+"/v1", "lm-studio", "local-model", time.Second)

	_, err := backend.Translate(context.Background(), "text", "Japanese")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestLMStudioEmptyChoices(t *testing.T) {
	backend := lmStudioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "chatcmpl-1", "object": "chat.completion", "choices": []}`))
	})

	_, err := backend.Summarize(context.Background(), "text", 100)
	if !errors.Is(err, ErrBackendMalformed) {
		t.Errorf("err = %v, want ErrBackendMalformed", err)
	}
}
