package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/kiku/internal/models"
)

const chatCompletion = `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"test-model",` +
	`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"42"}}],` +
	`"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`

func TestOpenAIGenerator_Generate(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			prompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(srv.URL+"/v1/", "test-model", "key", nil)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := g.Generate(context.Background(), Request{RetrievedChunks: []string{"c"}, Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(raw) || !strings.Contains(string(raw), `"chatcmpl-1"`) {
		t.Errorf("raw = %s", raw)
	}
	if prompt != "Context:\nc\n\nQuestion: q" {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestOpenAIGenerator_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"down"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g, _ := NewOpenAIGenerator(srv.URL+"/v1/", "m", "key", nil)
	if _, err := g.Generate(context.Background(), Request{Question: "q"}); !errors.Is(err, models.ErrGeneration) {
		t.Errorf("expected ErrGeneration, got %v", err)
	}
}
