package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kiku/internal/models"
)

func TestGeminiGenerator_PassesResponseThrough(t *testing.T) {
	const body = `{"candidates":[{"content":{"parts":[{"text":"42"}]}}]}`
	var gotPath, gotKey string
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator(srv.URL+"/v1beta/", "gemini-test", "secret", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := g.Generate(context.Background(), Request{RetrievedChunks: []string{"ctx"}, Question: "q?"})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != body {
		t.Errorf("response = %s, want unmodified body", raw)
	}
	if gotPath != "/v1beta/models/gemini-test:generateContent" {
		t.Errorf("path = %s", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("key = %s", gotKey)
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "Context:\nctx\n\nQuestion: q?" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestGeminiGenerator_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
	}))
	defer srv.Close()

	g, _ := NewGeminiGenerator(srv.URL, "m", "k", time.Second)
	_, err := g.Generate(context.Background(), Request{Question: "q"})
	if !errors.Is(err, models.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry the status: %v", err)
	}
}

func TestGeminiGenerator_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g, _ := NewGeminiGenerator(url, "m", "topsecret", time.Second)
	_, err := g.Generate(context.Background(), Request{Question: "q"})
	if !errors.Is(err, models.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if strings.Contains(err.Error(), "topsecret") {
		t.Errorf("error leaks api key: %v", err)
	}
}

func TestNewGeminiGenerator_RequiresKey(t *testing.T) {
	if _, err := NewGeminiGenerator("http://x", "m", "", time.Second); err == nil {
		t.Error("expected error without api key")
	}
}
