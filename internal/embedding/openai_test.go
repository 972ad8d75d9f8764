package embedding

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

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeEmbeddingsServer answers with vectors [len(text), i] in reverse order
// so clients must sort by index.
func fakeEmbeddingsServer(t *testing.T, dims int, requests *[]embeddingsRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*requests = append(*requests, req)
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float64, dims)
			vec[0] = float64(len(req.Input[i]))
			if dims > 1 {
				vec[1] = float64(i)
			}
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var requests []embeddingsRequest
	srv := fakeEmbeddingsServer(t, 3, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIOptions{BaseURL: srv.URL + "/v1/", APIKey: "test", Model: "test-model", BatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	texts := []string{"a", "bb", "ccc"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 2 {
		t.Errorf("expected 2 requests for batch size 2, got %d", len(requests))
	}
	if requests[0].Model != "test-model" {
		t.Errorf("model = %s", requests[0].Model)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vector %d belongs to wrong input: %v", i, vecs[i])
		}
	}
	if e.Dimensions() != 3 {
		t.Errorf("Dimensions() = %d, want 3 after first response", e.Dimensions())
	}
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	var requests []embeddingsRequest
	srv := fakeEmbeddingsServer(t, 3, &requests)
	defer srv.Close()

	e, _ := NewOpenAIEmbedder(OpenAIOptions{BaseURL: srv.URL + "/v1/", APIKey: "test", Model: "m", Dimensions: 8})
	if _, err := e.Embed(context.Background(), "x"); !errors.Is(err, models.ErrEmbedding) {
		t.Errorf("expected ErrEmbedding, got %v", err)
	}
}

func TestOpenAIEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _ := NewOpenAIEmbedder(OpenAIOptions{BaseURL: srv.URL + "/v1/", APIKey: "test", Model: "m"})
	if _, err := e.Embed(context.Background(), "x"); !errors.Is(err, models.ErrEmbedding) {
		t.Errorf("expected ErrEmbedding, got %v", err)
	}
}

func TestNewOpenAIEmbedder_RequiresModel(t *testing.T) {
	if _, err := NewOpenAIEmbedder(OpenAIOptions{}); err == nil {
		t.Error("expected error without model")
	}
}
