package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/hyperjump/kiku/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configures an OpenAIEmbedder.
type OpenAIOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	// Dimensions, when positive, is enforced on every returned vector.
	// Otherwise the first response fixes it.
	Dimensions int
	BatchSize  int
	HTTPClient *http.Client
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	batchSize int

	mu         sync.Mutex
	dimensions int
}

// NewOpenAIEmbedder builds the client. Requests are never retried.
func NewOpenAIEmbedder(opts OpenAIOptions) (*OpenAIEmbedder, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("openai embedder: model is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(reqOpts...),
		model:      opts.Model,
		batchSize:  opts.BatchSize,
		dimensions: opts.Dimensions,
	}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder, sending at most batchSize texts per request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings request: %w", models.ErrEmbedding, err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", models.ErrEmbedding, len(resp.Data), len(batch))
	}

	vecs := make([][]float32, len(batch))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(batch) || vecs[i] != nil {
			return nil, fmt.Errorf("%w: invalid embedding index %d", models.ErrEmbedding, d.Index)
		}
		if err := e.checkDimensions(len(d.Embedding)); err != nil {
			return nil, err
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vecs[i] = v
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) checkDimensions(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n == 0 {
		return fmt.Errorf("%w: empty embedding returned", models.ErrEmbedding)
	}
	if e.dimensions == 0 {
		e.dimensions = n
		return nil
	}
	if n != e.dimensions {
		return fmt.Errorf("%w: embedding has %d dimensions, want %d", models.ErrEmbedding, n, e.dimensions)
	}
	return nil
}

// Dimensions returns the vector length, or 0 before the first response when unconfigured.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}

// Close is a no-op; the HTTP client has no resources of its own.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
