package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/pkg/utils"
	"go.uber.org/zap"
)

// maxResponseBytes bounds how much of a generation response is read.
const maxResponseBytes = 8 << 20

// GeminiGenerator calls the Gemini generateContent REST endpoint.
type GeminiGenerator struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// GeminiOption configures a GeminiGenerator.
type GeminiOption func(*GeminiGenerator)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *GeminiGenerator) {
		g.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) GeminiOption {
	return func(g *GeminiGenerator) {
		g.logger = logger
	}
}

// NewGeminiGenerator creates a generator for model at baseURL
// (e.g. https://generativelanguage.googleapis.com/v1beta).
func NewGeminiGenerator(baseURL, model, apiKey string, timeout time.Duration, opts ...GeminiOption) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini generator: api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini generator: model is required")
	}
	g := &GeminiGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = utils.OrNop(g.logger)
	return g, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: BuildPrompt(req)}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		// the URL carries the key; report only the model
		return nil, fmt.Errorf("%w: gemini %s request failed: %v", models.ErrGeneration, g.model, redact(err, g.apiKey))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read gemini response: %v", models.ErrGeneration, err)
	}
	g.logger.Debug("gemini response",
		zap.String("model", g.model),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: gemini returned %d: %s", models.ErrGeneration, resp.StatusCode, utils.Truncate(string(data), 200))
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: gemini returned invalid JSON", models.ErrGeneration)
	}
	return json.RawMessage(data), nil
}

func redact(err error, secret string) string {
	return strings.ReplaceAll(err.Error(), url.QueryEscape(secret), "REDACTED")
}
