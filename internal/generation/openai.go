package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hyperjump/kiku/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGenerator sends the prompt to an OpenAI-compatible chat completions
// endpoint and returns the raw completion JSON.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator creates the generator. Requests are never retried.
func NewOpenAIGenerator(baseURL, model, apiKey string, httpClient *http.Client) (*OpenAIGenerator, error) {
	if model == "" {
		return nil, fmt.Errorf("openai generator: model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), model: model}, nil
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(BuildPrompt(req)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %w", models.ErrGeneration, err)
	}
	raw := completion.RawJSON()
	if raw == "" {
		data, err := json.Marshal(completion)
		if err != nil {
			return nil, fmt.Errorf("%w: encode completion: %v", models.ErrGeneration, err)
		}
		return data, nil
	}
	return json.RawMessage(raw), nil
}
