// Package generation sends retrieved context and a question to an answer
// generation service.
package generation

import (
	"context"
	"encoding/json"
	"strings"
)

// Request is the payload handed to a Generator.
type Request struct {
	RetrievedChunks []string `json:"retrievedChunks"`
	Question        string   `json:"question"`
}

// Generator produces an answer. The service response is returned as-is.
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// BuildPrompt renders the single prompt sent to text generation services.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(req.RetrievedChunks, "\n"))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(req.Question)
	return b.String()
}

// EchoGenerator returns the request itself. Used offline and in development.
type EchoGenerator struct{}

// Generate implements Generator.
func (EchoGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(req)
}
