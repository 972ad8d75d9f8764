// Package embedding turns text into fixed-length vectors.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations are
// deterministic for a given model and input, and EmbedBatch returns exactly
// one vector per input in input order. Embedders are built once per process
// and shared; they must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ONNXOptions configures an ONNXEmbedder.
type ONNXOptions struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	// OutputName is the model output to read. Defaults to "last_hidden_state".
	OutputName string
	// Pooled marks models whose output is already one vector per input
	// (shape [1, dimensions]); otherwise token outputs are mean pooled.
	Pooled bool
}
