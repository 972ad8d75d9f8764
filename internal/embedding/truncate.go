package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/pkg/utils"
	"go.uber.org/zap"
)

// Policy decides what happens to input longer than the embedding limit.
type Policy string

const (
	// PolicyTruncate drops every word past the limit. This is lossy: the
	// dropped tail does not influence the vector stored for the chunk.
	PolicyTruncate Policy = "truncate"
	// PolicyReject fails the call with ErrInputTooLong.
	PolicyReject Policy = "reject"
)

// Truncator applies the input length policy. Length is counted in
// whitespace-separated words, which bounds model tokens from below.
type Truncator struct {
	maxWords int
	policy   Policy
	logger   *zap.Logger
}

// NewTruncator returns a truncator. A non-positive maxWords disables the limit.
func NewTruncator(maxWords int, policy Policy, logger *zap.Logger) (*Truncator, error) {
	switch policy {
	case PolicyTruncate, PolicyReject:
	case "":
		policy = PolicyTruncate
	default:
		return nil, fmt.Errorf("unknown truncation policy %q", policy)
	}
	return &Truncator{maxWords: maxWords, policy: policy, logger: utils.OrNop(logger)}, nil
}

// Apply returns text within the limit, or an error under PolicyReject.
func (t *Truncator) Apply(text string) (string, error) {
	if t == nil || t.maxWords <= 0 {
		return text, nil
	}
	words := strings.Fields(text)
	if len(words) <= t.maxWords {
		return text, nil
	}
	if t.policy == PolicyReject {
		return "", fmt.Errorf("%w: %w: %d words, limit %d", models.ErrEmbedding, models.ErrInputTooLong, len(words), t.maxWords)
	}
	t.logger.Debug("truncating embedding input",
		zap.Int("words", len(words)),
		zap.Int("limit", t.maxWords))
	return strings.Join(words[:t.maxWords], " "), nil
}

// TruncatingEmbedder applies a Truncator before delegating to the wrapped embedder.
type TruncatingEmbedder struct {
	inner     Embedder
	truncator *Truncator
}

// NewTruncatingEmbedder wraps inner with the given policy.
func NewTruncatingEmbedder(inner Embedder, truncator *Truncator) *TruncatingEmbedder {
	return &TruncatingEmbedder{inner: inner, truncator: truncator}
}

// Embed implements Embedder.
func (e *TruncatingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text, err := e.truncator.Apply(text)
	if err != nil {
		return nil, err
	}
	return e.inner.Embed(ctx, text)
}

// EmbedBatch implements Embedder. Under PolicyReject one oversized input fails the whole batch.
func (e *TruncatingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	in := make([]string, len(texts))
	for i, text := range texts {
		t, err := e.truncator.Apply(text)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		in[i] = t
	}
	return e.inner.EmbedBatch(ctx, in)
}

// Dimensions implements Embedder.
func (e *TruncatingEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close implements Embedder.
func (e *TruncatingEmbedder) Close() error {
	return e.inner.Close()
}
