// Package search retrieves the chunks nearest to a query.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/index"
	"github.com/hyperjump/kiku/internal/models"
	"go.uber.org/zap"
)

// Retriever embeds a query and searches one namespace. It holds no
// per-request state and is safe for concurrent use.
type Retriever struct {
	embedder embedding.Embedder
	store    *index.Store
	config   *config.RetrievalConfig
	logger   *zap.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithLogger sets the logger for the retriever.
func WithLogger(logger *zap.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever creates a retriever with the given dependencies.
func NewRetriever(embedder embedding.Embedder, store *index.Store, cfg *config.RetrievalConfig, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder: embedder,
		store:    store,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultK returns the number of results used when the caller passes k <= 0.
func (r *Retriever) DefaultK() int {
	if r.config == nil || r.config.TopK <= 0 {
		return 5
	}
	return r.config.TopK
}

// Retrieve returns up to k chunks of namespace nearest to query. A
// non-positive k uses DefaultK.
func (r *Retriever) Retrieve(ctx context.Context, namespace, query string, k int) (models.RetrievalResult, error) {
	maxK := 0
	if r.config != nil {
		maxK = r.config.MaxK
	}
	query, k, err := ProcessQuery(namespace, query, k, r.DefaultK(), maxK)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, models.ErrEmbedding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}
	result, err := r.store.Search(ctx, namespace, vec, k)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("retrieved",
		zap.String("namespace", namespace),
		zap.Int("k", k),
		zap.Int("results", len(result)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}
