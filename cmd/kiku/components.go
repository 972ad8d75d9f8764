package main

import (
	"fmt"
	"net/http"

	"github.com/hyperjump/kiku/internal/chunker"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/extract"
	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/index"
	"github.com/hyperjump/kiku/internal/indexer"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/search"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Storage   storage.Storage
	Store     *index.Store
	Embedder  embedding.Embedder
	Indexer   *indexer.Indexer
	Retriever *search.Retriever
	Generator generation.Generator
	RAG       *rag.Orchestrator
}

// Close releases the embedder, the index handles and the durable store.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	st, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Storage: st}

	newIndex, err := vector.Factory(cfg.Storage.Index)
	if err != nil {
		logger.Warn("falling back to memory vector index",
			zap.String("requested_type", cfg.Storage.Index), zap.Error(err))
		if newIndex, err = vector.Factory(string(vector.IndexTypeMemory)); err != nil {
			c.Close()
			return nil, err
		}
	}
	c.Store = index.NewStore(st, index.WithLogger(logger), index.WithIndexFactory(newIndex))
	logger.Info("index store initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("path", cfg.Storage.Path),
		zap.String("vector_index", cfg.Storage.Index),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	c.Embedder, err = newEmbedder(&cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	splitter, err := chunker.NewSplitter(cfg.Chunking.Splitter)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize sentence splitter: %w", err)
	}
	ch := chunker.NewChunker(cfg.Chunking.GroupSize, splitter)

	var idxOpts []indexer.IndexerOption
	var searchOpts []search.RetrieverOption
	var ragOpts []rag.Option
	if debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
		searchOpts = append(searchOpts, search.WithLogger(logger))
	}
	ragOpts = append(ragOpts, rag.WithLogger(logger))

	c.Indexer = indexer.NewIndexer(c.Store, c.Embedder, ch, extract.NewExtractor(), idxOpts...)
	c.Retriever = search.NewRetriever(c.Embedder, c.Store, &cfg.Retrieval, searchOpts...)

	c.Generator, err = newGenerator(&cfg.Generation, logger)
	if err != nil {
		// ingest and retrieve still work; answers fail with a generation error
		logger.Warn("generator unavailable", zap.String("provider", cfg.Generation.Provider), zap.Error(err))
		c.Generator = nil
	}
	c.RAG = rag.NewOrchestrator(c.Indexer, c.Retriever, c.Generator, ragOpts...)
	return c, nil
}

// newEmbedder builds the provider and wraps it with the length policy and the cache.
func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	var provider embedding.Embedder
	switch cfg.Provider {
	case "mock":
		provider = embedding.NewMockEmbedder(cfg.Dimensions)
	case "onnx":
		e, err := embedding.NewONNXEmbedder(embedding.ONNXOptions{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		provider = e
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIOptions{
			BaseURL:    cfg.BaseURL,
			APIKey:     config.APIKey(cfg.APIKeyEnv),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		provider = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	truncator, err := embedding.NewTruncator(cfg.MaxTokens, embedding.Policy(cfg.Truncate), logger)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	logger.Info("embedder initialized",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", provider.Dimensions()),
		zap.String("truncate", cfg.Truncate),
		zap.Int("cache_size", cfg.CacheSize))
	return embedding.NewCachedEmbedder(embedding.NewTruncatingEmbedder(provider, truncator), cfg.CacheSize), nil
}

func newGenerator(cfg *config.GenerationConfig, logger *zap.Logger) (generation.Generator, error) {
	switch cfg.Provider {
	case "echo":
		return generation.EchoGenerator{}, nil
	case "gemini":
		g, err := generation.NewGeminiGenerator(cfg.BaseURL, cfg.Model, config.APIKey(cfg.APIKeyEnv), cfg.Timeout(),
			generation.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai":
		g, err := generation.NewOpenAIGenerator(cfg.BaseURL, cfg.Model, config.APIKey(cfg.APIKeyEnv),
			&http.Client{Timeout: cfg.Timeout()})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}
