package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kiku/internal/cli"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/vector"
)

// statusConfig holds configuration info returned by status.
type statusConfig struct {
	StorageBackend      string `json:"storage_backend"`
	StoragePath         string `json:"storage_path"`
	VectorIndex         string `json:"vector_index"`
	FAISSAvailable      bool   `json:"faiss_available"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	GroupSize           int    `json:"group_size"`
	Splitter            string `json:"splitter"`
	TopK                int    `json:"top_k"`
	GenerationProvider  string `json:"generation_provider"`
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Namespaces     int           `json:"namespaces"`
	Chunks         int           `json:"chunks"`
	DiskUsageBytes *int64        `json:"disk_usage_bytes,omitempty"`
	Config         *statusConfig `json:"config,omitempty"`
}

func localStatus(ctx context.Context, env *commandEnv) (*statusResponse, error) {
	list, err := env.components.Store.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	cfg := env.cfg
	status := &statusResponse{
		Namespaces: len(list),
		Config: &statusConfig{
			StorageBackend:      cfg.Storage.Backend,
			StoragePath:         cfg.Storage.Path,
			VectorIndex:         cfg.Storage.Index,
			FAISSAvailable:      vector.IsFAISSAvailable(),
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingDimensions: cfg.Embedding.Dimensions,
			GroupSize:           cfg.Chunking.GroupSize,
			Splitter:            cfg.Chunking.Splitter,
			TopK:                cfg.Retrieval.TopK,
			GenerationProvider:  cfg.Generation.Provider,
		},
	}
	for _, ns := range list {
		status.Chunks += ns.Chunks
	}
	if n, err := storage.DiskUsageBytes(storage.DatabaseFiles(cfg.Storage.Backend, cfg.Storage.Path)...); err == nil {
		status.DiskUsageBytes = &n
	}
	return status, nil
}

func writeStatus(w io.Writer, s *statusResponse, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	fmt.Fprintf(w, "namespaces:         %d   # namespaces with stored chunks\n", s.Namespaces)
	fmt.Fprintf(w, "chunks:             %d   # chunks across all namespaces\n", s.Chunks)
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *s.DiskUsageBytes)
	}
	if s.Config == nil {
		return nil
	}
	c := s.Config
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "storage_backend:    %s\n", c.StorageBackend)
	if c.StoragePath != "" {
		fmt.Fprintf(w, "storage_path:       %s\n", c.StoragePath)
	}
	fmt.Fprintf(w, "vector_index:       %s (faiss available: %t)\n", c.VectorIndex, c.FAISSAvailable)
	fmt.Fprintf(w, "embedding:          %s, %d dims\n", c.EmbeddingProvider, c.EmbeddingDimensions)
	fmt.Fprintf(w, "chunking:           %s, %d sentences per chunk\n", c.Splitter, c.GroupSize)
	fmt.Fprintf(w, "top_k:              %d\n", c.TopK)
	_, err := fmt.Fprintf(w, "generation:         %s\n", c.GenerationProvider)
	return err
}
