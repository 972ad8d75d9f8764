// Package rag exposes the ingest, retrieve and answer commands that every
// transport (HTTP, CLI, watcher) drives.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/indexer"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/search"
	"go.uber.org/zap"
)

// IngestRequest adds a raw document to a namespace.
type IngestRequest struct {
	Namespace string `json:"namespace"`
	Text      string `json:"text"`
}

// IngestResponse reports what an ingest appended.
type IngestResponse struct {
	IngestID  string `json:"ingest_id"`
	Namespace string `json:"namespace"`
	Chunks    int    `json:"chunks"`
	Size      int    `json:"size"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// RetrieveRequest asks for the K chunks nearest to Query. K <= 0 uses the configured top_k.
type RetrieveRequest struct {
	Namespace string `json:"namespace"`
	Query     string `json:"query"`
	K         int    `json:"k,omitempty"`
}

// RetrieveResponse carries the retrieved chunks, nearest first.
type RetrieveResponse struct {
	Namespace string                 `json:"namespace"`
	Results   models.RetrievalResult `json:"results"`
}

// AnswerRequest asks a question against a namespace.
type AnswerRequest struct {
	Namespace string `json:"namespace"`
	Query     string `json:"query"`
}

// AnswerResponse holds the generation service response, unmodified.
type AnswerResponse struct {
	Namespace string          `json:"namespace"`
	Chunks    int             `json:"chunks"`
	Body      json.RawMessage `json:"body"`
}

// Orchestrator wires ingestion, retrieval and generation together.
type Orchestrator struct {
	indexer   *indexer.Indexer
	retriever *search.Retriever
	generator generation.Generator
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator builds an Orchestrator. generator may be nil when only
// ingestion and retrieval are used; Answer then fails with ErrGeneration.
func NewOrchestrator(idx *indexer.Indexer, retriever *search.Retriever, generator generation.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		indexer:   idx,
		retriever: retriever,
		generator: generator,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ingest chunks, embeds and appends req.Text to req.Namespace.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	res, err := o.indexer.IndexText(ctx, req.Namespace, req.Text)
	if err != nil {
		return nil, err
	}
	return toIngestResponse(res), nil
}

// IngestFile extracts text from an uploaded file, then ingests it like Ingest.
func (o *Orchestrator) IngestFile(ctx context.Context, ns, name string, content []byte) (*IngestResponse, error) {
	res, err := o.indexer.IndexContent(ctx, ns, name, content)
	if err != nil {
		return nil, err
	}
	return toIngestResponse(res), nil
}

// IngestPath ingests a file on local disk, skipping it if unchanged since its last ingest.
func (o *Orchestrator) IngestPath(ctx context.Context, ns, path string, allowedExts []string) (*IngestResponse, error) {
	res, err := o.indexer.IndexFile(ctx, ns, path, allowedExts)
	if err != nil {
		return nil, err
	}
	return toIngestResponse(res), nil
}

// IngestDirectory ingests every allowed file under dir and returns how many were new.
func (o *Orchestrator) IngestDirectory(ctx context.Context, ns, dir string, allowedExts []string, recursive bool) (int, error) {
	return o.indexer.IndexDirectory(ctx, ns, dir, allowedExts, recursive)
}

// Retrieve returns the chunks nearest to req.Query.
func (o *Orchestrator) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResponse, error) {
	res, err := o.retriever.Retrieve(ctx, req.Namespace, req.Query, req.K)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = models.RetrievalResult{}
	}
	return &RetrieveResponse{Namespace: req.Namespace, Results: res}, nil
}

// Answer retrieves top_k chunks for req.Query and hands them with the question
// to the Generator. A namespace with nothing to retrieve is ErrNamespaceNotFound.
func (o *Orchestrator) Answer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error) {
	if o.generator == nil {
		return nil, fmt.Errorf("%w: no generator configured", models.ErrGeneration)
	}
	res, err := o.retriever.Retrieve(ctx, req.Namespace, req.Query, o.retriever.DefaultK())
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrNamespaceNotFound, req.Namespace)
	}

	start := time.Now()
	body, err := o.generator.Generate(ctx, generation.Request{
		RetrievedChunks: res.Texts(),
		Question:        req.Query,
	})
	if err != nil {
		if !errors.Is(err, models.ErrGeneration) {
			err = fmt.Errorf("%w: %w", models.ErrGeneration, err)
		}
		o.logger.Warn("generation failed", zap.String("namespace", req.Namespace), zap.Error(err))
		return nil, err
	}
	o.logger.Debug("answer generated",
		zap.String("namespace", req.Namespace),
		zap.Int("chunks", len(res)),
		zap.Duration("elapsed", time.Since(start)))
	return &AnswerResponse{Namespace: req.Namespace, Chunks: len(res), Body: body}, nil
}

func toIngestResponse(res *indexer.Result) *IngestResponse {
	return &IngestResponse{
		IngestID:  res.IngestID,
		Namespace: res.Namespace,
		Chunks:    res.Chunks,
		Size:      res.Size,
		Skipped:   res.Skipped,
	}
}
