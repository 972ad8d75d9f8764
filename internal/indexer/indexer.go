// Package indexer turns documents into chunks, embeds them and appends them to a namespace.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kiku/internal/chunker"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/extract"
	"github.com/hyperjump/kiku/internal/fileid"
	"github.com/hyperjump/kiku/internal/index"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/storage"
	"go.uber.org/zap"
)

// Result describes one ingest.
type Result struct {
	IngestID  string
	Namespace string
	Chunks    int
	// Size is the namespace size after the ingest.
	Size int
	// Skipped is set when a file was already ingested at this mtime and size.
	Skipped bool
}

// Indexer chunks, embeds and stores documents.
type Indexer struct {
	store     *index.Store
	embedder  embedding.Embedder
	chunker   *chunker.Chunker
	extractor *extract.Extractor
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger for ingest events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer builds an Indexer. extractor may be nil, in which case files are read as plain text.
func NewIndexer(store *index.Store, embedder embedding.Embedder, ch *chunker.Chunker, extractor *extract.Extractor, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:     store,
		embedder:  embedder,
		chunker:   ch,
		extractor: extractor,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexText ingests a raw document into ns. A document that yields no chunks
// is rejected with ErrValidation; an embedding failure aborts before any write.
func (idx *Indexer) IndexText(ctx context.Context, ns, text string) (*Result, error) {
	return idx.index(ctx, ns, text, nil)
}

// IndexContent extracts text from an uploaded file by its name's extension, then ingests it.
func (idx *Indexer) IndexContent(ctx context.Context, ns, filename string, content []byte) (*Result, error) {
	if err := models.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	text, err := idx.extractBytes(content, filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrValidation, filename, err)
	}
	return idx.index(ctx, ns, text, nil)
}

// IndexFile ingests the file at path into ns. If allowedExts is non-empty the
// extension must be listed. A file already ingested with the same mtime and
// size is skipped, since entries can never be replaced.
func (idx *Indexer) IndexFile(ctx context.Context, ns, path string, allowedExts []string) (*Result, error) {
	if err := models.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	absPath, docID, err := fileid.Resolve(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !ExtensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("%w: extension %q not in allowed list", models.ErrValidation, ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", models.ErrValidation, absPath)
	}

	prev, err := idx.store.FileRecord(ctx, ns, docID)
	if err != nil {
		return nil, err
	}
	if prev.Unchanged(info.ModTime(), info.Size()) {
		idx.logger.Debug("indexer skipping unchanged file",
			zap.String("namespace", ns), zap.String("path", absPath))
		return &Result{IngestID: prev.IngestID, Namespace: ns, Skipped: true}, nil
	}

	text, err := idx.extractFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	rec := &storage.FileRecord{
		FileID:  docID,
		Path:    absPath,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}
	res, err := idx.index(ctx, ns, text, rec)
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("indexer file indexed",
		zap.String("namespace", ns), zap.String("path", absPath), zap.String("file_id", docID))
	return res, nil
}

// IndexDirectory ingests each regular file under dir whose extension is allowed.
// Subdirectories are walked only when recursive is set. It returns the number
// of files ingested (skipped files excluded) and the first error.
func (idx *Indexer) IndexDirectory(ctx context.Context, ns, dir string, allowedExts []string, recursive bool) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%w: not a directory: %s", models.ErrValidation, absDir)
	}
	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if len(allowedExts) > 0 && !ExtensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// follow symlinks, but only to regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, indexErr := idx.IndexFile(ctx, ns, path, allowedExts)
		if indexErr != nil {
			return fmt.Errorf("%s: %w", path, indexErr)
		}
		if !res.Skipped {
			n++
		}
		return nil
	})
	return n, err
}

func (idx *Indexer) index(ctx context.Context, ns, text string, rec *storage.FileRecord) (*Result, error) {
	if err := models.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	chunks := idx.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document has no content", models.ErrValidation)
	}
	start := time.Now()
	vectors, err := idx.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		if errors.Is(err, models.ErrEmbedding) {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		return nil, fmt.Errorf("%w: embed chunks: %w", models.ErrEmbedding, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: %d embeddings for %d chunks", models.ErrEmbedding, len(vectors), len(chunks))
	}

	ingestID := uuid.New().String()
	opts := []index.AddOption{index.WithIngestID(ingestID)}
	if rec != nil {
		rec.IngestID = ingestID
		opts = append(opts, index.WithFileRecord(rec))
	}
	if err := idx.store.Add(ctx, ns, vectors, chunks, opts...); err != nil {
		return nil, err
	}
	size := 0
	if info, err := idx.store.Stats(ctx, ns); err == nil {
		size = info.Chunks
	}
	idx.logger.Debug("indexer document ingested",
		zap.String("namespace", ns),
		zap.String("ingest_id", ingestID),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)))
	return &Result{IngestID: ingestID, Namespace: ns, Chunks: len(chunks), Size: size}, nil
}

func (idx *Indexer) extractFile(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (idx *Indexer) extractBytes(content []byte, ext string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.ExtractBytes(content, ext)
	}
	return string(content), nil
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and leading dots.
func ExtensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
