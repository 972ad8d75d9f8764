// Package index keeps one searchable handle per namespace: a vector index
// plus the chunk texts aligned with its ordinals, backed by durable storage.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Handle is the in-memory state of one namespace. Its lock serializes adds
// against adds and searches; searches share it.
type Handle struct {
	namespace  string
	mu         sync.RWMutex
	dimensions int
	createdAt  time.Time
	index      vector.VectorIndex
	chunks     []string
	persisted  bool
	// stale handles were dropped from the store and must not take writes
	stale bool
}

// Namespace returns the handle's namespace.
func (h *Handle) Namespace() string {
	return h.namespace
}

// Size returns the number of entries.
func (h *Handle) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chunks)
}

// Store owns every namespace handle of one process. It assumes it is the only
// writer of its storage.
type Store struct {
	storage  storage.Storage
	newIndex func(dimensions int) (vector.VectorIndex, error)
	logger   *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	loads   singleflight.Group
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithIndexFactory sets the constructor for per-namespace vector indexes.
func WithIndexFactory(newIndex func(dimensions int) (vector.VectorIndex, error)) StoreOption {
	return func(s *Store) {
		s.newIndex = newIndex
	}
}

// NewStore creates a store over st. Indexes default to vector.MemoryIndex.
func NewStore(st storage.Storage, opts ...StoreOption) *Store {
	s := &Store{
		storage: st,
		newIndex: func(d int) (vector.VectorIndex, error) {
			return vector.NewMemoryIndex(d)
		},
		logger:  zap.NewNop(),
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Storage returns the durable store behind s.
func (s *Store) Storage() storage.Storage {
	return s.storage
}

// LoadOrCreate returns the handle for ns, loading it from storage on first
// access. A namespace without durable state gets an empty handle; nothing is
// written until the first Add.
func (s *Store) LoadOrCreate(ctx context.Context, ns string) (*Handle, error) {
	if err := models.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	h, err := s.handle(ctx, ns)
	if err != nil {
		return nil, err
	}
	return s.adopt(h), nil
}

// handle returns the cached handle or loads one without caching it.
func (s *Store) handle(ctx context.Context, ns string) (*Handle, error) {
	s.mu.Lock()
	h, ok := s.handles[ns]
	s.mu.Unlock()
	if ok {
		return h, nil
	}

	v, err, _ := s.loads.Do(ns, func() (interface{}, error) {
		s.mu.Lock()
		h, ok := s.handles[ns]
		s.mu.Unlock()
		if ok {
			return h, nil
		}
		return s.load(ctx, ns)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// adopt caches h unless another handle for the namespace won the race, in
// which case h is released and the cached handle returned.
func (s *Store) adopt(h *Handle) *Handle {
	s.mu.Lock()
	existing, ok := s.handles[h.namespace]
	if !ok {
		s.handles[h.namespace] = h
	}
	s.mu.Unlock()
	if !ok {
		return h
	}
	if existing != h {
		h.release(s.logger)
	}
	return existing
}

// release closes the handle's index and marks it stale.
func (h *Handle) release(logger *zap.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index != nil {
		if err := h.index.Close(); err != nil {
			logger.Warn("close index failed", zap.String("namespace", h.namespace), zap.Error(err))
		}
		h.index = nil
	}
	h.stale = true
}

// evict drops h from the cache. The caller holds h.mu.
func (s *Store) evict(h *Handle) {
	h.stale = true
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[h.namespace] == h {
		delete(s.handles, h.namespace)
	}
}

func (s *Store) load(ctx context.Context, ns string) (*Handle, error) {
	start := time.Now()
	data, err := s.storage.LoadNamespace(ctx, ns)
	if errors.Is(err, models.ErrNamespaceNotFound) {
		return &Handle{namespace: ns}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load namespace %s: %w", ns, err)
	}
	if len(data.Vectors) != len(data.Chunks) {
		return nil, fmt.Errorf("%w: namespace %s has %d vectors and %d chunks",
			models.ErrStorageCorruption, ns, len(data.Vectors), len(data.Chunks))
	}

	idx, err := s.newIndex(data.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("create index for %s: %w", ns, err)
	}
	if err := idx.Add(ctx, data.Vectors); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("%w: namespace %s: %v", models.ErrStorageCorruption, ns, err)
	}
	s.logger.Debug("namespace loaded",
		zap.String("namespace", ns),
		zap.Int("entries", len(data.Chunks)),
		zap.Int("dimensions", data.Dimensions),
		zap.Duration("elapsed", time.Since(start)))
	return &Handle{
		namespace:  ns,
		dimensions: data.Dimensions,
		createdAt:  data.CreatedAt,
		index:      idx,
		chunks:     data.Chunks,
		persisted:  true,
	}, nil
}

// AddOption attaches metadata to an Add.
type AddOption func(*storage.Batch)

// WithIngestID tags the added entries with the ingest that produced them.
func WithIngestID(id string) AddOption {
	return func(b *storage.Batch) {
		b.IngestID = id
	}
}

// WithFileRecord commits rec in the same transaction as the entries.
func WithFileRecord(rec *storage.FileRecord) AddOption {
	return func(b *storage.Batch) {
		b.File = rec
	}
}

// Add appends vectors and their chunk texts to ns, in input order. The batch
// is committed to durable storage before the in-memory handle changes; on
// any error the namespace is left as it was. An empty batch is a no-op.
func (s *Store) Add(ctx context.Context, ns string, vectors [][]float32, chunks []string, opts ...AddOption) error {
	if err := models.ValidateNamespace(ns); err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: %d vectors for %d chunks", models.ErrValidation, len(vectors), len(chunks))
	}
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w: empty vector", models.ErrValidation)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, batch has %d", models.ErrDimensionMismatch, i, len(v), dim)
		}
	}

	h, err := s.lockForWrite(ctx, ns)
	if err != nil {
		return err
	}
	defer h.mu.Unlock()

	if h.persisted && dim != h.dimensions {
		return fmt.Errorf("%w: namespace %s has dimension %d, got %d", models.ErrDimensionMismatch, ns, h.dimensions, dim)
	}
	idx := h.index
	if idx == nil {
		if idx, err = s.newIndex(dim); err != nil {
			return fmt.Errorf("create index for %s: %w", ns, err)
		}
	}

	batch := &storage.Batch{
		Dimensions:   dim,
		StartOrdinal: len(h.chunks),
		Vectors:      vectors,
		Chunks:       chunks,
	}
	for _, opt := range opts {
		opt(batch)
	}
	start := time.Now()
	if err := s.storage.AppendEntries(ctx, ns, batch); err != nil {
		if h.index == nil {
			_ = idx.Close()
		}
		return fmt.Errorf("append to %s: %w", ns, err)
	}

	if err := idx.Add(ctx, vectors); err != nil {
		// durable state is ahead of memory; reload on next access
		s.evict(h)
		return fmt.Errorf("update index for %s: %w", ns, err)
	}
	if !h.persisted {
		h.createdAt = time.Now().UTC()
	}
	h.index = idx
	h.dimensions = dim
	h.chunks = append(h.chunks, chunks...)
	h.persisted = true

	s.logger.Debug("entries added",
		zap.String("namespace", ns),
		zap.Int("added", len(chunks)),
		zap.Int("size", len(h.chunks)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// lockForWrite returns the live handle for ns with its write lock held.
func (s *Store) lockForWrite(ctx context.Context, ns string) (*Handle, error) {
	for {
		h, err := s.LoadOrCreate(ctx, ns)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		if !h.stale {
			return h, nil
		}
		h.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Search returns up to k entries of ns nearest to query, ascending by
// squared L2 distance with ties broken by lower ordinal.
func (s *Store) Search(ctx context.Context, ns string, query []float32, k int) (models.RetrievalResult, error) {
	if err := models.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrValidation, k)
	}
	h, err := s.handle(ctx, ns)
	if err != nil {
		return nil, err
	}
	h.mu.RLock()
	persisted := h.persisted
	h.mu.RUnlock()
	if persisted {
		h = s.adopt(h)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.persisted || h.index == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrNamespaceNotFound, ns)
	}
	if len(query) != h.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, namespace %s has %d",
			models.ErrDimensionMismatch, len(query), ns, h.dimensions)
	}

	neighbors, err := h.index.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", ns, err)
	}
	result := make(models.RetrievalResult, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Ordinal < 0 || n.Ordinal >= len(h.chunks) {
			continue
		}
		result = append(result, models.RetrievedChunk{
			Ordinal:  n.Ordinal,
			Text:     h.chunks[n.Ordinal],
			Distance: n.Distance,
		})
	}
	return result, nil
}

// Stats describes ns. It fails with ErrNamespaceNotFound when ns has no entries.
func (s *Store) Stats(ctx context.Context, ns string) (*models.NamespaceInfo, error) {
	if err := models.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	h, err := s.handle(ctx, ns)
	if err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.persisted {
		return nil, fmt.Errorf("%w: %s", models.ErrNamespaceNotFound, ns)
	}
	return &models.NamespaceInfo{
		Name:       ns,
		Dimensions: h.dimensions,
		Chunks:     len(h.chunks),
		CreatedAt:  h.createdAt,
	}, nil
}

// Namespaces lists every namespace with durable state.
func (s *Store) Namespaces(ctx context.Context) ([]models.NamespaceInfo, error) {
	return s.storage.ListNamespaces(ctx)
}

// FileRecord returns what was recorded for fileID in ns, or nil.
func (s *Store) FileRecord(ctx context.Context, ns, fileID string) (*storage.FileRecord, error) {
	return s.storage.GetFileRecord(ctx, ns, fileID)
}

// Close releases the in-memory indexes. The storage is closed by its owner.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for ns, h := range s.handles {
		h.mu.Lock()
		if h.index != nil {
			if err := h.index.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close index %s: %w", ns, err))
			}
			h.index = nil
		}
		h.persisted = false
		h.stale = true
		h.mu.Unlock()
		delete(s.handles, ns)
	}
	return errors.Join(errs...)
}
