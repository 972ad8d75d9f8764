// Package storage persists namespace entries (chunk text plus embedding) in
// a single transactional store.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/kiku/internal/models"
)

// Storage is the durable state of every namespace. Entries are append-only
// and addressed by a per-namespace ordinal starting at 0.
type Storage interface {
	// LoadNamespace returns every entry of the namespace in ordinal order.
	// It fails with models.ErrNamespaceNotFound when nothing was ever stored,
	// and with models.ErrStorageCorruption when the stored state is not a
	// contiguous, dimension-consistent sequence.
	LoadNamespace(ctx context.Context, namespace string) (*NamespaceData, error)
	// AppendEntries writes the batch atomically: all entries and the optional
	// file record commit together or not at all.
	AppendEntries(ctx context.Context, namespace string, batch *Batch) error
	ListNamespaces(ctx context.Context) ([]models.NamespaceInfo, error)
	// GetFileRecord returns nil, nil when the file was never ingested.
	GetFileRecord(ctx context.Context, namespace, fileID string) (*FileRecord, error)
	Close() error
}

// NamespaceData is the loaded state of one namespace.
type NamespaceData struct {
	Namespace  string
	Dimensions int
	CreatedAt  time.Time
	Vectors    [][]float32
	Chunks     []string
}

// Batch is one append. StartOrdinal must equal the number of entries
// already stored; a mismatch means another writer touched the namespace.
type Batch struct {
	Dimensions   int
	StartOrdinal int
	Vectors      [][]float32
	Chunks       []string
	IngestID     string
	File         *FileRecord
}

// FileRecord remembers which version of a file was ingested into a namespace.
type FileRecord struct {
	FileID   string
	Path     string
	ModTime  time.Time
	Size     int64
	IngestID string
}

// Unchanged reports whether the record describes a file with this mtime and size.
func (r *FileRecord) Unchanged(modTime time.Time, size int64) bool {
	return r != nil && r.ModTime.Equal(modTime) && r.Size == size
}

func (b *Batch) validate() error {
	if len(b.Vectors) != len(b.Chunks) {
		return fmt.Errorf("%w: %d vectors for %d chunks", models.ErrValidation, len(b.Vectors), len(b.Chunks))
	}
	if b.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", models.ErrValidation)
	}
	for i, v := range b.Vectors {
		if len(v) != b.Dimensions {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", models.ErrDimensionMismatch, i, len(v), b.Dimensions)
		}
	}
	return nil
}

// Open returns the backend named by backend ("sqlite" or "bolt") at path.
func Open(backend, path string) (Storage, error) {
	switch backend {
	case "", "sqlite":
		return NewSQLiteStorage(path)
	case "bolt":
		return NewBoltStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: sqlite, bolt)", backend)
	}
}

func corruptf(namespace, format string, args ...any) error {
	return fmt.Errorf("%w: namespace %s: %s", models.ErrStorageCorruption, namespace, fmt.Sprintf(format, args...))
}
