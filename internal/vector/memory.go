package vector

import (
	"context"
	"fmt"
	"sync"
)

// MemoryIndex is a flat in-memory index using brute-force L2 search.
// Vectors are stored row-major in one contiguous slice.
type MemoryIndex struct {
	dimensions int
	data       []float32
	n          int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty index for vectors of the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Add appends vectors. Either every vector is added or none is.
func (m *MemoryIndex) Add(ctx context.Context, vectors [][]float32) error {
	for i, vec := range vectors {
		if len(vec) != m.dimensions {
			return fmt.Errorf("vector %d dimension mismatch: got %d, expected %d", i, len(vec), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, vec := range vectors {
		m.data = append(m.data, vec...)
	}
	m.n += len(vectors)
	return nil
}

// Search returns up to k nearest vectors by squared L2 distance.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || m.n == 0 {
		return nil, nil
	}
	all := make([]Neighbor, m.n)
	for i := 0; i < m.n; i++ {
		row := m.data[i*m.dimensions : (i+1)*m.dimensions]
		all[i] = Neighbor{Ordinal: i, Distance: SquaredL2(query, row)}
	}
	sortNeighbors(all)
	if k > len(all) {
		k = len(all)
	}
	return all[:k], nil
}

// Vector returns a copy of the vector at ordinal i.
func (m *MemoryIndex) Vector(i int) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= m.n {
		return nil, false
	}
	out := make([]float32, m.dimensions)
	copy(out, m.data[i*m.dimensions:(i+1)*m.dimensions])
	return out, true
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.n
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
