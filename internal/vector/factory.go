package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses a FAISS IndexFlatL2. Requires the FAISS C library
	// and building with -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// NewVectorIndex creates a vector index of the specified type ("memory" by default).
func NewVectorIndex(indexType string, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss)", indexType)
	}
}

// Factory returns a constructor bound to indexType, for callers that create
// one index per namespace.
func Factory(indexType string) (func(dimensions int) (VectorIndex, error), error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
	case IndexTypeFAISS:
		if !IsFAISSAvailable() {
			return nil, fmt.Errorf("index type faiss requested but FAISS support is not compiled in")
		}
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss)", indexType)
	}
	return func(dimensions int) (VectorIndex, error) {
		return NewVectorIndex(indexType, dimensions)
	}, nil
}

// IsFAISSAvailable reports whether FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
