//go:build faiss && cgo
// +build faiss,cgo

package vector

import (
	"context"
	"testing"
)

func TestFAISSIndex_MatchesMemoryIndex(t *testing.T) {
	ctx := context.Background()
	vecs := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0, 1}}

	f, err := NewFAISSIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	m, _ := NewMemoryIndex(3)
	if err := f.Add(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	_ = m.Add(ctx, vecs)
	if f.Size() != 4 {
		t.Errorf("Size=%d, want 4", f.Size())
	}

	query := []float32{0.8, 0.2, 0}
	fr, err := f.Search(ctx, query, 3)
	if err != nil {
		t.Fatal(err)
	}
	mr, _ := m.Search(ctx, query, 3)
	if len(fr) != len(mr) {
		t.Fatalf("result counts differ: %d vs %d", len(fr), len(mr))
	}
	for i := range fr {
		if fr[i].Ordinal != mr[i].Ordinal {
			t.Errorf("rank %d: faiss ordinal %d, memory ordinal %d", i, fr[i].Ordinal, mr[i].Ordinal)
		}
	}
}

func TestFAISSIndex_SearchEmpty(t *testing.T) {
	idx, err := NewFAISSIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}
