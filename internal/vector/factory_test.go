package vector

import (
	"context"
	"testing"
)

func TestNewVectorIndex_Memory(t *testing.T) {
	for _, typ := range []string{"memory", ""} {
		idx, err := NewVectorIndex(typ, 3)
		if err != nil {
			t.Fatalf("NewVectorIndex(%q): %v", typ, err)
		}
		if err := idx.Add(context.Background(), [][]float32{{1, 0, 0}}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if idx.Size() != 1 || idx.Dimensions() != 3 {
			t.Errorf("Size=%d Dimensions=%d", idx.Size(), idx.Dimensions())
		}
		_ = idx.Close()
	}
}

func TestNewVectorIndex_Unknown(t *testing.T) {
	if _, err := NewVectorIndex("unknown", 3); err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestNewVectorIndex_InvalidDimension(t *testing.T) {
	if _, err := NewVectorIndex("memory", 0); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestFactory(t *testing.T) {
	newIndex, err := Factory("memory")
	if err != nil {
		t.Fatal(err)
	}
	idx, err := newIndex(4)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Dimensions() != 4 {
		t.Errorf("Dimensions=%d", idx.Dimensions())
	}
	if _, err := Factory("annoy"); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := Factory("faiss"); (err == nil) != IsFAISSAvailable() {
		t.Errorf("Factory(faiss) error %v inconsistent with IsFAISSAvailable=%v", err, IsFAISSAvailable())
	}
}
