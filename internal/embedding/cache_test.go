package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/kiku/internal/models"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Get("a")
	// b is now least recently used
	c.Set("c", []float32{6})
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

type countingEmbedder struct {
	*MockEmbedder
	batches [][]string
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, append([]string(nil), texts...))
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_OnlyMissesReachInner(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4)}
	e := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	first, err := e.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.EmbedBatch(ctx, []string{"b", "c", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(inner.batches) != 2 || len(inner.batches[1]) != 1 || inner.batches[1][0] != "c" {
		t.Fatalf("inner batches = %v, want second batch [c]", inner.batches)
	}
	if second[0][0] != first[1][0] || second[2][0] != first[0][0] {
		t.Error("cached vectors should be returned in input order")
	}
	if e.Dimensions() != 4 {
		t.Errorf("Dimensions() = %d", e.Dimensions())
	}
}

func TestNewCachedEmbedder_ZeroSizeReturnsInner(t *testing.T) {
	inner := NewMockEmbedder(4)
	if got := NewCachedEmbedder(inner, 0); got != Embedder(inner) {
		t.Error("size 0 should return inner embedder")
	}
}

// miscountingEmbedder returns delta more (or fewer) vectors than asked for.
type miscountingEmbedder struct {
	*MockEmbedder
	delta int
}

func (m *miscountingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts)+m.delta)
	for i := range out {
		out[i] = make([]float32, m.Dimensions())
	}
	return out, nil
}

func TestCachedEmbedder_RejectsWrongVectorCount(t *testing.T) {
	for _, delta := range []int{1, -1} {
		e := NewCachedEmbedder(&miscountingEmbedder{MockEmbedder: NewMockEmbedder(4), delta: delta}, 10)
		got, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
		if !errors.Is(err, models.ErrEmbedding) {
			t.Fatalf("delta %d: err = %v, want ErrEmbedding", delta, err)
		}
		if got != nil {
			t.Errorf("delta %d: got %d vectors, want none", delta, len(got))
		}
	}
}
