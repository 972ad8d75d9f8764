// Package vector provides ordinal-addressed nearest-neighbor indexes.
package vector

import (
	"context"
	"sort"
)

// VectorIndex is an append-only exact k-NN index. Vectors get ordinals
// 0..Size()-1 in insertion order. Distances are squared Euclidean (L2).
type VectorIndex interface {
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	Size() int
	Dimensions() int
	Close() error
}

// Neighbor is one search hit.
type Neighbor struct {
	Ordinal  int
	Distance float32
}

// SquaredL2 returns the squared Euclidean distance between equal-length vectors.
func SquaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// sortNeighbors orders by ascending distance, ties by lower ordinal.
func sortNeighbors(n []Neighbor) {
	sort.Slice(n, func(i, j int) bool {
		if n[i].Distance != n[j].Distance {
			return n[i].Distance < n[j].Distance
		}
		return n[i].Ordinal < n[j].Ordinal
	})
}
