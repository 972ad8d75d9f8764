package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"x", 0, "x"},
		{"héllo wörld", 4, "héll..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	if v[0] < 0.599 || v[0] > 0.601 || v[1] < 0.799 || v[1] > 0.801 {
		t.Errorf("NormalizeL2 = %v, want [0.6 0.8]", v)
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}

func TestMeanPool(t *testing.T) {
	data := []float32{1, 2, 3, 4, 100, 100}
	got := MeanPool(data, 3, 2, []int64{1, 1, 0})
	if got[0] != 2 || got[1] != 3 {
		t.Errorf("MeanPool = %v, want [2 3]", got)
	}
	all := MeanPool([]float32{2, 4}, 1, 2, nil)
	if all[0] != 2 || all[1] != 4 {
		t.Errorf("MeanPool nil mask = %v", all)
	}
}
