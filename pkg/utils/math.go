package utils

import "math"

// NormalizeL2 scales x in place to unit L2 norm. A zero vector is left as is.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= inv
	}
}

// MeanPool averages rows of a row-major [rows x width] matrix, counting only
// rows whose mask entry is non-zero. A nil mask counts every row.
func MeanPool(data []float32, rows, width int, mask []int64) []float32 {
	out := make([]float32, width)
	var n float32
	for r := 0; r < rows; r++ {
		if mask != nil && (r >= len(mask) || mask[r] == 0) {
			continue
		}
		row := data[r*width : (r+1)*width]
		for i, v := range row {
			out[i] += v
		}
		n++
	}
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}
