package embedding

import (
	"math"

	"github.com/poiesic/ragcore/core"
)

// NormalizeVector normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}

// checkVectors verifies a provider response against its request: one
// non-empty vector per text, all of the same dimension as want. A want of
// zero accepts the first vector's dimension. It returns the dimension seen.
func checkVectors(vectors [][]float32, texts, want int) (int, error) {
	if len(vectors) != texts {
		return 0, core.Errorf(core.KindValidation, "%w: got %d, want %d", ErrLengthMismatch, len(vectors), texts)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return 0, core.Errorf(core.KindValidation, "%w: position %d", ErrEmptyVector, i)
		}
		if want == 0 {
			want = len(v)
		}
		if len(v) != want {
			return 0, core.Errorf(core.KindValidation, "%w: position %d has %d, want %d", ErrDimensionMismatch, i, len(v), want)
		}
	}
	return want, nil
}
