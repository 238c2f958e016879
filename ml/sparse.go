package ml

import (
	"math"
	"sort"
)

// SparseVector holds the non-zero entries of a feature row. Indices are
// strictly increasing.
type SparseVector struct {
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
}

func newSparseVector(counts map[int]float64) SparseVector {
	indices := make([]int, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	values := make([]float64, len(indices))
	for i, idx := range indices {
		values[i] = counts[idx]
	}
	return SparseVector{Indices: indices, Values: values}
}

// Len returns the number of stored entries.
func (s SparseVector) Len() int {
	return len(s.Indices)
}

// Get returns the value at feature idx, or 0 when it is not stored.
func (s SparseVector) Get(idx int) float64 {
	pos := sort.SearchInts(s.Indices, idx)
	if pos < len(s.Indices) && s.Indices[pos] == idx {
		return s.Values[pos]
	}
	return 0
}

// Dot computes the inner product with a dense weight row.
func (s SparseVector) Dot(weights []float64) float64 {
	var sum float64
	for i, idx := range s.Indices {
		if idx < len(weights) {
			sum += s.Values[i] * weights[idx]
		}
	}
	return sum
}

// Norm returns the euclidean norm.
func (s SparseVector) Norm() float64 {
	var sum float64
	for _, v := range s.Values {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s SparseVector) normalize() {
	norm := s.Norm()
	if norm == 0 {
		return
	}
	for i := range s.Values {
		s.Values[i] /= norm
	}
}
