package kitnet

import "math"

// varianceFloor prevents division blowups on features that never vary in the
// training stream
const varianceFloor = 1e-9

// standardizer maintains running per-feature mean and variance with Welford's
// online algorithm.
type standardizer struct {
	Count int64     `json:"count"`
	Mean  []float64 `json:"mean"`
	M2    []float64 `json:"m2"`
}

func newStandardizer(dim int) *standardizer {
	return &standardizer{
		Mean: make([]float64, dim),
		M2:   make([]float64, dim),
	}
}

func (s *standardizer) partialFit(vector []float64) {
	s.Count++
	for i, v := range vector {
		delta := v - s.Mean[i]
		s.Mean[i] += delta / float64(s.Count)
		s.M2[i] += delta * (v - s.Mean[i])
	}
}

// transform standardizes a vector with the statistics seen so far. Before any
// fit it returns the vector unchanged.
func (s *standardizer) transform(vector []float64) []float64 {
	out := make([]float64, len(vector))
	if s.Count == 0 {
		copy(out, vector)
		return out
	}
	for i, v := range vector {
		variance := s.M2[i] / float64(s.Count)
		if variance < varianceFloor {
			variance = varianceFloor
		}
		out[i] = (v - s.Mean[i]) / math.Sqrt(variance)
	}
	return out
}
