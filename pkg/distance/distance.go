package distance

import (
	"errors"
	"fmt"
	"math"
)

// ErrSegments is returned when the histogram segments do not partition the feature vector.
var ErrSegments = errors.New("histogram segments do not partition the feature vector")

// Func is a distance functor between two feature vectors of equal length.
type Func func(a, b []float64) float64

// MultiHistogram is a weighted sum of 1-D Earth Mover's Distances over a feature
// vector made of concatenated histograms.
type MultiHistogram struct {
	Weights []float64
	offsets []int
}

// NewMultiHistogram splits a feature vector of the given dimension into len(weights)
// histograms of equal length.
func NewMultiHistogram(dimension int, weights []float64) (*MultiHistogram, error) {
	if len(weights) == 0 || dimension%len(weights) != 0 {
		return nil, fmt.Errorf("%w: dimension %d, histograms %d", ErrSegments, dimension, len(weights))
	}
	size := dimension / len(weights)
	lengths := make([]int, len(weights))
	for i := range lengths {
		lengths[i] = size
	}
	return NewMultiHistogramLengths(dimension, lengths, weights)
}

// NewMultiHistogramLengths uses explicit per-histogram lengths, which must add up to dimension.
func NewMultiHistogramLengths(dimension int, lengths []int, weights []float64) (*MultiHistogram, error) {
	if len(lengths) == 0 || len(lengths) != len(weights) {
		return nil, fmt.Errorf("%w: %d lengths for %d weights", ErrSegments, len(lengths), len(weights))
	}
	offsets := make([]int, len(lengths)+1)
	for i, l := range lengths {
		if l <= 0 {
			return nil, fmt.Errorf("%w: histogram %d has length %d", ErrSegments, i, l)
		}
		offsets[i+1] = offsets[i] + l
	}
	if total := offsets[len(lengths)]; total != dimension {
		return nil, fmt.Errorf("%w: histogram lengths add up to %d, dimension %d", ErrSegments, total, dimension)
	}
	return &MultiHistogram{Weights: weights, offsets: offsets}, nil
}

// Dimension is the length of the feature vectors this distance accepts.
func (m *MultiHistogram) Dimension() int {
	return m.offsets[len(m.offsets)-1]
}

// Distance computes sum_f w_f * EMD(a_f, b_f).
func (m *MultiHistogram) Distance(a, b []float64) float64 {
	d := 0.0
	for f, w := range m.Weights {
		if w == 0 {
			continue
		}
		lo, hi := m.offsets[f], m.offsets[f+1]
		d += w * EMD(a[lo:hi], b[lo:hi])
	}
	return d
}

// Func returns the distance as a functor.
func (m *MultiHistogram) Func() Func {
	return m.Distance
}

// EMD is the Earth Mover's Distance between two histograms over the same ordered bins,
// i.e. the sum of absolute cumulative differences.
func EMD(a, b []float64) float64 {
	carry, total := 0.0, 0.0
	for i := range a {
		carry += a[i] - b[i]
		total += math.Abs(carry)
	}
	return total
}
