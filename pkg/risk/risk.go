package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Loss compares a known bag proportion with a predicted one.
type Loss func(known, predicted float64) float64

// L1 is the absolute difference.
func L1(known, predicted float64) float64 {
	return math.Abs(known - predicted)
}

// L2 is the squared difference.
func L2(known, predicted float64) float64 {
	d := known - predicted
	return d * d
}

// ParseLoss maps a loss name to its function.
func ParseLoss(name string) (Loss, error) {
	switch name {
	case "l1":
		return L1, nil
	case "l2":
		return L2, nil
	default:
		return nil, fmt.Errorf("unknown loss %q", name)
	}
}

// Risk is the average loss between the known bag labels (one row per bag) and the
// predicted bag proportions.
type Risk interface {
	Risk(known *mat.Dense, predicted []float64) float64
}

// Scalar compares the first label column of every bag with its prediction.
type Scalar struct {
	Loss Loss
}

func (s Scalar) Risk(known *mat.Dense, predicted []float64) float64 {
	if len(predicted) == 0 {
		return 0
	}
	total := 0.0
	for i, p := range predicted {
		total += s.Loss(known.At(i, 0), p)
	}
	return total / float64(len(predicted))
}

// Interval is a hinge loss that is zero inside [low, high] and the distance to the
// nearer bound outside of it. The first two label columns hold low and high.
type Interval struct{}

func (Interval) Risk(known *mat.Dense, predicted []float64) float64 {
	if len(predicted) == 0 {
		return 0
	}
	total := 0.0
	for i, p := range predicted {
		total += Hinge(known.At(i, 0), known.At(i, 1), p)
	}
	return total / float64(len(predicted))
}

// Hinge is the distance from p to the interval [low, high].
func Hinge(low, high, p float64) float64 {
	switch {
	case p < low:
		return low - p
	case p > high:
		return p - high
	default:
		return 0
	}
}

// ForLabels chooses the interval risk for two dimensional bag labels and the scalar
// risk otherwise.
func ForLabels(labelDims int, loss Loss) Risk {
	if labelDims == 2 {
		return Interval{}
	}
	return Scalar{Loss: loss}
}
