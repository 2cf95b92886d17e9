package bags

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SyntheticConfig describes a generated dataset. Every instance is a concatenation
// of Histograms histograms of Bins bins, drawn around one of two class prototypes.
type SyntheticConfig struct {
	Bags       int
	BagSize    int
	Histograms int
	Bins       int
	// Noise is the amplitude of the uniform noise added to the prototype bins.
	Noise float64
	// IntervalWidth > 0 produces [low, high] bag labels of that width around the
	// true proportion, otherwise bag labels are scalar proportions.
	IntervalWidth float64
}

// Synthetic generates a bagged dataset with ground truth instance labels.
func Synthetic(config SyntheticConfig, rnd *rand.Rand) (*Dataset, error) {
	if config.Bags < 1 || config.BagSize < 1 || config.Histograms < 1 || config.Bins < 1 {
		return nil, fmt.Errorf("%w: synthetic config %+v", ErrInvalid, config)
	}
	dim := config.Histograms * config.Bins
	prototypes := [2][]float64{
		prototype(rnd, config.Histograms, config.Bins),
		prototype(rnd, config.Histograms, config.Bins),
	}

	labelDim := 1
	if config.IntervalWidth > 0 {
		labelDim = 2
	}
	m := config.Bags * config.BagSize
	ds := &Dataset{
		Features:  mat.NewDense(m, dim, nil),
		Bags:      make([]int, m),
		BagLabels: mat.NewDense(config.Bags, labelDim, nil),
		Labels:    mat.NewDense(m, labelDim, nil),
		BagNames:  NewNameMap(),
	}

	row := 0
	for b := 0; b < config.Bags; b++ {
		ds.BagNames.Set("bag"+strconv.Itoa(b), b)
		positive := rnd.Float64()
		count := 0
		for s := 0; s < config.BagSize; s++ {
			class := 0
			if rnd.Float64() < positive {
				class = 1
				count++
			}
			features := ds.Features.RawRowView(row)
			copy(features, prototypes[class])
			for h := 0; h < config.Histograms; h++ {
				bins := features[h*config.Bins : (h+1)*config.Bins]
				for i := range bins {
					bins[i] += config.Noise * rnd.Float64()
				}
				floats.Scale(1/floats.Sum(bins), bins)
			}
			ds.Bags[row] = b
			for l := 0; l < labelDim; l++ {
				ds.Labels.Set(row, l, float64(class))
			}
			row++
		}

		p := float64(count) / float64(config.BagSize)
		if labelDim == 2 {
			ds.BagLabels.Set(b, 0, math.Max(0, p-config.IntervalWidth/2))
			ds.BagLabels.Set(b, 1, math.Min(1, p+config.IntervalWidth/2))
		} else {
			ds.BagLabels.Set(b, 0, p)
		}
	}
	return ds, nil
}

func prototype(rnd *rand.Rand, histograms, bins int) []float64 {
	p := make([]float64, histograms*bins)
	for h := 0; h < histograms; h++ {
		hist := p[h*bins : (h+1)*bins]
		for i := range hist {
			hist[i] = rnd.Float64() + 1e-3
		}
		floats.Scale(1/floats.Sum(hist), hist)
	}
	return p
}
