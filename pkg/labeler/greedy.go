package labeler

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/bags"
	"bagcluster/pkg/risk"
)

// Greedy labels clusters with 0 or 1. Starting from all zeros it repeatedly flips
// the single cluster that lowers the risk the most, until no flip strictly improves it.
type Greedy struct {
	Risk risk.Risk
}

func NewGreedy(r risk.Risk) *Greedy {
	return &Greedy{Risk: r}
}

// Label returns the risk of the final labeling and one 0/1 label per column of proportions.
func (g *Greedy) Label(ds *bags.Dataset, proportions *mat.Dense) (float64, []float64) {
	n, k := proportions.Dims()
	labels := make([]float64, k)
	predicted := mat.NewVecDense(n, nil)
	evaluate := func(x []float64) float64 {
		predicted.MulVec(proportions, mat.NewVecDense(k, x))
		return g.Risk.Risk(ds.BagLabels, predicted.RawVector().Data)
	}

	best := evaluate(labels)
	remaining := make([]int, k)
	for j := range remaining {
		remaining[j] = j
	}

	for iter := 0; iter < k && len(remaining) > 0; iter++ {
		candidate := -1
		candidateRisk := best
		for pos, j := range remaining {
			labels[j] = 1
			if r := evaluate(labels); r < candidateRisk {
				candidate, candidateRisk = pos, r
			}
			labels[j] = 0
		}
		if candidate < 0 {
			break
		}
		j := remaining[candidate]
		labels[j] = 1
		best = candidateRisk
		remaining = append(remaining[:candidate], remaining[candidate+1:]...)
		log.Debug().Int("cluster", j).Float64("risk", best).Msg("greedy label")
	}
	return best, labels
}
