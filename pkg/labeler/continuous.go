package labeler

import (
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/bags"
	"bagcluster/pkg/lsq"
)

// Continuous labels every cluster with a value in [0, 1] by solving the bounded
// least-squares problem r_i(x) = p_i - (C x)_i over the bags. With Global set an
// extra residual N * sum_i r_i(x) ties the population proportion to the known one.
type Continuous struct {
	Global bool
	Solver lsq.Settings
}

func NewContinuous(global bool, settings lsq.Settings) *Continuous {
	return &Continuous{Global: global, Solver: settings}
}

// Label returns 0.5 * sum of squared residuals and the cluster labels. When the
// solver has no usable solution the risk is +Inf.
func (c *Continuous) Label(ds *bags.Dataset, proportions *mat.Dense) (float64, []float64) {
	n, k := proportions.Dims()
	known := ds.Proportions()
	lambda := float64(n)

	residuals := n
	if c.Global {
		residuals++
	}
	// column sums of C for the aggregate residual
	columns := make([]float64, k)
	for i := 0; i < n; i++ {
		floats.Add(columns, proportions.RawRowView(i))
	}

	lower := make([]float64, k)
	upper := make([]float64, k)
	start := make([]float64, k)
	for j := range upper {
		upper[j] = 1
		start[j] = 0.5
	}

	predicted := mat.NewVecDense(n, nil)
	problem := lsq.Problem{
		Residuals: residuals,
		Params:    k,
		Func: func(x, r []float64) {
			predicted.MulVec(proportions, mat.NewVecDense(k, x))
			sum := 0.0
			for i := 0; i < n; i++ {
				r[i] = known[i] - predicted.AtVec(i)
				sum += r[i]
			}
			if c.Global {
				r[n] = lambda * sum
			}
		},
		Jacobian: func(_ []float64, jac *mat.Dense) {
			for i := 0; i < n; i++ {
				for j := 0; j < k; j++ {
					jac.Set(i, j, -proportions.At(i, j))
				}
			}
			if c.Global {
				for j := 0; j < k; j++ {
					jac.Set(n, j, -lambda*columns[j])
				}
			}
		},
		Lower: lower,
		Upper: upper,
	}

	result, err := lsq.Solve(problem, start, c.Solver)
	if err != nil {
		log.Debug().Err(err).Msg("continuous labeling problem rejected")
		return math.Inf(1), start
	}
	if !result.Usable() {
		log.Debug().Str("status", result.Status.String()).Int("iterations", result.Iterations).
			Msg("continuous labeling not usable")
		return math.Inf(1), result.X
	}
	return 0.5 * floats.Dot(result.Residuals, result.Residuals), result.X
}
