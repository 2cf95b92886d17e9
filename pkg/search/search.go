// Package search minimizes black box objectives over a box with a derivative-free
// evolution strategy.
package search

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/optimize"
)

// ErrFailed is returned when the optimizer terminates without a result.
var ErrFailed = errors.New("weight search failed")

// Objective evaluates a candidate point. A non-nil error aborts the search.
type Objective func(x []float64) (float64, error)

// Bounds is the box [Lower, Upper] applied to every coordinate.
type Bounds struct {
	Lower, Upper float64
}

// Unit is the box [0, 1].
var Unit = Bounds{Lower: 0, Upper: 1}

// Settings of a search. Zero values leave the choice to the optimizer.
type Settings struct {
	// StepSize is the initial standard deviation of the search distribution.
	StepSize float64
	// Population is the number of candidates sampled per iteration.
	Population int
	// MaxIterations caps the number of iterations.
	MaxIterations int
	// MaxEvaluations caps the number of objective evaluations.
	MaxEvaluations int
	// ConvergeIterations is the number of iterations without an improvement of
	// more than Tolerance after which the search has converged. Defaults to 1000.
	ConvergeIterations int
	// Tolerance defaults to 1e-10.
	Tolerance float64
	Seed      uint64
}

const (
	defaultConvergeIterations = 1000
	defaultTolerance          = 1e-10
)

// converger replaces gonum's default of 100 iterations, which measures the
// sampled candidates of an iteration and stops CMA-ES long before it converges.
func (s Settings) converger() optimize.Converger {
	iterations, tolerance := s.ConvergeIterations, s.Tolerance
	if iterations <= 0 {
		iterations = defaultConvergeIterations
	}
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &optimize.FunctionConverge{Absolute: tolerance, Iterations: iterations}
}

// Result is the best point seen during a search.
type Result struct {
	X           []float64
	F           float64
	Evaluations int
	Iterations  int
	Status      string
}

// Optimizer minimizes an objective inside a box.
type Optimizer interface {
	Minimize(objective Objective, initial []float64, bounds Bounds) (*Result, error)
}

// CMAES is a covariance matrix adaptation evolution strategy. Candidates outside
// the box are evaluated at their projection onto it, plus a quadratic penalty on
// the distance to the box.
type CMAES struct {
	Settings Settings
}

func NewCMAES(settings Settings) *CMAES {
	return &CMAES{Settings: settings}
}

func (c *CMAES) Minimize(objective Objective, initial []float64, bounds Bounds) (*Result, error) {
	if len(initial) == 0 {
		return nil, fmt.Errorf("%w: empty starting point", ErrFailed)
	}
	if bounds.Lower > bounds.Upper {
		return nil, fmt.Errorf("%w: empty box [%f, %f]", ErrFailed, bounds.Lower, bounds.Upper)
	}

	var objectiveErr error
	best := &Result{X: clamp(initial, bounds), F: math.Inf(1)}
	projected := make([]float64, len(initial))
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if objectiveErr != nil {
				return math.Inf(1)
			}
			penalty := 0.0
			for i, v := range x {
				projected[i] = math.Max(bounds.Lower, math.Min(bounds.Upper, v))
				penalty += (v - projected[i]) * (v - projected[i])
			}
			f, err := objective(projected)
			best.Evaluations++
			if err != nil {
				objectiveErr = err
				return math.Inf(1)
			}
			if best.Evaluations == 1 || f < best.F {
				best.F = f
				copy(best.X, projected)
			}
			return f + penalty
		},
		Status: func() (optimize.Status, error) {
			if objectiveErr != nil {
				return optimize.Failure, objectiveErr
			}
			return optimize.NotTerminated, nil
		},
	}

	method := &optimize.CmaEsChol{
		InitStepSize: c.Settings.StepSize,
		Population:   c.Settings.Population,
		Src:          rand.NewSource(c.Settings.Seed),
	}
	settings := &optimize.Settings{
		MajorIterations: c.Settings.MaxIterations,
		FuncEvaluations: c.Settings.MaxEvaluations,
		Converger:       c.Settings.converger(),
		Concurrent:      1,
	}

	result, err := optimize.Minimize(problem, initial, settings, method)
	if objectiveErr != nil {
		return nil, fmt.Errorf("objective failed: %w", objectiveErr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFailed, err)
	}
	if result == nil || result.Status == optimize.Failure {
		return nil, fmt.Errorf("%w: no result", ErrFailed)
	}
	best.Iterations = result.Stats.MajorIterations
	best.Status = result.Status.String()
	return best, nil
}

func clamp(x []float64, bounds Bounds) []float64 {
	c := make([]float64, len(x))
	for i, v := range x {
		c[i] = math.Max(bounds.Lower, math.Min(bounds.Upper, v))
	}
	return c
}
