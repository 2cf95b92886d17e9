// Package lsq solves bound constrained nonlinear least-squares problems
//
//	minimize 0.5 * ||r(x)||^2  subject to  lower <= x <= upper
//
// with a projected Levenberg-Marquardt method using an analytic Jacobian.
package lsq

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrProblem is returned for malformed problems.
var ErrProblem = errors.New("malformed least-squares problem")

// Problem describes the residual function and its Jacobian.
type Problem struct {
	// Residuals is the number of residuals, Params the number of parameters.
	Residuals int
	Params    int
	// Func writes the residuals at x into r.
	Func func(x, r []float64)
	// Jacobian writes dr_i/dx_j at x into the Residuals x Params matrix j.
	Jacobian func(x []float64, j *mat.Dense)
	// Lower and Upper bound every parameter. A nil slice leaves that side unbounded.
	Lower, Upper []float64
}

// Settings control the solver. Zero values select the defaults.
type Settings struct {
	MaxIterations int
	// Tolerance on the projected gradient and on the relative cost decrease.
	Tolerance float64
	// Damping is the initial Levenberg-Marquardt damping factor.
	Damping float64
}

const (
	defaultIterations = 200
	defaultTolerance  = 1e-10
	defaultDamping    = 1e-3
	maxDamping        = 1e16
)

// Status reports how the solver terminated.
type Status int

const (
	Converged Status = iota
	IterationLimit
	NumericalFailure
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case IterationLimit:
		return "iteration limit"
	case NumericalFailure:
		return "numerical failure"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type Result struct {
	X []float64
	// Cost is 0.5 * ||r(X)||^2.
	Cost       float64
	Residuals  []float64
	Iterations int
	Status     Status
}

// Usable reports whether X is a solution the caller can rely on.
func (r *Result) Usable() bool {
	return r.Status != NumericalFailure && !math.IsNaN(r.Cost) && !math.IsInf(r.Cost, 0)
}

// Solve minimizes the problem starting from x0, which is projected onto the bounds first.
func Solve(p Problem, x0 []float64, settings Settings) (*Result, error) {
	if err := p.validate(x0); err != nil {
		return nil, err
	}
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = defaultIterations
	}
	if settings.Tolerance <= 0 {
		settings.Tolerance = defaultTolerance
	}
	if settings.Damping <= 0 {
		settings.Damping = defaultDamping
	}

	x := append([]float64(nil), x0...)
	p.project(x)
	r := make([]float64, p.Residuals)
	p.Func(x, r)
	cost := 0.5 * floats.Dot(r, r)
	result := &Result{X: x, Cost: cost, Residuals: r, Status: IterationLimit}
	if !finite(cost) {
		result.Status = NumericalFailure
		return result, nil
	}

	jac := mat.NewDense(p.Residuals, p.Params, nil)
	jtj := mat.NewDense(p.Params, p.Params, nil)
	normal := mat.NewSymDense(p.Params, nil)
	var grad, step mat.VecDense
	var chol mat.Cholesky
	candidate := make([]float64, p.Params)
	candidateResiduals := make([]float64, p.Residuals)
	mu := settings.Damping

	for result.Iterations = 0; result.Iterations < settings.MaxIterations; result.Iterations++ {
		p.Jacobian(x, jac)
		grad.MulVec(jac.T(), mat.NewVecDense(p.Residuals, r))
		if p.projectedGradientNorm(x, grad.RawVector().Data) <= settings.Tolerance {
			result.Status = Converged
			break
		}
		jtj.Mul(jac.T(), jac)

		for {
			for i := 0; i < p.Params; i++ {
				for j := i; j < p.Params; j++ {
					normal.SetSym(i, j, jtj.At(i, j))
				}
				normal.SetSym(i, i, jtj.At(i, i)+mu*math.Max(jtj.At(i, i), 1e-12))
			}
			if chol.Factorize(normal) {
				break
			}
			mu *= 10
			if mu > maxDamping {
				result.Status = NumericalFailure
				return result, nil
			}
		}
		if err := chol.SolveVecTo(&step, &grad); err != nil {
			result.Status = NumericalFailure
			return result, nil
		}

		for j := range candidate {
			candidate[j] = x[j] - step.AtVec(j)
		}
		p.project(candidate)
		p.Func(candidate, candidateResiduals)
		candidateCost := 0.5 * floats.Dot(candidateResiduals, candidateResiduals)

		if finite(candidateCost) && candidateCost < cost {
			decrease := cost - candidateCost
			copy(x, candidate)
			copy(r, candidateResiduals)
			cost = candidateCost
			mu = math.Max(mu/3, 1e-12)
			if decrease <= settings.Tolerance*(1+cost) {
				result.Iterations++
				result.Status = Converged
				break
			}
			continue
		}
		mu *= 10
		if mu > maxDamping {
			// no descent step left along the projected direction
			result.Status = Converged
			break
		}
	}

	result.Cost = cost
	return result, nil
}

func (p *Problem) validate(x0 []float64) error {
	if p.Residuals < 1 || p.Params < 1 {
		return fmt.Errorf("%w: %d residuals, %d parameters", ErrProblem, p.Residuals, p.Params)
	}
	if p.Func == nil || p.Jacobian == nil {
		return fmt.Errorf("%w: missing residual or Jacobian function", ErrProblem)
	}
	if len(x0) != p.Params {
		return fmt.Errorf("%w: starting point has %d values for %d parameters", ErrProblem, len(x0), p.Params)
	}
	if (p.Lower != nil && len(p.Lower) != p.Params) || (p.Upper != nil && len(p.Upper) != p.Params) {
		return fmt.Errorf("%w: bounds do not match %d parameters", ErrProblem, p.Params)
	}
	for j := 0; p.Lower != nil && p.Upper != nil && j < p.Params; j++ {
		if p.Lower[j] > p.Upper[j] {
			return fmt.Errorf("%w: empty bounds for parameter %d", ErrProblem, j)
		}
	}
	return nil
}

func (p *Problem) project(x []float64) {
	for j := range x {
		if p.Lower != nil && x[j] < p.Lower[j] {
			x[j] = p.Lower[j]
		}
		if p.Upper != nil && x[j] > p.Upper[j] {
			x[j] = p.Upper[j]
		}
	}
}

// projectedGradientNorm is the max norm of x - P(x - g), zero at a bound constrained stationary point.
func (p *Problem) projectedGradientNorm(x, g []float64) float64 {
	moved := make([]float64, len(x))
	for j := range x {
		moved[j] = x[j] - g[j]
	}
	p.project(moved)
	norm := 0.0
	for j := range x {
		norm = math.Max(norm, math.Abs(x[j]-moved[j]))
	}
	return norm
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
