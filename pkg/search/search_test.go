package search

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"
)

func TestCMAES_Quadratic(t *testing.T) {
	target := []float64{0.2, 0.8, 0.5}
	objective := func(x []float64) (float64, error) {
		f := 0.0
		for i := range x {
			f += (x[i] - target[i]) * (x[i] - target[i])
		}
		return f, nil
	}

	result, err := NewCMAES(Settings{StepSize: 0.3, Seed: 1, MaxEvaluations: 3000}).
		Minimize(objective, []float64{0.5, 0.5, 0.5}, Unit)
	require.NoError(t, err)
	require.Less(t, result.F, 1e-3)
	for i := range target {
		require.InDelta(t, target[i], result.X[i], 0.05)
	}
	require.Greater(t, result.Evaluations, 0)
}

func TestCMAES_ConvergesWithoutLimits(t *testing.T) {
	target := []float64{0.2, 0.8, 0.6}
	objective := func(x []float64) (float64, error) {
		f := 0.0
		for i := range x {
			f += (x[i] - target[i]) * (x[i] - target[i])
		}
		return f, nil
	}
	for _, seed := range []uint64{1, 7, 42} {
		result, err := NewCMAES(Settings{StepSize: 0.3, Seed: seed}).Minimize(objective, []float64{0.5, 0.5, 0.5}, Unit)
		require.NoError(t, err)
		require.Less(t, result.F, 1e-6, "seed %d stopped with %s", seed, result.Status)
		for i := range target {
			require.InDelta(t, target[i], result.X[i], 1e-3)
		}
	}
}

func TestSettings_Converger(t *testing.T) {
	c, ok := Settings{}.converger().(*optimize.FunctionConverge)
	require.True(t, ok)
	require.Equal(t, defaultConvergeIterations, c.Iterations)
	require.Equal(t, defaultTolerance, c.Absolute)

	c = Settings{ConvergeIterations: 10, Tolerance: 1e-3}.converger().(*optimize.FunctionConverge)
	require.Equal(t, 10, c.Iterations)
	require.Equal(t, 1e-3, c.Absolute)
}

func TestCMAES_StaysInBox(t *testing.T) {
	// the unconstrained minimum lies outside the box
	objective := func(x []float64) (float64, error) {
		for _, v := range x {
			if v < 0 || v > 1 {
				t.Fatalf("objective evaluated outside the box at %v", x)
			}
		}
		return -x[0] + x[1], nil
	}
	result, err := NewCMAES(Settings{Seed: 2, MaxEvaluations: 2000}).Minimize(objective, []float64{0.5, 0.5}, Unit)
	require.NoError(t, err)
	require.InDelta(t, 1.0, result.X[0], 0.05)
	require.InDelta(t, 0.0, result.X[1], 0.05)
}

func TestCMAES_ObjectiveError(t *testing.T) {
	fatal := errors.New("bad configuration")
	calls := 0
	objective := func(x []float64) (float64, error) {
		calls++
		if calls == 3 {
			return 0, fatal
		}
		return x[0], nil
	}
	_, err := NewCMAES(Settings{Seed: 3, MaxEvaluations: 100}).Minimize(objective, []float64{0.5}, Unit)
	require.True(t, errors.Is(err, fatal))
}

func TestCMAES_Invalid(t *testing.T) {
	objective := func(x []float64) (float64, error) { return 0, nil }
	_, err := NewCMAES(Settings{}).Minimize(objective, nil, Unit)
	require.True(t, errors.Is(err, ErrFailed))
	_, err = NewCMAES(Settings{}).Minimize(objective, []float64{0}, Bounds{Lower: 1, Upper: 0})
	require.True(t, errors.Is(err, ErrFailed))
}
