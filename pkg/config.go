package pkg

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"bagcluster/pkg/cluster"
	"bagcluster/pkg/lsq"
	"bagcluster/pkg/search"
)

// EnvPrefix prefixes the environment variables holding parameter defaults.
const EnvPrefix = "BAGCLUSTER"

// Labeler names
const (
	GreedyLabeler     = "greedy"
	ContinuousLabeler = "continuous"
)

type TrainingParameters struct {
	// Histograms is the number F of histograms, and weights, in a feature vector.
	Histograms int `envconfig:"HISTOGRAMS" default:"1"`
	// Repetitions is the number of clustering runs at the optimal weights.
	Repetitions int    `envconfig:"REPETITIONS" default:"5"`
	Labeler     string `envconfig:"LABELER" default:"greedy"`
	Loss        string `envconfig:"LOSS" default:"l1"`
	// GlobalConstraint adds the population proportion residual to the continuous labeler.
	GlobalConstraint bool `envconfig:"GLOBAL_CONSTRAINT" default:"false"`
	SolverIterations int  `envconfig:"SOLVER_ITERATIONS" default:"0"`

	StepSize       float64 `envconfig:"STEP_SIZE" default:"0.3"`
	Population     int     `envconfig:"POPULATION" default:"0"`
	MaxIterations  int     `envconfig:"MAX_ITERATIONS" default:"0"`
	MaxEvaluations int     `envconfig:"MAX_EVALUATIONS" default:"0"`
	RndSeed        uint64  `envconfig:"SEED" default:"42"`

	// ConvergeIterations without an improvement above Tolerance end the weight search.
	ConvergeIterations int     `envconfig:"CONVERGE_ITERATIONS" default:"1000"`
	Tolerance          float64 `envconfig:"TOLERANCE" default:"1e-10"`

	Clusters    int    `envconfig:"CLUSTERS" default:"10"`
	Branching   int    `envconfig:"BRANCHING" default:"2"`
	Iterations  int    `envconfig:"ITERATIONS" default:"11"`
	CentersInit string `envconfig:"CENTERS_INIT" default:"kmeanspp"`
}

// DefaultTrainingParameters reads the defaults, overridden by BAGCLUSTER_* environment variables.
func DefaultTrainingParameters() (TrainingParameters, error) {
	var p TrainingParameters
	if err := envconfig.Process(EnvPrefix, &p); err != nil {
		return p, fmt.Errorf("error reading training parameters from environment: %w", err)
	}
	return p, nil
}

// ClusterConfig resolves the clustering parameters.
func (p TrainingParameters) ClusterConfig() (cluster.Config, error) {
	centers, err := cluster.ParseCentersInit(p.CentersInit)
	if err != nil {
		return cluster.Config{}, err
	}
	return cluster.Config{
		Clusters:   p.Clusters,
		Branching:  p.Branching,
		Iterations: p.Iterations,
		Init:       centers,
		Seed:       p.RndSeed,
	}, nil
}

func (p TrainingParameters) SearchSettings() search.Settings {
	return search.Settings{
		StepSize:           p.StepSize,
		Population:         p.Population,
		MaxIterations:      p.MaxIterations,
		MaxEvaluations:     p.MaxEvaluations,
		ConvergeIterations: p.ConvergeIterations,
		Tolerance:          p.Tolerance,
		Seed:               p.RndSeed,
	}
}

func (p TrainingParameters) SolverSettings() lsq.Settings {
	return lsq.Settings{MaxIterations: p.SolverIterations}
}
