package pkg

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/bags"
	"bagcluster/pkg/cluster"
	"bagcluster/pkg/distance"
	"bagcluster/pkg/io"
	"bagcluster/pkg/labeler"
	"bagcluster/pkg/model"
	"bagcluster/pkg/risk"
	"bagcluster/pkg/search"
	"bagcluster/pkg/trace"
)

// Trace labels
const (
	WeightsLabel     = "weights"
	ProportionsLabel = "proportions"
	// RepetitionRiskLabel reports the risks of the runs at the optimal weights, kept
	// apart from trace.RiskLabel which only sees the candidates of the search.
	RepetitionRiskLabel = "repetition_risk"
)

// InstanceClusterer groups the instances of a dataset under a distance.
type InstanceClusterer interface {
	Cluster(ds *bags.Dataset, dist distance.Func) (*cluster.Clustering, error)
}

// ClusterLabeler assigns a label to every cluster given the bag-cluster proportions,
// returning the risk of the labeling.
type ClusterLabeler interface {
	Label(ds *bags.Dataset, proportions *mat.Dense) (float64, []float64)
}

type Trainer struct {
	params    TrainingParameters
	clusterer InstanceClusterer
	labeler   ClusterLabeler
	optimizer search.Optimizer
	tracer    trace.Tracer
}

// TrainResult holds the trained model and the search that produced it. Model is nil
// when training failed.
type TrainResult struct {
	Model       *model.ClusterModel
	Risk        float64
	Weights     []float64
	Status      string
	Evaluations int
}

func NewTrainer(clusterer InstanceClusterer, labeler ClusterLabeler, optimizer search.Optimizer,
	tracer trace.Tracer, params TrainingParameters) *Trainer {
	if tracer == nil {
		tracer = trace.Noop{}
	}
	if params.Repetitions < 1 {
		params.Repetitions = 1
	}
	return &Trainer{
		params:    params,
		clusterer: clusterer,
		labeler:   labeler,
		optimizer: optimizer,
		tracer:    tracer,
	}
}

// evaluation is one Cluster+Label run at fixed weights.
type evaluation struct {
	clustering *cluster.Clustering
	labels     []float64
	risk       float64
}

func (t *Trainer) evaluate(ds *bags.Dataset, weights []float64) (*evaluation, error) {
	dist, err := distance.NewMultiHistogram(ds.Dimension(), weights)
	if err != nil {
		return nil, err
	}
	clustering, err := t.clusterer.Cluster(ds, dist.Func())
	if err != nil {
		return nil, err
	}
	r, labels := t.labeler.Label(ds, clustering.Proportions)
	return &evaluation{clustering: clustering, labels: labels, risk: r}, nil
}

// Train searches the histogram weights in [0,1]^features minimizing the labeling risk,
// then keeps the best of the configured repetitions at the optimal weights.
func (t *Trainer) Train(ds *bags.Dataset, features int) (*TrainResult, error) {
	if features < 1 || features > ds.Dimension() {
		return nil, fmt.Errorf("%d histograms for %d features: %w", features, ds.Dimension(), distance.ErrSegments)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	objective := func(w []float64) (float64, error) {
		t.tracer.Trace(WeightsLabel, w)
		e, err := t.evaluate(ds, w)
		if err != nil {
			return 0, err
		}
		t.tracer.Trace(ProportionsLabel, e.clustering.Proportions)
		t.tracer.Debug(trace.RiskLabel, e.risk)
		return e.risk, nil
	}

	initial := make([]float64, features)
	for i := range initial {
		initial[i] = 0.5
	}
	searchResult, err := t.optimizer.Minimize(objective, initial, search.Unit)
	if err != nil {
		t.tracer.Error("search", err)
		if errors.Is(err, search.ErrFailed) {
			return &TrainResult{Risk: math.Inf(1)}, err
		}
		return nil, err
	}
	t.tracer.Info(WeightsLabel, searchResult.X)

	var best *evaluation
	for i := 0; i < t.params.Repetitions; i++ {
		e, err := t.evaluate(ds, searchResult.X)
		if err != nil {
			return nil, err
		}
		t.tracer.Debug(RepetitionRiskLabel, e.risk)
		if best == nil || e.risk < best.risk {
			best = e
		}
	}
	t.tracer.Info(RepetitionRiskLabel, best.risk)

	m, err := model.New(best.clustering.Centroids, replicateLabels(best.labels, ds.LabelDimension()), searchResult.X)
	if err != nil {
		return nil, err
	}
	return &TrainResult{
		Model:       m,
		Risk:        best.risk,
		Weights:     searchResult.X,
		Status:      searchResult.Status,
		Evaluations: searchResult.Evaluations,
	}, nil
}

// replicateLabels copies every cluster label into each of the dims label columns.
func replicateLabels(labels []float64, dims int) *mat.Dense {
	result := mat.NewDense(len(labels), dims, nil)
	for i, l := range labels {
		for j := 0; j < dims; j++ {
			result.Set(i, j, l)
		}
	}
	return result
}

// NewLabeler builds the cluster labeler named by the parameters for a label space of the given dimension.
func NewLabeler(params TrainingParameters, labelDims int) (ClusterLabeler, error) {
	switch params.Labeler {
	case GreedyLabeler:
		loss, err := risk.ParseLoss(params.Loss)
		if err != nil {
			return nil, err
		}
		return labeler.NewGreedy(risk.ForLabels(labelDims, loss)), nil
	case ContinuousLabeler:
		return labeler.NewContinuous(params.GlobalConstraint, params.SolverSettings()), nil
	default:
		return nil, fmt.Errorf("unknown labeler %q, expected %s or %s", params.Labeler, GreedyLabeler, ContinuousLabeler)
	}
}

// Reports name the optional files a training run writes besides the model.
type Reports struct {
	// MetricsFile receives the search metrics in the Prometheus text format.
	MetricsFile string
	// TraceFile receives every traced value at TraceLevel or above as JSON lines.
	TraceFile string
	// TraceLevel is a zerolog level name, info when empty.
	TraceLevel string
}

func openTrace(fileName, level string, runID string) (*os.File, trace.Tracer, error) {
	if level == "" {
		level = zerolog.InfoLevel.String()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid trace level %q: %w", level, err)
	}
	f, err := os.Create(fileName)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating trace file %s: %w", fileName, err)
	}
	logger := zerolog.New(f).Level(lvl).With().Timestamp().Str("run", runID).Logger()
	return f, trace.NewLog(logger), nil
}

// Train fits a model on the training file and saves it to outputFileName, writing
// the reports that are set.
func Train(trainFile, outputFileName string, reports Reports, params TrainingParameters) error {
	runID := uuid.New().String()
	logger := log.With().Str("run", runID).Logger()

	ds, dataErrors, err := io.LoadData(io.DataParameters{DataFile: trainFile})
	if err != nil {
		return fmt.Errorf("error reading training data: %w", err)
	}
	printDataErrors(dataErrors)

	config, err := params.ClusterConfig()
	if err != nil {
		return err
	}
	clusterer, err := cluster.New(config)
	if err != nil {
		return err
	}
	lab, err := NewLabeler(params, ds.LabelDimension())
	if err != nil {
		return err
	}

	metrics := trace.NewMetrics()
	tracer := trace.Multi{trace.NewLog(logger), metrics}
	if reports.TraceFile != "" {
		traceFile, fileTracer, err := openTrace(reports.TraceFile, reports.TraceLevel, runID)
		if err != nil {
			return err
		}
		defer traceFile.Close()
		tracer = append(tracer, fileTracer)
	}
	logger.Info().
		Int("Instances", ds.NumInstances()).
		Int("Bags", ds.NumBags()).
		Int("Dimension", ds.Dimension()).
		Int("Histograms", params.Histograms).
		Int("Clusters", clusterer.NumClusters()).
		Str("Labeler", params.Labeler).
		Msg("Training")

	trainer := NewTrainer(clusterer, lab, search.NewCMAES(params.SearchSettings()), tracer, params)
	result, err := trainer.Train(ds, params.Histograms)
	if reports.MetricsFile != "" {
		if werr := metrics.WriteToTextfile(reports.MetricsFile); werr != nil {
			logger.Error().Err(werr).Str("File", reports.MetricsFile).Msg("Error writing metrics")
		}
	}
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	logger.Info().
		Float64("Risk", result.Risk).
		Floats64("Weights", result.Weights).
		Int("Evaluations", result.Evaluations).
		Str("Status", result.Status).
		Msg("Training finished")

	if err := io.SaveModelFile(result.Model, outputFileName); err != nil {
		return err
	}
	return testInternal(result.Model, ds, "")
}
