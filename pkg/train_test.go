package pkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/bags"
	"bagcluster/pkg/cluster"
	"bagcluster/pkg/distance"
	"bagcluster/pkg/io"
	"bagcluster/pkg/model"
	"bagcluster/pkg/search"
	"bagcluster/pkg/trace"
)

// identityClusterer puts every bag in its own cluster, centered on the bag's first instance.
type identityClusterer struct {
	calls int
	err   error
}

func (c *identityClusterer) Cluster(ds *bags.Dataset, dist distance.Func) (*cluster.Clustering, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	n := ds.NumBags()
	centroids := mat.NewDense(n, ds.Dimension(), nil)
	seen := make([]bool, n)
	for i, bag := range ds.Bags {
		if !seen[bag] {
			centroids.SetRow(bag, ds.Instance(i))
			seen[bag] = true
		}
	}
	proportions := cluster.CoOccurrenceSized(ds.Bags, ds.Bags, n, n)
	cluster.NormalizeRows(proportions)
	return &cluster.Clustering{Centroids: centroids, Assignments: append([]int(nil), ds.Bags...), Proportions: proportions}, nil
}

// sequenceLabeler returns the bag proportions as labels, with risks taken in turn from risks.
type sequenceLabeler struct {
	risks []float64
	calls int
}

func (l *sequenceLabeler) Label(ds *bags.Dataset, proportions *mat.Dense) (float64, []float64) {
	r := l.risks[l.calls%len(l.risks)]
	l.calls++
	labels := ds.Proportions()
	for i := range labels {
		labels[i] += float64(l.calls)
	}
	return r, labels
}

// fixedOptimizer evaluates the objective once at the starting point.
type fixedOptimizer struct {
	initial []float64
	err     error
}

func (o *fixedOptimizer) Minimize(objective search.Objective, initial []float64, bounds search.Bounds) (*search.Result, error) {
	o.initial = append([]float64(nil), initial...)
	if o.err != nil {
		return nil, o.err
	}
	f, err := objective(initial)
	if err != nil {
		return nil, fmt.Errorf("objective failed: %w", err)
	}
	return &search.Result{X: initial, F: f, Evaluations: 1, Status: "fixed"}, nil
}

func testData(t *testing.T, intervalWidth float64) *bags.Dataset {
	ds, err := bags.Synthetic(bags.SyntheticConfig{Bags: 4, BagSize: 5, Histograms: 2, Bins: 3, Noise: 0.05, IntervalWidth: intervalWidth},
		rand.New(rand.NewSource(11)))
	require.NoError(t, err)
	return ds
}

func TestTrainer_Train(t *testing.T) {
	ds := testData(t, 0.2)
	clusterer := &identityClusterer{}
	lab := &sequenceLabeler{risks: []float64{0.5, 0.4, 0.1, 0.3}}
	optimizer := &fixedOptimizer{}

	trainer := NewTrainer(clusterer, lab, optimizer, nil, TrainingParameters{Repetitions: 3})
	result, err := trainer.Train(ds, 2)
	require.NoError(t, err)

	require.Equal(t, []float64{0.5, 0.5}, optimizer.initial)
	require.Equal(t, 4, clusterer.calls, "one objective evaluation and three repetitions")
	require.Equal(t, 0.1, result.Risk)
	require.Equal(t, []float64{0.5, 0.5}, result.Weights)
	require.Equal(t, "fixed", result.Status)
	require.Equal(t, 1, result.Evaluations)

	m := result.Model
	require.NotNil(t, m)
	require.Equal(t, 4, m.NumClusters())
	require.Equal(t, 2, m.LabelDimension())
	require.Equal(t, ds.Dimension(), m.FeatureDimension())
	for k, p := range ds.Proportions() {
		require.InDelta(t, p+3, m.Labels.At(k, 0), 1e-12, "labels of the third call")
		require.Equal(t, m.Labels.At(k, 0), m.Labels.At(k, 1))
	}
}

func TestTrainer_OptimizerFailure(t *testing.T) {
	ds := testData(t, 0)
	failure := fmt.Errorf("%w: status -1", search.ErrFailed)
	trainer := NewTrainer(&identityClusterer{}, &sequenceLabeler{risks: []float64{0}}, &fixedOptimizer{err: failure},
		trace.Noop{}, TrainingParameters{Repetitions: 5})

	result, err := trainer.Train(ds, 1)
	require.True(t, errors.Is(err, search.ErrFailed))
	require.NotNil(t, result)
	require.Nil(t, result.Model)
	require.True(t, math.IsInf(result.Risk, 1))
}

func TestTrainer_ConfigurationErrors(t *testing.T) {
	ds := testData(t, 0)
	lab := &sequenceLabeler{risks: []float64{0}}

	trainer := NewTrainer(&identityClusterer{err: cluster.ErrLayout}, lab, &fixedOptimizer{}, nil, TrainingParameters{})
	_, err := trainer.Train(ds, 2)
	require.True(t, errors.Is(err, cluster.ErrLayout))

	trainer = NewTrainer(&identityClusterer{}, lab, &fixedOptimizer{}, nil, TrainingParameters{})
	_, err = trainer.Train(ds, 4)
	require.True(t, errors.Is(err, distance.ErrSegments))
	_, err = trainer.Train(ds, 0)
	require.True(t, errors.Is(err, distance.ErrSegments))
}

func TestTrainer_Metrics(t *testing.T) {
	ds := testData(t, 0)
	metrics := trace.NewMetrics()
	lab := &sequenceLabeler{risks: []float64{math.Inf(1), 0.25}}
	trainer := NewTrainer(&identityClusterer{}, lab, &fixedOptimizer{}, metrics, TrainingParameters{Repetitions: 1})
	result, err := trainer.Train(ds, 1)
	require.NoError(t, err)
	require.Equal(t, 0.25, result.Risk)

	file := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, metrics.WriteToTextfile(file))
	content, err := ioutil.ReadFile(file)
	require.NoError(t, err)
	text := string(content)
	// the repetition risk 0.25 is not a search candidate
	require.Contains(t, text, "bagcluster_candidate_risk_count 0\n")
	require.Contains(t, text, "bagcluster_infeasible_candidates_total 1\n")
	require.Contains(t, text, "bagcluster_best_risk 0\n")
	require.Contains(t, text, `bagcluster_trace_events_total{label="repetition_risk",level="debug"} 1`)
	require.Contains(t, text, `bagcluster_trace_events_total{label="repetition_risk",level="info"} 1`)
}

func TestTrain_TraceFile(t *testing.T) {
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "train.csv")
	traceFile := filepath.Join(dir, "train.trace")
	writeDataset(t, testData(t, 0), dataFile)

	params := testParameters(t)
	params.Clusters = 3
	params.MaxEvaluations = 12
	require.NoError(t, Train(dataFile, filepath.Join(dir, "model.bin"), Reports{TraceFile: traceFile}, params))

	content, err := ioutil.ReadFile(traceFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2, "final weights and best repetition risk at info")
	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, "info", first["level"])
	require.Contains(t, first, WeightsLabel)
	require.Contains(t, second, RepetitionRiskLabel)
	require.NotEmpty(t, first["run"])
	require.Equal(t, first["run"], second["run"])

	err = Train(dataFile, filepath.Join(dir, "model.bin"), Reports{TraceFile: traceFile, TraceLevel: "loud"}, params)
	require.Error(t, err)
	err = Train(dataFile, filepath.Join(dir, "model.bin"), Reports{TraceFile: filepath.Join(dir, "missing", "x.trace")}, params)
	require.Error(t, err)
}

func TestNewLabeler(t *testing.T) {
	for _, name := range []string{GreedyLabeler, ContinuousLabeler} {
		l, err := NewLabeler(TrainingParameters{Labeler: name, Loss: "l2"}, 1)
		require.NoError(t, err)
		require.NotNil(t, l)
	}
	_, err := NewLabeler(TrainingParameters{Labeler: "random"}, 1)
	require.Error(t, err)
	_, err = NewLabeler(TrainingParameters{Labeler: GreedyLabeler, Loss: "l3"}, 1)
	require.Error(t, err)
}

func TestDefaultTrainingParameters(t *testing.T) {
	setenv(t, "BAGCLUSTER_CLUSTERS", "7")
	setenv(t, "BAGCLUSTER_LABELER", ContinuousLabeler)
	params, err := DefaultTrainingParameters()
	require.NoError(t, err)
	require.Equal(t, 7, params.Clusters)
	require.Equal(t, ContinuousLabeler, params.Labeler)
	require.Equal(t, 5, params.Repetitions)
	require.Equal(t, "l1", params.Loss)

	config, err := params.ClusterConfig()
	require.NoError(t, err)
	require.Equal(t, cluster.CentersKMeansPP, config.Init)
	require.Equal(t, params.RndSeed, params.SearchSettings().Seed)

	setenv(t, "BAGCLUSTER_CLUSTERS", "many")
	_, err = DefaultTrainingParameters()
	require.Error(t, err)
}

func setenv(t *testing.T, key, value string) {
	previous, ok := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if ok {
			os.Setenv(key, previous)
		} else {
			os.Unsetenv(key)
		}
	})
}

func writeDataset(t *testing.T, ds *bags.Dataset, fileName string) {
	f, err := os.Create(fileName)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, io.WriteData(ds, f))
}

// exactModel labels the histogram [1 0] with 1 and [0 1] with 0.
func exactModel(t *testing.T) *model.ClusterModel {
	m, err := model.New(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), mat.NewDense(2, 1, []float64{1, 0}), []float64{1})
	require.NoError(t, err)
	return m
}

func testParameters(t *testing.T) TrainingParameters {
	params, err := DefaultTrainingParameters()
	require.NoError(t, err)
	params.Histograms = 2
	params.Clusters = 4
	params.Branching = 2
	params.Iterations = 5
	params.Repetitions = 2
	params.MaxEvaluations = 30
	params.Population = 6
	return params
}

func TestTrainAndTest(t *testing.T) {
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "train.csv")
	modelFile := filepath.Join(dir, "model.bin")
	metricsFile := filepath.Join(dir, "metrics.prom")
	predictionsFile := filepath.Join(dir, "predictions.csv")

	ds, err := bags.Synthetic(bags.SyntheticConfig{Bags: 6, BagSize: 10, Histograms: 2, Bins: 4, Noise: 0.1},
		rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	writeDataset(t, ds, dataFile)

	for _, labeler := range []string{GreedyLabeler, ContinuousLabeler} {
		params := testParameters(t)
		params.Labeler = labeler
		require.NoError(t, Train(dataFile, modelFile, Reports{MetricsFile: metricsFile}, params))
		require.FileExists(t, metricsFile)

		m, err := io.LoadModelFile(modelFile)
		require.NoError(t, err)
		require.Equal(t, 4, m.NumClusters())
		require.Len(t, m.Weights, 2)

		require.NoError(t, Test(modelFile, dataFile, predictionsFile))
		require.FileExists(t, predictionsFile)

		e, predicted, err := Evaluate(m, ds)
		require.NoError(t, err)
		rows, _ := predicted.Dims()
		require.Equal(t, ds.NumInstances(), rows)
		require.GreaterOrEqual(t, e.BagRisk, 0.0)
		require.Len(t, e.Metrics, 2)
	}
}

func TestTrain_Errors(t *testing.T) {
	dir := t.TempDir()
	params := testParameters(t)
	require.Error(t, Train(filepath.Join(dir, "missing.csv"), filepath.Join(dir, "model.bin"), Reports{}, params))

	dataFile := filepath.Join(dir, "train.csv")
	writeDataset(t, testData(t, 0), dataFile)
	params.Labeler = "unknown"
	require.Error(t, Train(dataFile, filepath.Join(dir, "model.bin"), Reports{}, params))

	params = testParameters(t)
	params.Histograms = 4
	require.True(t, errors.Is(Train(dataFile, filepath.Join(dir, "model.bin"), Reports{}, params), distance.ErrSegments))

	require.Error(t, Test(filepath.Join(dir, "missing.bin"), dataFile, ""))
}

func TestEvaluate(t *testing.T) {
	ds := &bags.Dataset{
		Features:  mat.NewDense(4, 2, []float64{1, 0, 1, 0, 0, 1, 0, 1}),
		Bags:      []int{0, 0, 1, 1},
		BagLabels: mat.NewDense(2, 1, []float64{1, 0.5}),
		Labels:    mat.NewDense(4, 1, []float64{1, 1, 1, 0}),
	}
	m := exactModel(t)
	e, predicted, err := Evaluate(m, ds)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 1, 0, 0}, predicted.RawMatrix().Data)
	require.Equal(t, []float64{1, 1, 1, 0}, ds.Labels.RawMatrix().Data, "dataset left unchanged")
	require.InDelta(t, 0.25, e.BagRisk, 1e-12)

	require.Equal(t, 2, e.Metrics[1].TruePos)
	require.Equal(t, 1, e.Metrics[1].FalseNeg)
	require.Equal(t, 1, e.Metrics[0].TruePos)
	require.Equal(t, 1, e.Metrics[0].FalsePos)
	require.False(t, math.IsNaN(e.RSquared))

	ds.Labels = nil
	e, _, err = Evaluate(m, ds)
	require.NoError(t, err)
	require.Nil(t, e.Metrics)
	require.True(t, math.IsNaN(e.RSquared))
}
