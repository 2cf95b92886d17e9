package pkg

import (
	"fmt"
	gio "io"
	"math"
	"os"

	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"bagcluster/pkg/bags"
	"bagcluster/pkg/io"
	"bagcluster/pkg/model"
	"bagcluster/pkg/risk"
)

// Test runs the model on the input data, logging the bag risk of the predicted
// proportions and, when the data holds instance labels, the instance level metrics.
func Test(modelFileName, inputFileName, outputFileName string) error {
	m, err := io.LoadModelFile(modelFileName)
	if err != nil {
		return err
	}
	ds, dataErrors, err := io.LoadData(io.DataParameters{DataFile: inputFileName})
	if err != nil {
		return fmt.Errorf("error loading data from %s: %w", inputFileName, err)
	}
	printDataErrors(dataErrors)
	return testInternal(m, ds, outputFileName)
}

// Evaluation summarizes the predictions of a model on a dataset.
type Evaluation struct {
	// BagRisk is the L1 risk, or the interval risk, of the predicted bag proportions.
	BagRisk float64
	// Metrics are the per class counts, keyed by class 0 and 1, when the dataset has instance labels.
	Metrics map[int]*stats.ClassMetrics
	// RSquared compares predicted and known instance labels, NaN without instance labels.
	RSquared float64
}

// Evaluate compares the predictions of the model with the known bag and instance labels.
// The dataset is left unchanged.
func Evaluate(m *model.ClusterModel, ds *bags.Dataset) (*Evaluation, *mat.Dense, error) {
	predicted, err := m.PredictCopy(ds)
	if err != nil {
		return nil, nil, err
	}
	e := &Evaluation{
		BagRisk:  bagRisk(ds, predicted),
		RSquared: math.NaN(),
	}
	if ds.Labels == nil {
		return e, predicted, nil
	}

	e.Metrics = map[int]*stats.ClassMetrics{0: stats.NewMetricCounter(), 1: stats.NewMetricCounter()}
	estimated := make([]float64, ds.NumInstances())
	values := make([]float64, ds.NumInstances())
	for i := range estimated {
		estimated[i] = midpoint(predicted.RawRowView(i))
		values[i] = midpoint(ds.Labels.RawRowView(i))
		label, class := classOf(values[i]), classOf(estimated[i])
		if label == class {
			e.Metrics[label].IncTruePos()
			e.Metrics[1-label].IncTrueNeg()
		} else {
			e.Metrics[label].IncFalseNeg()
			e.Metrics[class].IncFalsePos()
		}
	}
	e.RSquared = stat.RSquaredFrom(estimated, values, nil)
	return e, predicted, nil
}

// bagRisk averages the predicted instance labels per bag and scores them against the bag labels.
func bagRisk(ds *bags.Dataset, predicted *mat.Dense) float64 {
	_, labelDims := predicted.Dims()
	perInstance := make([]float64, ds.NumInstances())
	for i := range perInstance {
		perInstance[i] = midpoint(predicted.RawRowView(i))
	}
	sizes := ds.BagSizes()
	proportions := make([]float64, ds.NumBags())
	for i, bag := range ds.Bags {
		proportions[bag] += perInstance[i]
	}
	for bag, n := range sizes {
		if n > 0 {
			proportions[bag] /= float64(n)
		}
	}
	return risk.ForLabels(labelDims, risk.L1).Risk(ds.BagLabels, proportions)
}

func testInternal(m *model.ClusterModel, ds *bags.Dataset, outputFileName string) error {
	var outputWriter gio.Writer
	if outputFileName != "" {
		outputFile, err := os.Create(outputFileName)
		if err != nil {
			return fmt.Errorf("error opening output file %s: %w", outputFileName, err)
		}
		defer outputFile.Close()
		outputWriter = outputFile
	} else {
		outputWriter = NoopWriter{}
	}

	e, predicted, err := Evaluate(m, ds)
	if err != nil {
		return err
	}
	if err := io.WritePredictions(ds, predicted, outputWriter); err != nil {
		return err
	}

	for _, class := range []int{1, 0} {
		result, ok := e.Metrics[class]
		if !ok {
			continue
		}
		log.Info().Int("Class", class).
			Int("TP", result.TruePos).
			Int("FP", result.FalsePos).
			Int("TN", result.TrueNeg).
			Int("FN", result.FalseNeg).
			Float64("Precision", result.Precision()).
			Float64("Recall", result.Recall()).
			Float64("F1", result.F1Score()).
			Msg("")
	}
	if e.Metrics != nil {
		log.Info().Float64("R-squared", e.RSquared).Msg("")
	}
	log.Info().Float64("BagRisk", e.BagRisk).Msg("")
	return nil
}
