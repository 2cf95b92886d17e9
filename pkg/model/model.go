package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/bags"
	"bagcluster/pkg/cluster"
	"bagcluster/pkg/distance"
)

// ErrShape is returned for models whose matrices do not fit together or do not fit a dataset.
var ErrShape = errors.New("model shape mismatch")

// ClusterModel predicts instance labels from the label of the nearest cluster centroid
// under a weighted multi-histogram distance.
type ClusterModel struct {
	// Centroids holds one cluster centroid per row.
	Centroids *mat.Dense
	// Labels holds the label vector of every cluster, one per row.
	Labels *mat.Dense
	// Weights are the per histogram distance weights.
	Weights []float64

	index *cluster.Index
}

// New checks that centroids and labels have the same number of rows and that there
// are no more weights than feature dimensions.
func New(centroids, labels *mat.Dense, weights []float64) (*ClusterModel, error) {
	m := &ClusterModel{Centroids: centroids, Labels: labels, Weights: weights}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ClusterModel) validate() error {
	if m.Centroids == nil || m.Labels == nil {
		return fmt.Errorf("%w: missing centroids or labels", ErrShape)
	}
	if m.NumClusters() != m.labelRows() {
		return fmt.Errorf("%w: %d centroids for %d labels", ErrShape, m.NumClusters(), m.labelRows())
	}
	if len(m.Weights) == 0 || len(m.Weights) > m.FeatureDimension() {
		return fmt.Errorf("%w: %d weights for %d features", ErrShape, len(m.Weights), m.FeatureDimension())
	}
	return nil
}

func (m *ClusterModel) labelRows() int {
	r, _ := m.Labels.Dims()
	return r
}

func (m *ClusterModel) NumClusters() int {
	r, _ := m.Centroids.Dims()
	return r
}

func (m *ClusterModel) LabelDimension() int {
	_, c := m.Labels.Dims()
	return c
}

func (m *ClusterModel) FeatureDimension() int {
	_, c := m.Centroids.Dims()
	return c
}

// Build prepares the nearest centroid index. Calling it again is a no-op.
func (m *ClusterModel) Build() error {
	if m.index != nil {
		return nil
	}
	if err := m.validate(); err != nil {
		return err
	}
	dist, err := distance.NewMultiHistogram(m.FeatureDimension(), m.Weights)
	if err != nil {
		return fmt.Errorf("error building model distance: %w", err)
	}
	m.index = cluster.NewIndex(m.Centroids, dist.Func())
	return nil
}

// Built reports whether the index has been built.
func (m *ClusterModel) Built() bool {
	return m.index != nil
}

// Predict writes the label of the nearest centroid into ds.Labels for every instance,
// overwriting the dataset in place and allocating ds.Labels when it is nil. The
// model is built first if needed.
func (m *ClusterModel) Predict(ds *bags.Dataset) error {
	if ds.Labels == nil {
		ds.Labels = mat.NewDense(ds.NumInstances(), m.LabelDimension(), nil)
	}
	return m.PredictTo(ds.Labels, ds)
}

// PredictCopy returns the predicted labels without touching the dataset.
func (m *ClusterModel) PredictCopy(ds *bags.Dataset) (*mat.Dense, error) {
	labels := mat.NewDense(ds.NumInstances(), m.LabelDimension(), nil)
	if err := m.PredictTo(labels, ds); err != nil {
		return nil, err
	}
	return labels, nil
}

// PredictTo writes the predicted label of every instance of ds into the rows of dst.
func (m *ClusterModel) PredictTo(dst *mat.Dense, ds *bags.Dataset) error {
	if err := m.Build(); err != nil {
		return err
	}
	if ds.Dimension() != m.FeatureDimension() {
		return fmt.Errorf("%w: dataset has %d features, model %d", ErrShape, ds.Dimension(), m.FeatureDimension())
	}
	if r, c := dst.Dims(); r != ds.NumInstances() || c != m.LabelDimension() {
		return fmt.Errorf("%w: labels are %dx%d, expected %dx%d", ErrShape, r, c, ds.NumInstances(), m.LabelDimension())
	}
	for i := 0; i < ds.NumInstances(); i++ {
		nearest, _ := m.index.Nearest(ds.Instance(i))
		dst.SetRow(i, m.Labels.RawRowView(nearest))
	}
	return nil
}

// Equal compares weights and centroids bit for bit and labels by value.
func (m *ClusterModel) Equal(other *ClusterModel) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.Weights) != len(other.Weights) {
		return false
	}
	for i := range m.Weights {
		if math.Float64bits(m.Weights[i]) != math.Float64bits(other.Weights[i]) {
			return false
		}
	}
	if !bitwiseEqual(m.Centroids, other.Centroids) {
		return false
	}
	lr, lc := m.Labels.Dims()
	or, oc := other.Labels.Dims()
	return lr == or && lc == oc && mat.Equal(m.Labels, other.Labels)
}

func bitwiseEqual(a, b *mat.Dense) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	for i := 0; i < ar; i++ {
		x, y := a.RawRowView(i), b.RawRowView(i)
		for j := range x {
			if math.Float64bits(x[j]) != math.Float64bits(y[j]) {
				return false
			}
		}
	}
	return true
}
