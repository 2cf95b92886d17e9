package bags

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func testDataset() *Dataset {
	names := NewNameMap()
	names.Set("a", 0)
	names.Set("b", 1)
	names.Set("c", 2)
	return &Dataset{
		Features:  mat.NewDense(5, 2, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}),
		Bags:      []int{0, 0, 1, 2, 2},
		BagLabels: mat.NewDense(3, 2, []float64{0, 0.5, 0.5, 1, 1, 1}),
		Labels:    mat.NewDense(5, 2, []float64{0, 0, 1, 1, 1, 1, 1, 1, 1, 1}),
		BagNames:  names,
	}
}

func TestDataset_Validate(t *testing.T) {
	ds := testDataset()
	require.NoError(t, ds.Validate())
	require.Equal(t, 5, ds.NumInstances())
	require.Equal(t, 3, ds.NumBags())
	require.Equal(t, 2, ds.Dimension())
	require.Equal(t, 2, ds.LabelDimension())
	require.Equal(t, []int{2, 1, 2}, ds.BagSizes())
	require.Equal(t, []float64{0.25, 0.75, 1}, ds.Proportions())
	require.Equal(t, []float64{4, 5}, ds.Instance(2))

	ds.Bags[2] = 3
	require.True(t, errors.Is(ds.Validate(), ErrInvalid))

	ds = testDataset()
	ds.Bags[2] = 0
	require.True(t, errors.Is(ds.Validate(), ErrInvalid), "bag 1 is empty")

	ds = testDataset()
	ds.Labels = mat.NewDense(5, 1, nil)
	require.True(t, errors.Is(ds.Validate(), ErrInvalid))
}

func TestDataset_Subset(t *testing.T) {
	ds := testDataset()
	sub, err := ds.Subset([]int{2, 0})
	require.NoError(t, err)
	require.NoError(t, sub.Validate())
	require.Equal(t, []int{1, 1, 0, 0}, sub.Bags)
	require.Equal(t, []float64{1, 1}, sub.BagLabels.RawRowView(0))
	require.Equal(t, []float64{6, 7}, sub.Instance(2))
	index, ok := sub.BagNames.ContainsName("c")
	require.True(t, ok)
	require.Equal(t, 0, index)

	_, err = ds.Subset(nil)
	require.Error(t, err)
}

func TestDataset_SplitBags(t *testing.T) {
	ds := testDataset()
	splits, err := ds.SplitBags(rand.New(rand.NewSource(3)), 2, 1)
	require.NoError(t, err)
	require.Len(t, splits, 2)
	require.Equal(t, 2, splits[0].NumBags())
	require.Equal(t, 1, splits[1].NumBags())
	require.Equal(t, ds.NumInstances(), splits[0].NumInstances()+splits[1].NumInstances())

	_, err = ds.SplitBags(rand.New(rand.NewSource(3)), 3, 1)
	require.Error(t, err)
}

func TestSynthetic(t *testing.T) {
	ds, err := Synthetic(SyntheticConfig{Bags: 6, BagSize: 10, Histograms: 3, Bins: 4, Noise: 0.1}, rand.New(rand.NewSource(11)))
	require.NoError(t, err)
	require.NoError(t, ds.Validate())
	require.Equal(t, 60, ds.NumInstances())
	require.Equal(t, 12, ds.Dimension())
	require.Equal(t, 1, ds.LabelDimension())

	for i := 0; i < ds.NumInstances(); i++ {
		row := ds.Instance(i)
		for h := 0; h < 3; h++ {
			require.InDelta(t, 1.0, floats.Sum(row[h*4:(h+1)*4]), 1e-9)
		}
	}
	for b, p := range ds.Proportions() {
		positives := 0.0
		for i, bag := range ds.Bags {
			if bag == b {
				positives += ds.Labels.At(i, 0)
			}
		}
		require.InDelta(t, positives/10, p, 1e-12)
	}

	interval, err := Synthetic(SyntheticConfig{Bags: 2, BagSize: 3, Histograms: 1, Bins: 2, IntervalWidth: 0.2}, rand.New(rand.NewSource(11)))
	require.NoError(t, err)
	require.Equal(t, 2, interval.LabelDimension())
	for b := 0; b < 2; b++ {
		require.LessOrEqual(t, interval.BagLabels.At(b, 0), interval.BagLabels.At(b, 1))
	}

	_, err = Synthetic(SyntheticConfig{}, rand.New(rand.NewSource(1)))
	require.Error(t, err)
}
