package bags

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalid is returned by Validate when the dataset breaks one of its invariants.
var ErrInvalid = errors.New("invalid bagged dataset")

// Dataset holds instances partitioned into bags, each bag carrying an aggregate label.
//
// Features is an M x D matrix with one instance per row. Bags maps every instance to
// a dense bag index in [0, N). BagLabels is N x L: a single column holds a label
// proportion, two columns hold a [low, high] interval. Labels is the optional M x L
// per instance label; it is the only field that is written after construction,
// by model prediction.
type Dataset struct {
	Features  *mat.Dense
	Bags      []int
	BagLabels *mat.Dense
	Labels    *mat.Dense
	BagNames  NameMap
}

func (d *Dataset) NumInstances() int {
	return len(d.Bags)
}

func (d *Dataset) NumBags() int {
	r, _ := d.BagLabels.Dims()
	return r
}

// Dimension is the length D of an instance feature vector.
func (d *Dataset) Dimension() int {
	_, c := d.Features.Dims()
	return c
}

// LabelDimension is the number of columns L of a bag label.
func (d *Dataset) LabelDimension() int {
	_, c := d.BagLabels.Dims()
	return c
}

// Instance returns the feature row of instance i without copying.
func (d *Dataset) Instance(i int) []float64 {
	return d.Features.RawRowView(i)
}

// BagSizes counts the instances of every bag.
func (d *Dataset) BagSizes() []int {
	sizes := make([]int, d.NumBags())
	for _, b := range d.Bags {
		sizes[b]++
	}
	return sizes
}

// Proportions returns the known label proportion of every bag. Interval labels
// are summarized by their midpoint.
func (d *Dataset) Proportions() []float64 {
	n := d.NumBags()
	p := make([]float64, n)
	for i := range p {
		if d.LabelDimension() >= 2 {
			p[i] = 0.5 * (d.BagLabels.At(i, 0) + d.BagLabels.At(i, 1))
		} else {
			p[i] = d.BagLabels.At(i, 0)
		}
	}
	return p
}

// Validate checks that every instance belongs to exactly one bag and that bag
// indices densely cover [0, N).
func (d *Dataset) Validate() error {
	if d.Features == nil || d.BagLabels == nil {
		return fmt.Errorf("%w: missing features or bag labels", ErrInvalid)
	}
	rows, _ := d.Features.Dims()
	if rows != len(d.Bags) {
		return fmt.Errorf("%w: %d feature rows for %d bag memberships", ErrInvalid, rows, len(d.Bags))
	}
	n := d.NumBags()
	for i, b := range d.Bags {
		if b < 0 || b >= n {
			return fmt.Errorf("%w: instance %d refers to bag %d of %d", ErrInvalid, i, b, n)
		}
	}
	for b, size := range d.BagSizes() {
		if size == 0 {
			return fmt.Errorf("%w: bag %d is empty", ErrInvalid, b)
		}
	}
	if l := d.LabelDimension(); l < 1 || l > 2 {
		return fmt.Errorf("%w: bag labels have %d columns", ErrInvalid, l)
	}
	if d.Labels != nil {
		r, c := d.Labels.Dims()
		if r != rows || c != d.LabelDimension() {
			return fmt.Errorf("%w: instance labels are %dx%d, expected %dx%d", ErrInvalid, r, c, rows, d.LabelDimension())
		}
	}
	return nil
}

// Subset returns a new dataset made of the given bags, in the given order. Bag
// indices are renumbered densely; feature rows are copied.
func (d *Dataset) Subset(bagIndices []int) (*Dataset, error) {
	if len(bagIndices) == 0 {
		return nil, fmt.Errorf("%w: empty bag subset", ErrInvalid)
	}
	remap := make(map[int]int, len(bagIndices))
	for i, b := range bagIndices {
		if b < 0 || b >= d.NumBags() {
			return nil, fmt.Errorf("%w: bag %d of %d", ErrInvalid, b, d.NumBags())
		}
		remap[b] = i
	}
	var instances []int
	for i, b := range d.Bags {
		if _, ok := remap[b]; ok {
			instances = append(instances, i)
		}
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: bag subset has no instances", ErrInvalid)
	}

	dim, labelDim := d.Dimension(), d.LabelDimension()
	sub := &Dataset{
		Features:  mat.NewDense(len(instances), dim, nil),
		Bags:      make([]int, len(instances)),
		BagLabels: mat.NewDense(len(bagIndices), labelDim, nil),
		BagNames:  NewNameMap(),
	}
	for i, b := range bagIndices {
		sub.BagLabels.SetRow(i, d.BagLabels.RawRowView(b))
		if name, ok := d.BagNames.Name(b); ok {
			sub.BagNames.Set(name, i)
		}
	}
	if d.Labels != nil {
		sub.Labels = mat.NewDense(len(instances), labelDim, nil)
	}
	for i, src := range instances {
		sub.Features.SetRow(i, d.Features.RawRowView(src))
		sub.Bags[i] = remap[d.Bags[src]]
		if sub.Labels != nil {
			sub.Labels.SetRow(i, d.Labels.RawRowView(src))
		}
	}
	return sub, nil
}

// SplitBags shuffles the bags and splits them into datasets of the given bag counts.
func (d *Dataset) SplitBags(rnd *rand.Rand, sizes ...int) ([]*Dataset, error) {
	total := 0
	for _, s := range sizes {
		total += s
	}
	if total > d.NumBags() {
		return nil, fmt.Errorf("cannot split %d bags into %d", d.NumBags(), total)
	}
	indices := rnd.Perm(d.NumBags())
	splits := make([]*Dataset, len(sizes))
	idx := 0
	for i, size := range sizes {
		sub, err := d.Subset(indices[idx : idx+size])
		if err != nil {
			return nil, fmt.Errorf("split %d: %w", i, err)
		}
		splits[i] = sub
		idx += size
	}
	return splits, nil
}
