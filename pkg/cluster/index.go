package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/distance"
)

// Index answers nearest neighbour queries over a fixed set of points, one per row,
// under an arbitrary distance functor. Points are scanned linearly.
type Index struct {
	points *mat.Dense
	dist   distance.Func
}

func NewIndex(points *mat.Dense, dist distance.Func) *Index {
	return &Index{points: points, dist: dist}
}

func (x *Index) Size() int {
	r, _ := x.points.Dims()
	return r
}

// Nearest returns the closest point and its distance. Ties go to the lowest row.
func (x *Index) Nearest(query []float64) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i := 0; i < x.Size(); i++ {
		if d := x.dist(query, x.points.RawRowView(i)); d < bestDist || best < 0 {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// KNN returns the k closest points ordered by increasing distance.
func (x *Index) KNN(query []float64, k int) ([]int, []float64) {
	n := x.Size()
	if k > n {
		k = n
	}
	indices := make([]int, n)
	dists := make([]float64, n)
	for i := range indices {
		indices[i] = i
		dists[i] = x.dist(query, x.points.RawRowView(i))
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return dists[indices[a]] < dists[indices[b]]
	})
	result := make([]float64, k)
	for i := 0; i < k; i++ {
		result[i] = dists[indices[i]]
	}
	return indices[:k], result
}
