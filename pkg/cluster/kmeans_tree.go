package cluster

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/distance"
)

// CentersInit selects how the centers of a k-means split are seeded.
type CentersInit int

const (
	CentersRandom CentersInit = iota
	CentersGonzales
	CentersKMeansPP
)

func (c CentersInit) String() string {
	switch c {
	case CentersRandom:
		return "random"
	case CentersGonzales:
		return "gonzales"
	case CentersKMeansPP:
		return "kmeanspp"
	default:
		return fmt.Sprintf("CentersInit(%d)", int(c))
	}
}

// ParseCentersInit maps a policy name to its value.
func ParseCentersInit(name string) (CentersInit, error) {
	for _, c := range []CentersInit{CentersRandom, CentersGonzales, CentersKMeansPP} {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown centers init %q", name)
}

// stableLimit bounds the Lloyd iterations of a split when running until stable.
const stableLimit = 1000

// Backend computes cluster centroids of the rows of data.
type Backend interface {
	// HierarchicalClustering returns the number of clusters it achieved and their
	// centroids, one per row.
	HierarchicalClustering(data *mat.Dense, clusters, branching, iterations int, init CentersInit, dist distance.Func) (int, *mat.Dense, error)
}

// KMeansTree grows a k-means tree top down. Every step splits the leaf with the
// largest sum of member to centroid distances into branching children, so a tree
// with n splits has 1 + n*(branching-1) leaves. The leaf centroids are the clusters.
type KMeansTree struct {
	Rand *rand.Rand
}

func NewKMeansTree(seed uint64) *KMeansTree {
	return &KMeansTree{Rand: rand.New(rand.NewSource(seed))}
}

type leaf struct {
	members  []int
	centroid []float64
	cost     float64
}

func (t *KMeansTree) HierarchicalClustering(data *mat.Dense, clusters, branching, iterations int, init CentersInit, dist distance.Func) (int, *mat.Dense, error) {
	n, dim := data.Dims()
	if branching < 2 {
		return 0, nil, fmt.Errorf("%w: branching %d", ErrClusterCount, branching)
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	leaves := []*leaf{newLeaf(data, all, dist)}

	for len(leaves)+branching-1 <= clusters {
		next := -1
		for i, l := range leaves {
			if len(l.members) < branching {
				continue
			}
			if next < 0 || l.cost > leaves[next].cost {
				next = i
			}
		}
		if next < 0 {
			break
		}
		children := t.split(data, leaves[next].members, branching, iterations, init, dist)
		replaced := make([]*leaf, 0, len(leaves)+branching-1)
		replaced = append(replaced, leaves[:next]...)
		for _, members := range children {
			replaced = append(replaced, newLeaf(data, members, dist))
		}
		replaced = append(replaced, leaves[next+1:]...)
		leaves = replaced
	}

	centroids := mat.NewDense(len(leaves), dim, nil)
	for i, l := range leaves {
		centroids.SetRow(i, l.centroid)
	}
	return len(leaves), centroids, nil
}

func newLeaf(data *mat.Dense, members []int, dist distance.Func) *leaf {
	l := &leaf{members: members, centroid: mean(data, members)}
	for _, m := range members {
		l.cost += dist(data.RawRowView(m), l.centroid)
	}
	return l
}

func mean(data *mat.Dense, members []int) []float64 {
	_, dim := data.Dims()
	c := make([]float64, dim)
	if len(members) == 0 {
		return c
	}
	for _, m := range members {
		floats.Add(c, data.RawRowView(m))
	}
	floats.Scale(1/float64(len(members)), c)
	return c
}

// split partitions members into exactly branching non-empty groups with k-means.
func (t *KMeansTree) split(data *mat.Dense, members []int, branching, iterations int, init CentersInit, dist distance.Func) [][]int {
	centers := t.seed(data, members, branching, init, dist)
	assign := make([]int, len(members))
	for i := range assign {
		assign[i] = -1
	}

	assignAll := func() bool {
		changed := false
		for i, m := range members {
			best, _ := nearestCenter(data.RawRowView(m), centers, dist)
			if best != assign[i] {
				assign[i] = best
				changed = true
			}
		}
		return changed
	}

	limit := iterations
	if limit < 0 {
		limit = stableLimit
	}
	assignAll()
	for iter := 0; iter < limit; iter++ {
		groups := group(members, assign, branching)
		for c, g := range groups {
			if len(g) > 0 {
				centers[c] = mean(data, g)
			}
		}
		if !assignAll() {
			break
		}
	}

	groups := group(members, assign, branching)
	for c := range groups {
		if len(groups[c]) > 0 {
			continue
		}
		// move the worst placed member of the largest group into the empty one
		largest := 0
		for g := range groups {
			if len(groups[g]) > len(groups[largest]) {
				largest = g
			}
		}
		center := mean(data, groups[largest])
		worst, worstDist := 0, math.Inf(-1)
		for i, m := range groups[largest] {
			if d := dist(data.RawRowView(m), center); d > worstDist {
				worst, worstDist = i, d
			}
		}
		groups[c] = []int{groups[largest][worst]}
		groups[largest] = append(groups[largest][:worst:worst], groups[largest][worst+1:]...)
	}
	return groups
}

func group(members, assign []int, k int) [][]int {
	groups := make([][]int, k)
	for i, m := range members {
		groups[assign[i]] = append(groups[assign[i]], m)
	}
	return groups
}

func nearestCenter(x []float64, centers [][]float64, dist distance.Func) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if d := dist(x, center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

// seed picks k distinct members as initial centers.
func (t *KMeansTree) seed(data *mat.Dense, members []int, k int, init CentersInit, dist distance.Func) [][]float64 {
	chosen := make([]int, 0, k)
	switch init {
	case CentersGonzales, CentersKMeansPP:
		taken := make(map[int]bool, k)
		first := t.Rand.Intn(len(members))
		chosen = append(chosen, first)
		taken[first] = true
		closest := make([]float64, len(members))
		for i, m := range members {
			closest[i] = dist(data.RawRowView(m), data.RawRowView(members[first]))
		}
		for len(chosen) < k {
			next := -1
			if init == CentersGonzales {
				for i := range members {
					if !taken[i] && (next < 0 || closest[i] > closest[next]) {
						next = i
					}
				}
			} else {
				next = t.sample(closest, taken)
			}
			chosen = append(chosen, next)
			taken[next] = true
			for i, m := range members {
				if d := dist(data.RawRowView(m), data.RawRowView(members[next])); d < closest[i] {
					closest[i] = d
				}
			}
		}
	default:
		chosen = t.Rand.Perm(len(members))[:k]
	}

	centers := make([][]float64, k)
	for c, i := range chosen {
		centers[c] = append([]float64(nil), data.RawRowView(members[i])...)
	}
	return centers
}

// sample draws an index not yet taken with probability proportional to weights,
// falling back to a uniform draw among the remaining ones when all weights are zero.
func (t *KMeansTree) sample(weights []float64, taken map[int]bool) int {
	total := 0.0
	for i, w := range weights {
		if !taken[i] {
			total += w
		}
	}
	if total > 0 {
		target := t.Rand.Float64() * total
		last := -1
		for i, w := range weights {
			if taken[i] {
				continue
			}
			last = i
			if target < w {
				return i
			}
			target -= w
		}
		if last >= 0 && weights[last] > 0 {
			return last
		}
	}
	free := make([]int, 0, len(weights))
	for i := range weights {
		if !taken[i] {
			free = append(free, i)
		}
	}
	return free[t.Rand.Intn(len(free))]
}
