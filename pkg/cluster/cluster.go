package cluster

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"bagcluster/pkg/bags"
	"bagcluster/pkg/distance"
)

var (
	// ErrLayout is returned when instance features are not stored contiguously in row-major order.
	ErrLayout = errors.New("instance features are not contiguous row-major")
	// ErrClusterCount is returned for cluster and branching combinations that cannot be reached.
	ErrClusterCount = errors.New("unreachable cluster count")
	// ErrInconsistent is returned when the backend does not deliver the cluster count it must.
	ErrInconsistent = errors.New("clustering backend returned an inconsistent cluster count")
)

// Config holds the clustering parameters.
type Config struct {
	Clusters   int
	Branching  int
	Iterations int
	Init       CentersInit
	Seed       uint64
}

// ClusterCount is the smallest K' >= requested such that (K'-1) is a multiple of
// (branching-1), the cluster counts a tree with the given branching can reach.
func ClusterCount(requested, branching int) (int, error) {
	if requested < 1 || branching < 2 {
		return 0, fmt.Errorf("%w: %d clusters with branching %d", ErrClusterCount, requested, branching)
	}
	step := branching - 1
	splits := (requested - 1 + step - 1) / step
	return 1 + splits*step, nil
}

// Clustering is the result of one clustering pass.
type Clustering struct {
	// Centroids holds one cluster centroid per row.
	Centroids *mat.Dense
	// Assignments maps every instance to its nearest centroid.
	Assignments []int
	// Proportions is the bags x clusters matrix of the fraction of every bag's
	// instances falling into every cluster.
	Proportions *mat.Dense
}

func (c *Clustering) NumClusters() int {
	r, _ := c.Centroids.Dims()
	return r
}

// Clusterer partitions the instances of a bagged dataset.
type Clusterer struct {
	Config  Config
	Backend Backend
	// count is the resolved K'
	count int
}

// New validates the configuration and uses a KMeansTree seeded with config.Seed as backend.
func New(config Config) (*Clusterer, error) {
	return NewWithBackend(config, NewKMeansTree(config.Seed))
}

func NewWithBackend(config Config, backend Backend) (*Clusterer, error) {
	count, err := ClusterCount(config.Clusters, config.Branching)
	if err != nil {
		return nil, err
	}
	if count != config.Clusters {
		log.Info().Int("requested", config.Clusters).Int("clusters", count).Int("branching", config.Branching).
			Msg("cluster count adjusted to the branching factor")
	}
	return &Clusterer{Config: config, Backend: backend, count: count}, nil
}

// NumClusters is the cluster count K' every clustering of this clusterer has.
func (c *Clusterer) NumClusters() int {
	return c.count
}

// Cluster computes centroids under dist, assigns every instance to its nearest
// centroid and builds the row normalized bag-cluster proportion matrix.
func (c *Clusterer) Cluster(ds *bags.Dataset, dist distance.Func) (*Clustering, error) {
	raw := ds.Features.RawMatrix()
	if raw.Stride != raw.Cols {
		return nil, fmt.Errorf("%w: stride %d for %d columns", ErrLayout, raw.Stride, raw.Cols)
	}

	achieved, centroids, err := c.Backend.HierarchicalClustering(ds.Features, c.count, c.Config.Branching,
		c.Config.Iterations, c.Config.Init, dist)
	if err != nil {
		return nil, fmt.Errorf("error clustering instances: %w", err)
	}
	if achieved != c.count {
		return nil, fmt.Errorf("%w: expected %d clusters, got %d", ErrInconsistent, c.count, achieved)
	}

	index := NewIndex(centroids, dist)
	assignments := make([]int, ds.NumInstances())
	for i := range assignments {
		assignments[i], _ = index.Nearest(ds.Instance(i))
	}

	proportions := CoOccurrenceSized(ds.Bags, assignments, ds.NumBags(), achieved)
	NormalizeRows(proportions)

	return &Clustering{
		Centroids:   centroids,
		Assignments: assignments,
		Proportions: proportions,
	}, nil
}
