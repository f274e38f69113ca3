// Package merging reassigns hits from undersized clusters to the seed
// clusters they most plausibly belong to.
package merging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/hitmerge/internal/algorithm"
	"github.com/banshee-data/hitmerge/internal/config"
	"github.com/banshee-data/hitmerge/internal/geometry"
	"github.com/banshee-data/hitmerge/internal/monitoring"
	"github.com/banshee-data/hitmerge/internal/reco"
)

// IsolatedHitMergingName is the registered algorithm type name.
const IsolatedHitMergingName = "IsolatedHitMerging"

const (
	// DefaultMinClusterHits is the size below which a non-seed cluster is
	// dissolved.
	DefaultMinClusterHits = 10
	// DefaultMaxMergeDistance bounds the hit to layer-centroid distance for
	// a reassignment.
	DefaultMaxMergeDistance = 10.0
)

// Summary counts what one merging pass did.
type Summary struct {
	DeletedClusters int
	OrphanHits      int
	Attached        int
	Unavailable     int // orphans claimed by someone else before their turn
	Unmatched       int // orphans with no seed cluster in range
}

// IsolatedHitMerging dissolves small non-seed clusters and attaches their
// hits, as isolated hits, to the nearest seed cluster.
type IsolatedHitMerging struct {
	SeedClusterListName    string
	NonSeedClusterListName string
	MinClusterHits         int
	MaxMergeDistance       float64
}

type settings struct {
	SeedClusterListName    *string  `json:"SeedClusterListName"`
	NonSeedClusterListName *string  `json:"NonSeedClusterListName"`
	MinClusterHits         *int     `json:"MinClusterHits,omitempty"`
	MaxMergeDistance       *float64 `json:"MaxMergeDistance,omitempty"`
}

// NewIsolatedHitMerging returns an unconfigured algorithm with default
// thresholds.
func NewIsolatedHitMerging() *IsolatedHitMerging {
	return &IsolatedHitMerging{
		MinClusterHits:   DefaultMinClusterHits,
		MaxMergeDistance: DefaultMaxMergeDistance,
	}
}

// Factory adapts NewIsolatedHitMerging to algorithm.Factory. Merging does
// not use the pointing thresholds.
func Factory(config.PointingParams) algorithm.Algorithm {
	return NewIsolatedHitMerging()
}

// Name implements algorithm.Algorithm.
func (a *IsolatedHitMerging) Name() string { return IsolatedHitMergingName }

// Configure implements algorithm.Algorithm. Both list names are required.
func (a *IsolatedHitMerging) Configure(raw json.RawMessage) error {
	var s settings
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("%w: %s settings: %w", config.ErrConfiguration, IsolatedHitMergingName, err)
		}
	}

	if s.SeedClusterListName == nil || *s.SeedClusterListName == "" {
		return fmt.Errorf("%w: SeedClusterListName is required", config.ErrConfiguration)
	}
	if s.NonSeedClusterListName == nil || *s.NonSeedClusterListName == "" {
		return fmt.Errorf("%w: NonSeedClusterListName is required", config.ErrConfiguration)
	}
	a.SeedClusterListName = *s.SeedClusterListName
	a.NonSeedClusterListName = *s.NonSeedClusterListName

	if s.MinClusterHits != nil {
		if *s.MinClusterHits < 0 {
			return fmt.Errorf("%w: MinClusterHits must be non-negative, got %d", config.ErrConfiguration, *s.MinClusterHits)
		}
		a.MinClusterHits = *s.MinClusterHits
	}
	if s.MaxMergeDistance != nil {
		if !(*s.MaxMergeDistance > 0) {
			return fmt.Errorf("%w: MaxMergeDistance must be positive, got %v", config.ErrConfiguration, *s.MaxMergeDistance)
		}
		a.MaxMergeDistance = *s.MaxMergeDistance
	}
	return nil
}

// Run implements algorithm.Algorithm.
func (a *IsolatedHitMerging) Run(repo reco.Repository) error {
	summary, err := a.Merge(repo)
	if err != nil {
		monitoring.Opsf("%s failed: %v", IsolatedHitMergingName, err)
		return err
	}
	monitoring.Diagf("%s: deleted=%d orphans=%d attached=%d unavailable=%d unmatched=%d",
		IsolatedHitMergingName, summary.DeletedClusters, summary.OrphanHits,
		summary.Attached, summary.Unavailable, summary.Unmatched)
	return nil
}

// Merge runs both phases and reports what changed. A missing non-seed list
// is a successful no-op; a missing seed list is an error. Requests already
// issued when an error occurs stay in effect.
func (a *IsolatedHitMerging) Merge(repo reco.Repository) (Summary, error) {
	var summary Summary

	nonSeeds, err := repo.ClusterList(a.NonSeedClusterListName)
	if errors.Is(err, reco.ErrMissingCollection) {
		monitoring.Tracef("%s: non-seed list %q not present, nothing to do", IsolatedHitMergingName, a.NonSeedClusterListName)
		return summary, nil
	}
	if err != nil {
		return summary, fmt.Errorf("non-seed list %q: %w", a.NonSeedClusterListName, err)
	}

	seeds, err := repo.ClusterList(a.SeedClusterListName)
	if err != nil {
		return summary, fmt.Errorf("seed list %q: %w", a.SeedClusterListName, err)
	}

	// Phase 1: dissolve small non-seed clusters to free their hits.
	var toDelete []*reco.Cluster
	var orphans []*reco.Hit
	for _, c := range nonSeeds {
		if c.NHits() < a.MinClusterHits {
			toDelete = append(toDelete, c)
			orphans = append(orphans, c.OrderedHits().Hits()...)
		}
	}

	if err := repo.DeleteClusters(toDelete, a.NonSeedClusterListName); err != nil {
		return summary, fmt.Errorf("delete %d clusters from %q: %w", len(toDelete), a.NonSeedClusterListName, err)
	}
	summary.DeletedClusters = len(toDelete)
	summary.OrphanHits = len(orphans)

	// Phase 2: hand each freed hit to the closest seed cluster.
	sortClustersByNHits(seeds)
	sortHitsByLayer(orphans)

	for _, hit := range orphans {
		if !repo.IsHitAvailable(hit) {
			summary.Unavailable++
			continue
		}

		best := a.bestHostCluster(seeds, hit)
		if best == nil {
			summary.Unmatched++
			monitoring.Tracef("hit %d (layer %d): no seed cluster within %.2f", hit.ID, hit.PseudoLayer, a.MaxMergeDistance)
			continue
		}

		if err := repo.AddIsolatedHitToCluster(best, hit); err != nil {
			return summary, fmt.Errorf("attach hit %d to cluster %s: %w", hit.ID, best.ID, err)
		}
		summary.Attached++
		monitoring.Tracef("hit %d (layer %d) -> cluster %s", hit.ID, hit.PseudoLayer, best.ID)
	}

	return summary, nil
}

// bestHostCluster returns the seed cluster closest to hit within
// MaxMergeDistance. Equal distances go to the more energetic cluster; among
// equals the earlier cluster in seeds wins.
func (a *IsolatedHitMerging) bestHostCluster(seeds []*reco.Cluster, hit *reco.Hit) *reco.Cluster {
	var best *reco.Cluster
	bestEnergy := 0.0
	minDistance := a.MaxMergeDistance

	for _, c := range seeds {
		distance := DistanceToHit(c, hit)
		energy := c.HadronicEnergy()

		if distance < minDistance || (distance == minDistance && energy > bestEnergy) {
			minDistance = distance
			best = c
			bestEnergy = energy
		}
	}
	return best
}

// DistanceToHit returns the smallest distance from hit to any layer
// centroid of cluster. Hits whose expected direction opposes the cluster's
// initial direction are rejected outright with +Inf, as are empty clusters.
func DistanceToHit(cluster *reco.Cluster, hit *reco.Hit) float64 {
	// TODO: the cut sits exactly at cos=0 with no angular weighting; revisit
	// once merged-hit purity has been measured against a softer cut.
	if geometry.CosOpeningAngle(hit.ExpectedDirection, cluster.InitialDirection) < 0 {
		return math.Inf(1)
	}

	minDistanceSquared := math.Inf(1)
	for _, layer := range cluster.Layers() {
		centroid, ok := cluster.Centroid(layer)
		if !ok {
			continue
		}
		d2 := geometry.MagnitudeSquared(geometry.Sub(centroid, hit.Position))
		if d2 < minDistanceSquared {
			minDistanceSquared = d2
		}
	}
	return math.Sqrt(minDistanceSquared)
}

// sortClustersByNHits orders clusters by descending primary hit count.
func sortClustersByNHits(clusters []*reco.Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].NHits() > clusters[j].NHits()
	})
}

// sortHitsByLayer orders hits by ascending pseudolayer, then descending
// hadronic energy.
func sortHitsByLayer(hits []*reco.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].PseudoLayer != hits[j].PseudoLayer {
			return hits[i].PseudoLayer < hits[j].PseudoLayer
		}
		return hits[i].HadronicEnergy > hits[j].HadronicEnergy
	})
}
