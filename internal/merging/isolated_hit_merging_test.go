package merging

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hitmerge/internal/config"
	"github.com/banshee-data/hitmerge/internal/eventstore"
	"github.com/banshee-data/hitmerge/internal/geometry"
	"github.com/banshee-data/hitmerge/internal/reco"
)

const (
	seedList    = "SeedClusters"
	nonSeedList = "NonSeedClusters"
)

var forward = geometry.NewVector3(0, 0, 1)

// fixture builds hits and clusters in an eventstore.Store.
type fixture struct {
	t      *testing.T
	store  *eventstore.Store
	nextID uint64
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, store: eventstore.NewStore(), nextID: 1}
}

func (f *fixture) hit(x, y, z float64, layer uint32, energy float64, dir geometry.Vector3) *reco.Hit {
	f.t.Helper()
	h := &reco.Hit{
		ID:                f.nextID,
		Position:          geometry.NewVector3(x, y, z),
		HadronicEnergy:    energy,
		ExpectedDirection: dir,
		PseudoLayer:       layer,
	}
	f.nextID++
	require.NoError(f.t, f.store.AddHit(h))
	return h
}

// line builds n hits at (x, y, layer) for layers 0..n-1.
func (f *fixture) line(x, y float64, n int, energy float64) []*reco.Hit {
	hits := make([]*reco.Hit, n)
	for i := range hits {
		hits[i] = f.hit(x, y, float64(i), uint32(i), energy, forward)
	}
	return hits
}

func (f *fixture) cluster(list string, hits []*reco.Hit) *reco.Cluster {
	f.t.Helper()
	c, err := f.store.CreateCluster(list, hits, forward)
	require.NoError(f.t, err)
	return c
}

func newMerger() *IsolatedHitMerging {
	a := NewIsolatedHitMerging()
	a.SeedClusterListName = seedList
	a.NonSeedClusterListName = nonSeedList
	return a
}

func hitIDs(hits []*reco.Hit) []uint64 {
	ids := make([]uint64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

func TestMerge_AttachesOrphansWithinRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seed := f.cluster(seedList, f.line(0, 0, 12, 1))
	orphans := f.line(3, 0, 9, 1)
	f.cluster(nonSeedList, orphans)

	summary, err := newMerger().Merge(f.store)
	require.NoError(t, err)

	assert.Equal(t, Summary{DeletedClusters: 1, OrphanHits: 9, Attached: 9}, summary)

	nonSeeds, err := f.store.ClusterList(nonSeedList)
	require.NoError(t, err)
	assert.Empty(t, nonSeeds)

	assert.Equal(t, 9, seed.NIsolatedHits())
	assert.Equal(t, 12, seed.NHits(), "isolated hits must not change the layer structure")
	if diff := cmp.Diff(hitIDs(orphans), hitIDs(seed.IsolatedHits())); diff != "" {
		t.Errorf("isolated hits mismatch (-want +got):\n%s", diff)
	}
	for _, h := range orphans {
		assert.False(t, f.store.IsHitAvailable(h))
	}
}

func TestMerge_OrphansOutOfRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seed := f.cluster(seedList, f.line(0, 0, 12, 1))
	orphans := f.line(15, 0, 9, 1)
	f.cluster(nonSeedList, orphans)

	summary, err := newMerger().Merge(f.store)
	require.NoError(t, err)

	assert.Equal(t, Summary{DeletedClusters: 1, OrphanHits: 9, Unmatched: 9}, summary)
	assert.Zero(t, seed.NIsolatedHits())

	nonSeeds, err := f.store.ClusterList(nonSeedList)
	require.NoError(t, err)
	assert.Empty(t, nonSeeds, "small cluster is deleted even when nothing is reassigned")
	for _, h := range orphans {
		assert.True(t, f.store.IsHitAvailable(h))
	}
}

func TestMerge_KeepsLargeNonSeedClusters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cluster(seedList, f.line(0, 0, 12, 1))
	big := f.cluster(nonSeedList, f.line(1, 0, 10, 1))
	small := f.cluster(nonSeedList, f.line(2, 0, 3, 1))

	summary, err := newMerger().Merge(f.store)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DeletedClusters)

	nonSeeds, err := f.store.ClusterList(nonSeedList)
	require.NoError(t, err)
	require.Len(t, nonSeeds, 1)
	assert.Same(t, big, nonSeeds[0])
	assert.NotSame(t, small, nonSeeds[0])
}

func TestMerge_TieGoesToMoreEnergeticCluster(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// Fewer hits but more energy: sorted after the busier cluster.
	energetic := f.cluster(seedList, f.line(-3, 0, 10, 5))
	busy := f.cluster(seedList, f.line(3, 0, 12, 1))
	orphan := f.hit(0, 0, 4, 4, 1, forward)
	f.cluster(nonSeedList, []*reco.Hit{orphan})

	assert.Equal(t, DistanceToHit(energetic, orphan), DistanceToHit(busy, orphan))

	_, err := newMerger().Merge(f.store)
	require.NoError(t, err)

	assert.Equal(t, 1, energetic.NIsolatedHits())
	assert.Zero(t, busy.NIsolatedHits())
}

func TestMerge_NearestClusterWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	near := f.cluster(seedList, f.line(2, 0, 10, 1))
	far := f.cluster(seedList, f.line(-5, 0, 12, 100))
	orphan := f.hit(0, 0, 3, 3, 1, forward)
	f.cluster(nonSeedList, []*reco.Hit{orphan})

	_, err := newMerger().Merge(f.store)
	require.NoError(t, err)
	assert.Equal(t, 1, near.NIsolatedHits())
	assert.Zero(t, far.NIsolatedHits())
}

func TestMerge_MissingNonSeedListIsNoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seed := f.cluster(seedList, f.line(0, 0, 12, 1))

	summary, err := newMerger().Merge(f.store)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Zero(t, seed.NIsolatedHits())

	// Missing seed list is irrelevant when there is nothing to merge.
	empty := newFixture(t)
	_, err = newMerger().Merge(empty.store)
	assert.NoError(t, err)
}

func TestMerge_MissingSeedListIsError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	small := f.cluster(nonSeedList, f.line(0, 0, 3, 1))

	_, err := newMerger().Merge(f.store)
	require.ErrorIs(t, err, reco.ErrMissingCollection)

	nonSeeds, lerr := f.store.ClusterList(nonSeedList)
	require.NoError(t, lerr)
	require.Len(t, nonSeeds, 1, "nothing is deleted before the seed list is found")
	assert.Same(t, small, nonSeeds[0])
}

// recordingRepo wraps a store, recording attachments and optionally
// injecting failures or stealing hits.
type recordingRepo struct {
	*eventstore.Store
	attached  []uint64
	failAfter int // fail the attachment after this many successes; <0 never
	steal     map[uint64]bool
	deleteErr error
}

func (r *recordingRepo) IsHitAvailable(hit *reco.Hit) bool {
	if r.steal[hit.ID] {
		return false
	}
	return r.Store.IsHitAvailable(hit)
}

func (r *recordingRepo) DeleteClusters(clusters []*reco.Cluster, listName string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.Store.DeleteClusters(clusters, listName)
}

func (r *recordingRepo) AddIsolatedHitToCluster(c *reco.Cluster, hit *reco.Hit) error {
	if r.failAfter >= 0 && len(r.attached) >= r.failAfter {
		return errors.New("attachment rejected")
	}
	if err := r.Store.AddIsolatedHitToCluster(c, hit); err != nil {
		return err
	}
	r.attached = append(r.attached, hit.ID)
	return nil
}

func TestMerge_ProcessingOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cluster(seedList, f.line(0, 0, 12, 1))

	a := f.hit(1, 0, 5, 5, 0.5, forward) // id 13
	b := f.hit(1, 0, 2, 2, 0.1, forward) // id 14
	c := f.hit(1, 0, 5, 5, 2.0, forward) // id 15
	d := f.hit(1, 0, 2, 2, 0.9, forward) // id 16
	f.cluster(nonSeedList, []*reco.Hit{a, b})
	f.cluster(nonSeedList, []*reco.Hit{c, d})

	repo := &recordingRepo{Store: f.store, failAfter: -1}
	_, err := newMerger().Merge(repo)
	require.NoError(t, err)

	want := []uint64{d.ID, b.ID, c.ID, a.ID}
	if diff := cmp.Diff(want, repo.attached); diff != "" {
		t.Errorf("attachment order mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_SkipsUnavailableHits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seed := f.cluster(seedList, f.line(0, 0, 12, 1))
	orphans := f.line(1, 0, 4, 1)
	f.cluster(nonSeedList, orphans)

	repo := &recordingRepo{Store: f.store, failAfter: -1, steal: map[uint64]bool{orphans[1].ID: true}}
	summary, err := newMerger().Merge(repo)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Unavailable)
	assert.Equal(t, 3, summary.Attached)
	assert.Equal(t, 3, seed.NIsolatedHits())
}

func TestMerge_AttachmentFailureAborts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seed := f.cluster(seedList, f.line(0, 0, 12, 1))
	f.cluster(nonSeedList, f.line(1, 0, 5, 1))

	repo := &recordingRepo{Store: f.store, failAfter: 2}
	summary, err := newMerger().Merge(repo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attachment rejected")

	// Earlier requests stay in effect.
	assert.Equal(t, 2, summary.Attached)
	assert.Equal(t, 2, seed.NIsolatedHits())
	nonSeeds, lerr := f.store.ClusterList(nonSeedList)
	require.NoError(t, lerr)
	assert.Empty(t, nonSeeds)
}

func TestMerge_DeletionFailureAborts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seed := f.cluster(seedList, f.line(0, 0, 12, 1))
	f.cluster(nonSeedList, f.line(1, 0, 5, 1))

	repo := &recordingRepo{Store: f.store, failAfter: -1, deleteErr: errors.New("list locked")}
	err := newMerger().Run(repo)
	require.Error(t, err)
	assert.Zero(t, seed.NIsolatedHits())
	assert.Empty(t, repo.attached)
}

func TestDistanceToHit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.cluster(seedList, f.line(0, 0, 5, 1))

	t.Run("nearest layer centroid", func(t *testing.T) {
		h := &reco.Hit{Position: geometry.NewVector3(3, 4, 2), ExpectedDirection: forward}
		assert.InDelta(t, 5, DistanceToHit(c, h), 1e-12)
	})

	t.Run("opposed directions are rejected regardless of proximity", func(t *testing.T) {
		h := &reco.Hit{Position: geometry.NewVector3(0, 0, 2), ExpectedDirection: geometry.NewVector3(0, 0, -1)}
		assert.True(t, math.IsInf(DistanceToHit(c, h), 1))
	})

	t.Run("perpendicular directions pass preselection", func(t *testing.T) {
		h := &reco.Hit{Position: geometry.NewVector3(0, 0, 2), ExpectedDirection: geometry.NewVector3(1, 0, 0)}
		assert.InDelta(t, 0, DistanceToHit(c, h), 1e-12)
	})

	t.Run("empty cluster", func(t *testing.T) {
		empty := reco.NewCluster("empty", nil, forward)
		h := &reco.Hit{ExpectedDirection: forward}
		assert.True(t, math.IsInf(DistanceToHit(empty, h), 1))
	})
}

func TestConfigure(t *testing.T) {
	t.Parallel()

	t.Run("required names and defaults", func(t *testing.T) {
		a := NewIsolatedHitMerging()
		err := a.Configure(json.RawMessage(`{"SeedClusterListName": "s", "NonSeedClusterListName": "n"}`))
		require.NoError(t, err)
		assert.Equal(t, "s", a.SeedClusterListName)
		assert.Equal(t, "n", a.NonSeedClusterListName)
		assert.Equal(t, DefaultMinClusterHits, a.MinClusterHits)
		assert.Equal(t, DefaultMaxMergeDistance, a.MaxMergeDistance)
	})

	t.Run("overrides", func(t *testing.T) {
		a := NewIsolatedHitMerging()
		err := a.Configure(json.RawMessage(`{"SeedClusterListName": "s", "NonSeedClusterListName": "n", "MinClusterHits": 4, "MaxMergeDistance": 2.5}`))
		require.NoError(t, err)
		assert.Equal(t, 4, a.MinClusterHits)
		assert.Equal(t, 2.5, a.MaxMergeDistance)
	})

	bad := map[string]string{
		"missing seed":      `{"NonSeedClusterListName": "n"}`,
		"missing non-seed":  `{"SeedClusterListName": "s"}`,
		"empty settings":    ``,
		"malformed":         `{"SeedClusterListName": 7}`,
		"unknown key":       `{"SeedClusterListName": "s", "NonSeedClusterListName": "n", "Radius": 1}`,
		"negative min hits": `{"SeedClusterListName": "s", "NonSeedClusterListName": "n", "MinClusterHits": -1}`,
		"zero distance":     `{"SeedClusterListName": "s", "NonSeedClusterListName": "n", "MaxMergeDistance": 0}`,
	}
	for name, raw := range bad {
		t.Run(name, func(t *testing.T) {
			err := NewIsolatedHitMerging().Configure(json.RawMessage(raw))
			assert.ErrorIs(t, err, config.ErrConfiguration)
		})
	}
}

func TestSortHitsByLayer(t *testing.T) {
	t.Parallel()
	hits := []*reco.Hit{
		{ID: 1, PseudoLayer: 3, HadronicEnergy: 1},
		{ID: 2, PseudoLayer: 1, HadronicEnergy: 1},
		{ID: 3, PseudoLayer: 3, HadronicEnergy: 4},
		{ID: 4, PseudoLayer: 1, HadronicEnergy: 1}, // equal to 2, keeps input order
		{ID: 5, PseudoLayer: 0, HadronicEnergy: 0},
	}
	sortHitsByLayer(hits)
	if diff := cmp.Diff([]uint64{5, 2, 4, 3, 1}, hitIDs(hits)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSortClustersByNHits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	small := reco.NewCluster("small", f.line(0, 0, 2, 1), forward)
	large := reco.NewCluster("large", f.line(1, 0, 5, 1), forward)
	medium := reco.NewCluster("medium", f.line(2, 0, 3, 1), forward)
	alsoMedium := reco.NewCluster("also-medium", f.line(3, 0, 3, 1), forward)

	clusters := []*reco.Cluster{small, medium, large, alsoMedium}
	sortClustersByNHits(clusters)

	got := make([]string, len(clusters))
	for i, c := range clusters {
		got[i] = c.ID
	}
	if diff := cmp.Diff([]string{"large", "medium", "also-medium", "small"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}
