package reco

import (
	"sort"

	"github.com/banshee-data/hitmerge/internal/geometry"
)

// OrderedHitList groups hits by pseudolayer. Layers iterate in ascending
// order; the order of hits within a layer is insertion order.
type OrderedHitList struct {
	layers []uint32 // ascending, unique
	hits   map[uint32][]*Hit
}

// NewOrderedHitList builds an ordered list from hits.
func NewOrderedHitList(hits []*Hit) OrderedHitList {
	l := OrderedHitList{hits: make(map[uint32][]*Hit)}
	for _, h := range hits {
		l.Add(h)
	}
	return l
}

// Add inserts hit into its pseudolayer.
func (l *OrderedHitList) Add(hit *Hit) {
	if l.hits == nil {
		l.hits = make(map[uint32][]*Hit)
	}
	layer := hit.PseudoLayer
	if _, ok := l.hits[layer]; !ok {
		i := sort.Search(len(l.layers), func(i int) bool { return l.layers[i] >= layer })
		l.layers = append(l.layers, 0)
		copy(l.layers[i+1:], l.layers[i:])
		l.layers[i] = layer
	}
	l.hits[layer] = append(l.hits[layer], hit)
}

// Layers returns the populated pseudolayers in ascending order.
func (l OrderedHitList) Layers() []uint32 {
	out := make([]uint32, len(l.layers))
	copy(out, l.layers)
	return out
}

// HitsInLayer returns the hits recorded at layer.
func (l OrderedHitList) HitsInLayer(layer uint32) []*Hit {
	return l.hits[layer]
}

// Len returns the total number of hits.
func (l OrderedHitList) Len() int {
	n := 0
	for _, hs := range l.hits {
		n += len(hs)
	}
	return n
}

// Hits flattens the list in layer order.
func (l OrderedHitList) Hits() []*Hit {
	out := make([]*Hit, 0, l.Len())
	for _, layer := range l.layers {
		out = append(out, l.hits[layer]...)
	}
	return out
}

// Cluster is a trajectory fragment: hits ordered by pseudolayer plus any
// isolated hits attached after clustering.
type Cluster struct {
	ID string

	// InitialDirection is the unit direction estimated when the cluster was
	// formed.
	InitialDirection geometry.Vector3

	ordered  OrderedHitList
	isolated []*Hit
}

// NewCluster builds a cluster from its primary hits.
func NewCluster(id string, hits []*Hit, initialDirection geometry.Vector3) *Cluster {
	return &Cluster{
		ID:               id,
		InitialDirection: initialDirection,
		ordered:          NewOrderedHitList(hits),
	}
}

// OrderedHits returns the cluster's layer-ordered primary hits.
func (c *Cluster) OrderedHits() OrderedHitList { return c.ordered }

// IsolatedHits returns hits attached as non-primary members.
func (c *Cluster) IsolatedHits() []*Hit {
	out := make([]*Hit, len(c.isolated))
	copy(out, c.isolated)
	return out
}

// AddIsolatedHit records hit as an isolated member. Only Repository
// implementations call this.
func (c *Cluster) AddIsolatedHit(hit *Hit) {
	c.isolated = append(c.isolated, hit)
}

// NHits returns the number of primary hits.
func (c *Cluster) NHits() int { return c.ordered.Len() }

// NIsolatedHits returns the number of isolated hits.
func (c *Cluster) NIsolatedHits() int { return len(c.isolated) }

// HadronicEnergy sums the energy of every hit in the cluster, isolated hits
// included.
func (c *Cluster) HadronicEnergy() float64 {
	var e float64
	for _, layer := range c.ordered.layers {
		for _, h := range c.ordered.hits[layer] {
			e += h.HadronicEnergy
		}
	}
	for _, h := range c.isolated {
		e += h.HadronicEnergy
	}
	return e
}

// Layers returns the populated pseudolayers in ascending order.
func (c *Cluster) Layers() []uint32 { return c.ordered.Layers() }

// InnerLayer returns the lowest populated pseudolayer.
func (c *Cluster) InnerLayer() (uint32, bool) {
	if len(c.ordered.layers) == 0 {
		return 0, false
	}
	return c.ordered.layers[0], true
}

// OuterLayer returns the highest populated pseudolayer.
func (c *Cluster) OuterLayer() (uint32, bool) {
	n := len(c.ordered.layers)
	if n == 0 {
		return 0, false
	}
	return c.ordered.layers[n-1], true
}

// Centroid returns the mean position of the primary hits at layer.
func (c *Cluster) Centroid(layer uint32) (geometry.Vector3, bool) {
	hits := c.ordered.hits[layer]
	positions := make([]geometry.Vector3, len(hits))
	for i, h := range hits {
		positions[i] = h.Position
	}
	return geometry.Centroid(positions)
}
