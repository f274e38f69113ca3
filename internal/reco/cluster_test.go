package reco

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/hitmerge/internal/geometry"
)

func hitAt(id uint64, layer uint32, x, y, z, energy float64) *Hit {
	return &Hit{
		ID:                id,
		Position:          geometry.NewVector3(x, y, z),
		HadronicEnergy:    energy,
		ExpectedDirection: geometry.NewVector3(0, 0, 1),
		PseudoLayer:       layer,
	}
}

func TestOrderedHitList_LayerOrder(t *testing.T) {
	hits := []*Hit{
		hitAt(1, 5, 0, 0, 5, 1),
		hitAt(2, 1, 0, 0, 1, 1),
		hitAt(3, 3, 0, 0, 3, 1),
		hitAt(4, 1, 1, 0, 1, 1),
	}
	l := NewOrderedHitList(hits)

	layers := l.Layers()
	want := []uint32{1, 3, 5}
	if len(layers) != len(want) {
		t.Fatalf("expected %d layers, got %d", len(want), len(layers))
	}
	for i := range want {
		if layers[i] != want[i] {
			t.Errorf("layer[%d] = %d, want %d", i, layers[i], want[i])
		}
	}
	if l.Len() != 4 {
		t.Errorf("expected 4 hits, got %d", l.Len())
	}

	flat := l.Hits()
	ids := []uint64{2, 4, 3, 1}
	for i, id := range ids {
		if flat[i].ID != id {
			t.Errorf("flat[%d].ID = %d, want %d", i, flat[i].ID, id)
		}
	}
}

func TestCluster_DerivedQuantities(t *testing.T) {
	c := NewCluster("c1", []*Hit{
		hitAt(1, 0, 0, 0, 0, 1.5),
		hitAt(2, 0, 2, 0, 0, 0.5),
		hitAt(3, 4, 0, 0, 4, 2),
	}, geometry.NewVector3(0, 0, 1))

	if c.NHits() != 3 {
		t.Errorf("expected 3 hits, got %d", c.NHits())
	}
	if math.Abs(c.HadronicEnergy()-4) > 1e-12 {
		t.Errorf("expected energy 4, got %v", c.HadronicEnergy())
	}

	centroid, ok := c.Centroid(0)
	if !ok || centroid != geometry.NewVector3(1, 0, 0) {
		t.Errorf("expected layer 0 centroid (1,0,0), got %v (ok=%v)", centroid, ok)
	}
	if _, ok := c.Centroid(2); ok {
		t.Error("expected no centroid for empty layer")
	}

	inner, _ := c.InnerLayer()
	outer, _ := c.OuterLayer()
	if inner != 0 || outer != 4 {
		t.Errorf("expected layers 0..4, got %d..%d", inner, outer)
	}

	// Isolated hits add energy but leave the layer structure alone.
	c.AddIsolatedHit(hitAt(9, 2, 0, 0, 2, 3))
	if c.NHits() != 3 || c.NIsolatedHits() != 1 {
		t.Errorf("expected 3 primary + 1 isolated, got %d + %d", c.NHits(), c.NIsolatedHits())
	}
	if math.Abs(c.HadronicEnergy()-7) > 1e-12 {
		t.Errorf("expected energy 7, got %v", c.HadronicEnergy())
	}
	if len(c.Layers()) != 2 {
		t.Errorf("expected 2 layers, got %d", len(c.Layers()))
	}
}

func TestCluster_Empty(t *testing.T) {
	c := NewCluster("empty", nil, geometry.NewVector3(1, 0, 0))
	if _, ok := c.InnerLayer(); ok {
		t.Error("expected no inner layer")
	}
	if _, ok := c.OuterLayer(); ok {
		t.Error("expected no outer layer")
	}
	if c.HadronicEnergy() != 0 {
		t.Errorf("expected zero energy, got %v", c.HadronicEnergy())
	}
}

func TestNewVertex_NormalisesDirection(t *testing.T) {
	v, err := NewVertex(nil, geometry.Vector3{}, geometry.NewVector3(0, 3, 4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(geometry.Magnitude(v.Direction)-1) > 1e-12 {
		t.Errorf("expected unit direction, got %v", v.Direction)
	}

	_, err = NewVertex(nil, geometry.Vector3{}, geometry.Vector3{})
	if !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("expected ErrDegenerateGeometry, got %v", err)
	}
}

func TestNewPointingCluster(t *testing.T) {
	c := NewCluster("track", []*Hit{
		hitAt(1, 0, 0, 0, 0, 1),
		hitAt(2, 1, 0, 0, 1, 1),
		hitAt(3, 2, 0, 0, 2, 1),
	}, geometry.NewVector3(0, 0, 1))

	pc, err := NewPointingCluster(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.Inner.Position != geometry.NewVector3(0, 0, 0) {
		t.Errorf("inner position = %v", pc.Inner.Position)
	}
	if pc.Outer.Position != geometry.NewVector3(0, 0, 2) {
		t.Errorf("outer position = %v", pc.Outer.Position)
	}
	if pc.Inner.Direction != geometry.NewVector3(0, 0, 1) {
		t.Errorf("inner direction = %v", pc.Inner.Direction)
	}
	if pc.Outer.Direction != geometry.NewVector3(0, 0, -1) {
		t.Errorf("outer direction = %v", pc.Outer.Direction)
	}
	if pc.Inner.Cluster != c || pc.Outer.Cluster != c {
		t.Error("vertices should reference their cluster")
	}
}

func TestNewPointingCluster_Degenerate(t *testing.T) {
	single := NewCluster("single", []*Hit{hitAt(1, 3, 0, 0, 0, 1)}, geometry.NewVector3(0, 0, 1))
	if _, err := NewPointingCluster(single); !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("expected ErrDegenerateGeometry, got %v", err)
	}

	empty := NewCluster("empty", nil, geometry.NewVector3(0, 0, 1))
	if _, err := NewPointingCluster(empty); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
