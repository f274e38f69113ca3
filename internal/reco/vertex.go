package reco

import (
	"fmt"

	"github.com/banshee-data/hitmerge/internal/geometry"
)

// Vertex is one end of a pointing cluster: a position and a unit direction
// anchored to the cluster it was derived from.
type Vertex struct {
	Position  geometry.Vector3
	Direction geometry.Vector3 // unit
	Cluster   *Cluster
}

// NewVertex builds a vertex, normalising direction.
func NewVertex(cluster *Cluster, position, direction geometry.Vector3) (Vertex, error) {
	unit, err := geometry.UnitVector(direction)
	if err != nil {
		return Vertex{}, fmt.Errorf("%w: vertex direction: %w", ErrDegenerateGeometry, err)
	}
	return Vertex{Position: position, Direction: unit, Cluster: cluster}, nil
}

// PointingCluster pairs the two ends of a cluster. The inner vertex sits at
// the lowest pseudolayer and points into the cluster; the outer vertex sits
// at the highest pseudolayer and points back.
type PointingCluster struct {
	Cluster *Cluster
	Inner   Vertex
	Outer   Vertex
}

// NewPointingCluster derives inner and outer vertices from the centroids of
// the first and last populated layers.
func NewPointingCluster(cluster *Cluster) (PointingCluster, error) {
	innerLayer, ok := cluster.InnerLayer()
	if !ok {
		return PointingCluster{}, fmt.Errorf("%w: cluster %s has no hits", ErrNotFound, cluster.ID)
	}
	outerLayer, _ := cluster.OuterLayer()
	if innerLayer == outerLayer {
		return PointingCluster{}, fmt.Errorf("%w: cluster %s spans a single layer", ErrDegenerateGeometry, cluster.ID)
	}

	innerPos, _ := cluster.Centroid(innerLayer)
	outerPos, _ := cluster.Centroid(outerLayer)
	axis := geometry.Sub(outerPos, innerPos)

	inner, err := NewVertex(cluster, innerPos, axis)
	if err != nil {
		return PointingCluster{}, err
	}
	outer, err := NewVertex(cluster, outerPos, geometry.Scale(-1, axis))
	if err != nil {
		return PointingCluster{}, err
	}
	return PointingCluster{Cluster: cluster, Inner: inner, Outer: outer}, nil
}
