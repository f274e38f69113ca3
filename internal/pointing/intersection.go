package pointing

import (
	"fmt"
	"math"

	"github.com/banshee-data/hitmerge/internal/geometry"
	"github.com/banshee-data/hitmerge/internal/reco"
)

// parallelEpsilon is the smallest 1-|cosθ| for which two lines are treated
// as intersecting.
const parallelEpsilon = 1.1920929e-07

// LineIntersection is the closest-approach estimate for two lines.
type LineIntersection struct {
	Position geometry.Vector3
	// Signed displacements from each line's origin to its closest point.
	FirstDisplacement  float64
	SecondDisplacement float64
}

// ClusterIntersection is the hit of a target cluster passed closest by a
// vertex ray.
type ClusterIntersection struct {
	Position     geometry.Vector3
	Longitudinal float64
	Transverse   float64
}

// IntersectLines finds the point midway between the closest points of the
// lines r = p1 + t1*d1 and r = p2 + t2*d2. Directions must be unit vectors.
func IntersectLines(p1, d1, p2, d2 geometry.Vector3) (LineIntersection, error) {
	cosTheta := geometry.Dot(d1, d2)
	if 1-math.Abs(cosTheta) < parallelEpsilon {
		return LineIntersection{}, fmt.Errorf("%w: lines are parallel (cos=%g)", reco.ErrDegenerateGeometry, cosTheta)
	}

	separation := geometry.Sub(p2, p1)
	denom := 1 - cosTheta*cosTheta

	t1 := geometry.Dot(geometry.Sub(d1, geometry.Scale(cosTheta, d2)), separation) / denom
	t2 := geometry.Dot(geometry.Sub(geometry.Scale(cosTheta, d1), d2), separation) / denom

	onFirst := geometry.Add(p1, geometry.Scale(t1, d1))
	onSecond := geometry.Add(p2, geometry.Scale(t2, d2))

	return LineIntersection{
		Position:           geometry.Scale(0.5, geometry.Add(onFirst, onSecond)),
		FirstDisplacement:  t1,
		SecondDisplacement: t2,
	}, nil
}

// IntersectVertices intersects the rays of two vertices from different
// clusters.
func IntersectVertices(first, second reco.Vertex) (LineIntersection, error) {
	if first.Cluster == second.Cluster {
		return LineIntersection{}, fmt.Errorf("%w: vertices share a cluster", reco.ErrDegenerateGeometry)
	}
	return IntersectLines(first.Position, first.Direction, second.Position, second.Direction)
}

// IntersectVertexWithCluster returns the hit of target with the smallest
// transverse distance from the vertex ray. Hits are scanned in layer order
// and the first of equally good hits wins.
func IntersectVertexWithCluster(vertex reco.Vertex, target *reco.Cluster) (ClusterIntersection, error) {
	best := ClusterIntersection{
		Longitudinal: -math.MaxFloat64,
		Transverse:   math.MaxFloat64,
	}
	found := false

	for _, hit := range target.OrderedHits().Hits() {
		rL, rT := geometry.ImpactParameters(vertex.Position, vertex.Direction, hit.Position)
		if !found || rT < best.Transverse {
			best = ClusterIntersection{Position: hit.Position, Longitudinal: rL, Transverse: rT}
			found = true
		}
	}

	if !found {
		return ClusterIntersection{}, fmt.Errorf("%w: cluster %s has no hits", reco.ErrNotFound, target.ID)
	}
	return best, nil
}
