// Package pointing answers geometric questions about pointing cluster
// vertices: whether two vertices share an origin, whether a point lies on a
// vertex's pointing cone, where two rays meet and which hit of a cluster a
// vertex ray passes closest to.
package pointing

import (
	"fmt"

	"github.com/banshee-data/hitmerge/internal/config"
	"github.com/banshee-data/hitmerge/internal/geometry"
	"github.com/banshee-data/hitmerge/internal/reco"
)

// minEnergy is the smallest cluster energy accepted as a direction weight
// (single-precision machine epsilon).
const minEnergy = 1.1920929e-07

// Evaluator applies the configured pointing thresholds. It holds a copy of
// the parameters and is safe for concurrent use.
type Evaluator struct {
	params                 config.PointingParams
	maxNodeRadiusSquared   float64
	maxTransverseSquared   float64
	angularAllowanceSquare float64
}

// NewEvaluator returns an Evaluator for params.
func NewEvaluator(params config.PointingParams) *Evaluator {
	return &Evaluator{
		params:                 params,
		maxNodeRadiusSquared:   params.MaxNodeRadius * params.MaxNodeRadius,
		maxTransverseSquared:   params.MaxPointingTransverseDistance * params.MaxPointingTransverseDistance,
		angularAllowanceSquare: params.PointingAngularAllowance * params.PointingAngularAllowance,
	}
}

// Params returns the thresholds the evaluator was built with.
func (e *Evaluator) Params() config.PointingParams { return e.params }

// IsNode reports whether p and q are close enough to share an origin.
func (e *Evaluator) IsNode(p, q geometry.Vector3) bool {
	return geometry.MagnitudeSquared(geometry.Sub(p, q)) < e.maxNodeRadiusSquared
}

// IsPointing reports whether testPoint lies inside the pointing cone of
// vertex. The cone extends from MinPointingLongitudinalDistance to
// MaxPointingLongitudinalDistance along the vertex direction (both
// inclusive) and its radius grows from MaxPointingTransverseDistance by
// PointingAngularAllowance per unit of longitudinal distance.
func (e *Evaluator) IsPointing(testPoint geometry.Vector3, vertex reco.Vertex) bool {
	displacement := geometry.Sub(vertex.Position, testPoint)

	longitudinal := geometry.Dot(vertex.Direction, displacement)
	if longitudinal < e.params.MinPointingLongitudinalDistance || longitudinal > e.params.MaxPointingLongitudinalDistance {
		return false
	}

	maxTransverseSquared := e.maxTransverseSquared + e.angularAllowanceSquare*longitudinal*longitudinal
	transverseSquared := geometry.MagnitudeSquared(geometry.Cross(vertex.Direction, displacement))

	return transverseSquared <= maxTransverseSquared
}

// IsEmission reports whether daughterPoint lies on the cone of parentVertex.
func (e *Evaluator) IsEmission(parentVertex reco.Vertex, daughterPoint geometry.Vector3) bool {
	return e.IsPointing(daughterPoint, parentVertex)
}

// IsEmitted reports whether parentPoint lies on the cone traced back from
// daughterVertex.
func (e *Evaluator) IsEmitted(parentPoint geometry.Vector3, daughterVertex reco.Vertex) bool {
	return e.IsPointing(parentPoint, daughterVertex)
}

// AverageDirection blends the directions of two vertices from different
// clusters, weighting each by its cluster's hadronic energy.
// Higher energy clusters carry more of the result.
func (e *Evaluator) AverageDirection(first, second reco.Vertex) (geometry.Vector3, error) {
	if first.Cluster == second.Cluster {
		return geometry.Vector3{}, fmt.Errorf("%w: vertices share a cluster", reco.ErrDegenerateGeometry)
	}
	if first.Cluster == nil || second.Cluster == nil {
		return geometry.Vector3{}, fmt.Errorf("%w: vertex has no cluster", reco.ErrDegenerateGeometry)
	}

	e1 := first.Cluster.HadronicEnergy()
	e2 := second.Cluster.HadronicEnergy()
	if e1 < minEnergy || e2 < minEnergy {
		return geometry.Vector3{}, fmt.Errorf("%w: negligible cluster energy (%g, %g)", reco.ErrDegenerateGeometry, e1, e2)
	}

	sum := geometry.Add(geometry.Scale(e1, first.Direction), geometry.Scale(e2, second.Direction))
	avg, err := geometry.UnitVector(sum)
	if err != nil {
		return geometry.Vector3{}, fmt.Errorf("%w: weighted directions cancel: %w", reco.ErrDegenerateGeometry, err)
	}
	return avg, nil
}
