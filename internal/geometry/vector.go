// Package geometry provides the 3D vector primitives used by the pointing
// and merging code. Vectors are gonum r3 values; the helpers here add the
// few derived quantities the reconstruction needs (unit vectors that refuse
// to normalise zero, opening angles and impact parameters).
package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vector3 is an immutable 3-component Cartesian vector.
type Vector3 = r3.Vec

// ErrZeroVector is returned when a direction is requested from a vector
// with zero magnitude.
var ErrZeroVector = errors.New("zero magnitude vector")

// NewVector3 builds a Vector3 from its components.
func NewVector3(x, y, z float64) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

// Add returns p+q.
func Add(p, q Vector3) Vector3 { return r3.Add(p, q) }

// Sub returns p-q.
func Sub(p, q Vector3) Vector3 { return r3.Sub(p, q) }

// Scale returns f*p.
func Scale(f float64, p Vector3) Vector3 { return r3.Scale(f, p) }

// Dot returns the dot product p·q.
func Dot(p, q Vector3) float64 { return r3.Dot(p, q) }

// Cross returns the cross product p×q.
func Cross(p, q Vector3) Vector3 { return r3.Cross(p, q) }

// MagnitudeSquared returns |p|².
func MagnitudeSquared(p Vector3) float64 { return r3.Norm2(p) }

// Magnitude returns |p|.
func Magnitude(p Vector3) float64 { return r3.Norm(p) }

// UnitVector returns p scaled to unit length.
func UnitVector(p Vector3) (Vector3, error) {
	mag := r3.Norm(p)
	if mag == 0 || math.IsNaN(mag) || math.IsInf(mag, 0) {
		return Vector3{}, ErrZeroVector
	}
	return r3.Scale(1/mag, p), nil
}

// CosOpeningAngle returns the cosine of the angle between p and q.
// A zero-length argument has no defined direction and yields 0.
func CosOpeningAngle(p, q Vector3) float64 {
	magP, magQ := r3.Norm(p), r3.Norm(q)
	if magP == 0 || magQ == 0 {
		return 0
	}
	cos := r3.Dot(p, q) / (magP * magQ)
	// Clamp rounding noise for (anti)parallel vectors.
	return math.Max(-1, math.Min(1, cos))
}

// ImpactParameters returns the longitudinal and transverse displacement of
// point relative to the ray starting at origin with unit direction.
func ImpactParameters(origin, direction, point Vector3) (longitudinal, transverse float64) {
	displacement := r3.Sub(point, origin)
	longitudinal = r3.Dot(direction, displacement)
	transverse = r3.Norm(r3.Cross(direction, displacement))
	return longitudinal, transverse
}

// Centroid returns the mean of points. The second result is false when
// points is empty.
func Centroid(points []Vector3) (Vector3, bool) {
	if len(points) == 0 {
		return Vector3{}, false
	}
	var sum Vector3
	for _, p := range points {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(points)), sum), true
}
