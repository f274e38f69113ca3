package geometry

import (
	"errors"
	"math"
	"testing"
)

const tol = 1e-12

func TestUnitVector(t *testing.T) {
	u, err := UnitVector(NewVector3(3, 0, 4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(u.X-0.6) > tol || math.Abs(u.Y) > tol || math.Abs(u.Z-0.8) > tol {
		t.Errorf("expected (0.6, 0, 0.8), got %v", u)
	}
	if math.Abs(Magnitude(u)-1) > tol {
		t.Errorf("expected unit magnitude, got %v", Magnitude(u))
	}
}

func TestUnitVector_Zero(t *testing.T) {
	_, err := UnitVector(Vector3{})
	if !errors.Is(err, ErrZeroVector) {
		t.Errorf("expected ErrZeroVector, got %v", err)
	}
}

func TestCrossAndDot(t *testing.T) {
	x := NewVector3(1, 0, 0)
	y := NewVector3(0, 1, 0)

	z := Cross(x, y)
	if z != NewVector3(0, 0, 1) {
		t.Errorf("expected x×y = z, got %v", z)
	}
	if Dot(x, y) != 0 {
		t.Errorf("expected orthogonal dot product 0, got %v", Dot(x, y))
	}
	if MagnitudeSquared(NewVector3(1, 2, 2)) != 9 {
		t.Errorf("expected |(1,2,2)|² = 9, got %v", MagnitudeSquared(NewVector3(1, 2, 2)))
	}
}

func TestCosOpeningAngle(t *testing.T) {
	tests := []struct {
		name string
		p, q Vector3
		want float64
	}{
		{"parallel", NewVector3(2, 0, 0), NewVector3(5, 0, 0), 1},
		{"antiparallel", NewVector3(1, 1, 0), NewVector3(-3, -3, 0), -1},
		{"orthogonal", NewVector3(0, 0, 1), NewVector3(0, 7, 0), 0},
		{"zero length", Vector3{}, NewVector3(1, 0, 0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosOpeningAngle(tt.p, tt.q)
			if math.Abs(got-tt.want) > tol {
				t.Errorf("CosOpeningAngle(%v, %v) = %v, want %v", tt.p, tt.q, got, tt.want)
			}
		})
	}
}

func TestImpactParameters(t *testing.T) {
	origin := NewVector3(1, 1, 1)
	dir := NewVector3(0, 0, 1)

	l, tr := ImpactParameters(origin, dir, NewVector3(4, 5, 11))
	if math.Abs(l-10) > tol {
		t.Errorf("expected longitudinal 10, got %v", l)
	}
	if math.Abs(tr-5) > tol {
		t.Errorf("expected transverse 5, got %v", tr)
	}

	// Behind the origin the longitudinal term goes negative.
	l, _ = ImpactParameters(origin, dir, NewVector3(1, 1, -2))
	if math.Abs(l+3) > tol {
		t.Errorf("expected longitudinal -3, got %v", l)
	}
}

func TestCentroid(t *testing.T) {
	if _, ok := Centroid(nil); ok {
		t.Error("expected no centroid for empty input")
	}
	c, ok := Centroid([]Vector3{NewVector3(0, 0, 0), NewVector3(2, 4, 6)})
	if !ok {
		t.Fatal("expected centroid")
	}
	if c != NewVector3(1, 2, 3) {
		t.Errorf("expected (1,2,3), got %v", c)
	}
}
