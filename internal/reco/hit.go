package reco

import "github.com/banshee-data/hitmerge/internal/geometry"

// Hit is a single detector energy deposit.
type Hit struct {
	ID                uint64
	Position          geometry.Vector3
	HadronicEnergy    float64
	ExpectedDirection geometry.Vector3 // unit
	PseudoLayer       uint32
}
