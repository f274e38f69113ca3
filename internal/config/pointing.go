package config

import "fmt"

// Default pointing thresholds. Distances are in detector length units.
const (
	DefaultMaxNodeRadius                   = 2.5
	DefaultMaxPointingLongitudinalDistance = 20.0
	DefaultMinPointingLongitudinalDistance = -2.5
	DefaultMaxPointingTransverseDistance   = 2.5
	DefaultPointingAngularAllowance        = 0.0175 // tan(1 degree)
)

// PointingConfig is the JSON form of the pointing thresholds. Omitted fields
// fall back to the defaults above.
type PointingConfig struct {
	MaxNodeRadius                   *float64 `json:"MaxNodeRadius,omitempty"`
	MaxPointingLongitudinalDistance *float64 `json:"MaxPointingLongitudinalDistance,omitempty"`
	MinPointingLongitudinalDistance *float64 `json:"MinPointingLongitudinalDistance,omitempty"`
	MaxPointingTransverseDistance   *float64 `json:"MaxPointingTransverseDistance,omitempty"`
	PointingAngularAllowance        *float64 `json:"PointingAngularAllowance,omitempty"`
}

// PointingParams is the resolved, immutable set of pointing thresholds
// handed to evaluators.
type PointingParams struct {
	MaxNodeRadius                   float64
	MaxPointingLongitudinalDistance float64
	MinPointingLongitudinalDistance float64
	MaxPointingTransverseDistance   float64
	PointingAngularAllowance        float64
}

// DefaultPointingParams returns the nominal thresholds.
func DefaultPointingParams() PointingParams {
	return PointingParams{
		MaxNodeRadius:                   DefaultMaxNodeRadius,
		MaxPointingLongitudinalDistance: DefaultMaxPointingLongitudinalDistance,
		MinPointingLongitudinalDistance: DefaultMinPointingLongitudinalDistance,
		MaxPointingTransverseDistance:   DefaultMaxPointingTransverseDistance,
		PointingAngularAllowance:        DefaultPointingAngularAllowance,
	}
}

// GetMaxNodeRadius returns the MaxNodeRadius value or the default.
func (c *PointingConfig) GetMaxNodeRadius() float64 {
	if c == nil || c.MaxNodeRadius == nil {
		return DefaultMaxNodeRadius
	}
	return *c.MaxNodeRadius
}

// GetMaxPointingLongitudinalDistance returns the MaxPointingLongitudinalDistance value or the default.
func (c *PointingConfig) GetMaxPointingLongitudinalDistance() float64 {
	if c == nil || c.MaxPointingLongitudinalDistance == nil {
		return DefaultMaxPointingLongitudinalDistance
	}
	return *c.MaxPointingLongitudinalDistance
}

// GetMinPointingLongitudinalDistance returns the MinPointingLongitudinalDistance value or the default.
func (c *PointingConfig) GetMinPointingLongitudinalDistance() float64 {
	if c == nil || c.MinPointingLongitudinalDistance == nil {
		return DefaultMinPointingLongitudinalDistance
	}
	return *c.MinPointingLongitudinalDistance
}

// GetMaxPointingTransverseDistance returns the MaxPointingTransverseDistance value or the default.
func (c *PointingConfig) GetMaxPointingTransverseDistance() float64 {
	if c == nil || c.MaxPointingTransverseDistance == nil {
		return DefaultMaxPointingTransverseDistance
	}
	return *c.MaxPointingTransverseDistance
}

// GetPointingAngularAllowance returns the PointingAngularAllowance value or the default.
func (c *PointingConfig) GetPointingAngularAllowance() float64 {
	if c == nil || c.PointingAngularAllowance == nil {
		return DefaultPointingAngularAllowance
	}
	return *c.PointingAngularAllowance
}

// Params resolves the config against the defaults.
func (c *PointingConfig) Params() PointingParams {
	return PointingParams{
		MaxNodeRadius:                   c.GetMaxNodeRadius(),
		MaxPointingLongitudinalDistance: c.GetMaxPointingLongitudinalDistance(),
		MinPointingLongitudinalDistance: c.GetMinPointingLongitudinalDistance(),
		MaxPointingTransverseDistance:   c.GetMaxPointingTransverseDistance(),
		PointingAngularAllowance:        c.GetPointingAngularAllowance(),
	}
}

// Validate checks the resolved thresholds. Every scalar must be positive
// except MinPointingLongitudinalDistance, which may extend behind the
// vertex.
func (c *PointingConfig) Validate() error {
	return c.Params().Validate()
}

// Validate checks that the thresholds describe a usable pointing window.
func (p PointingParams) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"MaxNodeRadius", p.MaxNodeRadius},
		{"MaxPointingLongitudinalDistance", p.MaxPointingLongitudinalDistance},
		{"MaxPointingTransverseDistance", p.MaxPointingTransverseDistance},
		{"PointingAngularAllowance", p.PointingAngularAllowance},
	}
	for _, f := range positive {
		if !(f.value > 0) {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrConfiguration, f.name, f.value)
		}
	}
	if !(p.MinPointingLongitudinalDistance <= p.MaxPointingLongitudinalDistance) {
		return fmt.Errorf("%w: MinPointingLongitudinalDistance (%v) exceeds MaxPointingLongitudinalDistance (%v)",
			ErrConfiguration, p.MinPointingLongitudinalDistance, p.MaxPointingLongitudinalDistance)
	}
	return nil
}
