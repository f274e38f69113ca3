package reco

import "errors"

var (
	// ErrDegenerateGeometry marks inputs for which a geometric quantity is
	// undefined: parallel lines, a vertex compared with its own cluster, or
	// a direction average with a negligible energy weight.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrNotFound is returned when a lookup yields no candidate.
	ErrNotFound = errors.New("not found")

	// ErrMissingCollection is returned by a Repository when a named cluster
	// list has not been created.
	ErrMissingCollection = errors.New("missing cluster list")
)
