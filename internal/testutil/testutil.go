// Package testutil provides shared fixtures for reconstruction tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/hitmerge/internal/eventstore"
	"github.com/banshee-data/hitmerge/internal/geometry"
	"github.com/banshee-data/hitmerge/internal/reco"
)

// Vec is shorthand for geometry.NewVector3.
func Vec(x, y, z float64) geometry.Vector3 { return geometry.NewVector3(x, y, z) }

// Track registers one hit per position in s, on consecutive pseudolayers
// from firstLayer, and clusters them into list with a +z initial direction.
// Hit IDs count up from firstID and every hit carries energy.
func Track(t testing.TB, s *eventstore.Store, list string, firstID uint64, firstLayer uint32, energy float64, positions ...geometry.Vector3) *reco.Cluster {
	t.Helper()
	hits := make([]*reco.Hit, len(positions))
	for i, p := range positions {
		hits[i] = &reco.Hit{
			ID:                firstID + uint64(i),
			Position:          p,
			HadronicEnergy:    energy,
			ExpectedDirection: Vec(0, 0, 1),
			PseudoLayer:       firstLayer + uint32(i),
		}
		if err := s.AddHit(hits[i]); err != nil {
			t.Fatalf("AddHit(%d): %v", hits[i].ID, err)
		}
	}
	c, err := s.CreateCluster(list, hits, Vec(0, 0, 1))
	if err != nil {
		t.Fatalf("CreateCluster(%s): %v", list, err)
	}
	return c
}

// WriteFile writes content to name inside a fresh temp directory and
// returns the full path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
