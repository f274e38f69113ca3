package pointing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/hitmerge/internal/algorithm"
	"github.com/banshee-data/hitmerge/internal/config"
	"github.com/banshee-data/hitmerge/internal/monitoring"
	"github.com/banshee-data/hitmerge/internal/reco"
)

// MonitorName is the registered algorithm type name of Monitor.
const MonitorName = "PointingClusterMonitoring"

// AssociationKind classifies how two cluster ends relate.
type AssociationKind int

const (
	// Node means the two vertices are close enough to share an origin.
	Node AssociationKind = iota
	// Emission means the second vertex lies on the cone of the first.
	Emission
)

func (k AssociationKind) String() string {
	switch k {
	case Node:
		return "node"
	case Emission:
		return "emission"
	default:
		return fmt.Sprintf("AssociationKind(%d)", int(k))
	}
}

// Association links a vertex of one cluster to a vertex of another.
type Association struct {
	Kind   AssociationKind
	First  reco.Vertex
	Second reco.Vertex
	// Meeting is the closest approach of the two vertex rays for nodes.
	// It is nil when the rays are parallel or for emissions.
	Meeting *LineIntersection
}

// Monitor is a read-only algorithm that reports pointing associations
// between the clusters of one list. It never modifies the repository.
type Monitor struct {
	ClusterListName string

	evaluator    *Evaluator
	associations []Association
}

// NewMonitor returns an unconfigured Monitor using params.
func NewMonitor(params config.PointingParams) *Monitor {
	return &Monitor{evaluator: NewEvaluator(params)}
}

// MonitorFactory adapts NewMonitor to algorithm.Factory.
func MonitorFactory(params config.PointingParams) algorithm.Algorithm {
	return NewMonitor(params)
}

// Name implements algorithm.Algorithm.
func (m *Monitor) Name() string { return MonitorName }

// Configure implements algorithm.Algorithm. ClusterListName is required.
func (m *Monitor) Configure(raw json.RawMessage) error {
	var s struct {
		ClusterListName string `json:"ClusterListName"`
	}
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("%w: %s settings: %w", config.ErrConfiguration, MonitorName, err)
		}
	}
	if s.ClusterListName == "" {
		return fmt.Errorf("%w: ClusterListName is required", config.ErrConfiguration)
	}
	m.ClusterListName = s.ClusterListName
	return nil
}

// Associations returns the associations found by the last Run.
func (m *Monitor) Associations() []Association {
	out := make([]Association, len(m.associations))
	copy(out, m.associations)
	return out
}

// Run implements algorithm.Algorithm. A missing list yields no
// associations.
func (m *Monitor) Run(repo reco.Repository) error {
	m.associations = nil

	clusters, err := repo.ClusterList(m.ClusterListName)
	if errors.Is(err, reco.ErrMissingCollection) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cluster list %q: %w", m.ClusterListName, err)
	}

	pointing := make([]reco.PointingCluster, 0, len(clusters))
	for _, c := range clusters {
		pc, err := reco.NewPointingCluster(c)
		if err != nil {
			monitoring.Tracef("%s: skipping cluster %s: %v", MonitorName, c.ID, err)
			continue
		}
		pointing = append(pointing, pc)
	}

	for i := range pointing {
		for j := i + 1; j < len(pointing); j++ {
			m.associate(pointing[i], pointing[j])
		}
	}

	nodes := 0
	for _, a := range m.associations {
		if a.Kind == Node {
			nodes++
		}
	}
	monitoring.Diagf("%s: list=%q clusters=%d nodes=%d emissions=%d",
		MonitorName, m.ClusterListName, len(pointing), nodes, len(m.associations)-nodes)
	return nil
}

// associate records at most one association per vertex pair of a and b.
func (m *Monitor) associate(a, b reco.PointingCluster) {
	for _, va := range []reco.Vertex{a.Inner, a.Outer} {
		for _, vb := range []reco.Vertex{b.Inner, b.Outer} {
			switch {
			case m.evaluator.IsNode(va.Position, vb.Position):
				assoc := Association{Kind: Node, First: va, Second: vb}
				if meeting, err := IntersectVertices(va, vb); err == nil {
					assoc.Meeting = &meeting
				}
				m.associations = append(m.associations, assoc)
			case m.evaluator.IsEmission(va, vb.Position):
				m.associations = append(m.associations, Association{Kind: Emission, First: va, Second: vb})
			case m.evaluator.IsEmission(vb, va.Position):
				m.associations = append(m.associations, Association{Kind: Emission, First: vb, Second: va})
			}
		}
	}
}
