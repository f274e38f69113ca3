package eventstore

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/banshee-data/hitmerge/internal/geometry"
	"github.com/banshee-data/hitmerge/internal/reco"
)

// Document is the JSON form of an event: its hits and named cluster lists.
type Document struct {
	Hits  []HitDocument  `json:"hits"`
	Lists []ListDocument `json:"lists"`
}

// HitDocument is one calorimeter hit.
type HitDocument struct {
	ID                uint64     `json:"id"`
	Position          [3]float64 `json:"position"`
	HadronicEnergy    float64    `json:"hadronic_energy"`
	ExpectedDirection [3]float64 `json:"expected_direction"`
	PseudoLayer       uint32     `json:"pseudo_layer"`
}

// ListDocument is a named, ordered cluster list.
type ListDocument struct {
	Name     string            `json:"name"`
	Clusters []ClusterDocument `json:"clusters"`
}

// ClusterDocument references its hits by ID. An empty ID is replaced by a
// generated one on load.
type ClusterDocument struct {
	ID               string     `json:"id,omitempty"`
	InitialDirection [3]float64 `json:"initial_direction"`
	Hits             []uint64   `json:"hits"`
	IsolatedHits     []uint64   `json:"isolated_hits,omitempty"`
}

func toArray(v geometry.Vector3) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func fromArray(a [3]float64) geometry.Vector3 { return geometry.NewVector3(a[0], a[1], a[2]) }

// Document snapshots the store.
func (s *Store) Document() Document {
	var doc Document
	for _, h := range s.Hits() {
		doc.Hits = append(doc.Hits, HitDocument{
			ID:                h.ID,
			Position:          toArray(h.Position),
			HadronicEnergy:    h.HadronicEnergy,
			ExpectedDirection: toArray(h.ExpectedDirection),
			PseudoLayer:       h.PseudoLayer,
		})
	}
	for _, name := range s.ListNames() {
		clusters, _ := s.ClusterList(name)
		list := ListDocument{Name: name, Clusters: make([]ClusterDocument, 0, len(clusters))}
		for _, c := range clusters {
			cd := ClusterDocument{
				ID:               c.ID,
				InitialDirection: toArray(c.InitialDirection),
				Hits:             hitIDs(c.OrderedHits().Hits()),
				IsolatedHits:     hitIDs(c.IsolatedHits()),
			}
			list.Clusters = append(list.Clusters, cd)
		}
		doc.Lists = append(doc.Lists, list)
	}
	return doc
}

func hitIDs(hits []*reco.Hit) []uint64 {
	if len(hits) == 0 {
		return nil
	}
	ids := make([]uint64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

// FromDocument builds a store from doc. Every referenced hit must exist and
// belong to at most one cluster.
func FromDocument(doc Document) (*Store, error) {
	s := NewStore()
	for _, hd := range doc.Hits {
		err := s.AddHit(&reco.Hit{
			ID:                hd.ID,
			Position:          fromArray(hd.Position),
			HadronicEnergy:    hd.HadronicEnergy,
			ExpectedDirection: fromArray(hd.ExpectedDirection),
			PseudoLayer:       hd.PseudoLayer,
		})
		if err != nil {
			return nil, err
		}
	}

	for _, ld := range doc.Lists {
		if ld.Name == "" {
			return nil, fmt.Errorf("cluster list with empty name")
		}
		s.CreateList(ld.Name)
		for i, cd := range ld.Clusters {
			hits, err := s.lookup(cd.Hits)
			if err != nil {
				return nil, fmt.Errorf("list %q cluster %d: %w", ld.Name, i, err)
			}
			isolated, err := s.lookup(cd.IsolatedHits)
			if err != nil {
				return nil, fmt.Errorf("list %q cluster %d: %w", ld.Name, i, err)
			}
			id := cd.ID
			if id == "" {
				id = uuid.NewString()
			}
			if _, err := s.RestoreCluster(ld.Name, id, hits, isolated, fromArray(cd.InitialDirection)); err != nil {
				return nil, fmt.Errorf("list %q cluster %d: %w", ld.Name, i, err)
			}
		}
	}
	return s, nil
}

func (s *Store) lookup(ids []uint64) ([]*reco.Hit, error) {
	hits := make([]*reco.Hit, 0, len(ids))
	for _, id := range ids {
		h, ok := s.Hit(id)
		if !ok {
			return nil, fmt.Errorf("%w: hit %d", reco.ErrNotFound, id)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// ReadDocument decodes a JSON event document into a new store.
func ReadDocument(r io.Reader) (*Store, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse event document: %w", err)
	}
	return FromDocument(doc)
}

// WriteDocument encodes the store as an indented JSON event document.
func WriteDocument(w io.Writer, s *Store) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.Document())
}
