// Package eventstore is the in-memory owner of one event's hits and named
// cluster lists. It implements reco.Repository for the merging algorithms
// and is the unit that eventdb loads and saves.
package eventstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/hitmerge/internal/geometry"
	"github.com/banshee-data/hitmerge/internal/reco"
)

var (
	// ErrHitUnavailable is returned when a hit is already owned by a cluster
	// or was never registered with the store.
	ErrHitUnavailable = errors.New("hit unavailable")

	// ErrUnknownCluster is returned when a cluster is not live in the store
	// or not a member of the named list.
	ErrUnknownCluster = errors.New("unknown cluster")
)

var _ reco.Repository = (*Store)(nil)

// Store owns hits and clusters for a single event.
type Store struct {
	mu sync.RWMutex

	hits      []*reco.Hit
	hitsByID  map[uint64]*reco.Hit
	available map[*reco.Hit]bool

	listNames []string // creation order
	lists     map[string][]*reco.Cluster
	owner     map[*reco.Cluster]string // live cluster -> list name
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		hitsByID:  make(map[uint64]*reco.Hit),
		available: make(map[*reco.Hit]bool),
		lists:     make(map[string][]*reco.Cluster),
		owner:     make(map[*reco.Cluster]string),
	}
}

// AddHit registers hit as available. Hit IDs must be unique.
func (s *Store) AddHit(hit *reco.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.hitsByID[hit.ID]; dup {
		return fmt.Errorf("duplicate hit id %d", hit.ID)
	}
	s.hits = append(s.hits, hit)
	s.hitsByID[hit.ID] = hit
	s.available[hit] = true
	return nil
}

// Hits returns every registered hit in registration order.
func (s *Store) Hits() []*reco.Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*reco.Hit, len(s.hits))
	copy(out, s.hits)
	return out
}

// Hit looks up a hit by ID.
func (s *Store) Hit(id uint64) (*reco.Hit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hitsByID[id]
	return h, ok
}

// CreateList creates an empty named list. Creating an existing list is a
// no-op.
func (s *Store) CreateList(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureList(name)
}

func (s *Store) ensureList(name string) {
	if _, ok := s.lists[name]; !ok {
		s.lists[name] = nil
		s.listNames = append(s.listNames, name)
	}
}

// ListNames returns the names of all lists in creation order.
func (s *Store) ListNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.listNames))
	copy(out, s.listNames)
	return out
}

// CreateCluster builds a cluster from available hits, appends it to the
// named list (creating the list if needed) and marks the hits as used.
func (s *Store) CreateCluster(listName string, hits []*reco.Hit, initialDirection geometry.Vector3) (*reco.Cluster, error) {
	return s.RestoreCluster(listName, uuid.NewString(), hits, nil, initialDirection)
}

// RestoreCluster is CreateCluster with an explicit ID and isolated hits,
// used when reloading a persisted event.
func (s *Store) RestoreCluster(listName, id string, hits, isolated []*reco.Hit, initialDirection geometry.Vector3) (*reco.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[*reco.Hit]bool, len(hits)+len(isolated))
	for _, group := range [][]*reco.Hit{hits, isolated} {
		for _, h := range group {
			if !s.available[h] || seen[h] {
				return nil, fmt.Errorf("%w: hit %d for cluster %s", ErrHitUnavailable, h.ID, id)
			}
			seen[h] = true
		}
	}

	c := reco.NewCluster(id, hits, initialDirection)
	for _, h := range isolated {
		c.AddIsolatedHit(h)
	}
	for h := range seen {
		s.available[h] = false
	}

	s.ensureList(listName)
	s.lists[listName] = append(s.lists[listName], c)
	s.owner[c] = listName
	return c, nil
}

// ClusterList implements reco.Repository. The returned slice is a copy.
func (s *Store) ClusterList(name string) ([]*reco.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.lists[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", reco.ErrMissingCollection, name)
	}
	out := make([]*reco.Cluster, len(list))
	copy(out, list)
	return out, nil
}

// IsHitAvailable implements reco.Repository.
func (s *Store) IsHitAvailable(hit *reco.Hit) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available[hit]
}

// DeleteClusters implements reco.Repository. Every cluster is checked
// before any is removed, so a failed call leaves the store unchanged.
func (s *Store) DeleteClusters(clusters []*reco.Cluster, listName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.lists[listName]
	if !ok {
		return fmt.Errorf("%w: %q", reco.ErrMissingCollection, listName)
	}

	doomed := make(map[*reco.Cluster]bool, len(clusters))
	for _, c := range clusters {
		if s.owner[c] != listName || doomed[c] {
			return fmt.Errorf("%w: %s in list %q", ErrUnknownCluster, clusterID(c), listName)
		}
		doomed[c] = true
	}
	if len(doomed) == 0 {
		return nil
	}

	kept := make([]*reco.Cluster, 0, len(list)-len(doomed))
	for _, c := range list {
		if !doomed[c] {
			kept = append(kept, c)
			continue
		}
		for _, h := range c.OrderedHits().Hits() {
			s.available[h] = true
		}
		for _, h := range c.IsolatedHits() {
			s.available[h] = true
		}
		delete(s.owner, c)
	}
	s.lists[listName] = kept
	return nil
}

// AddIsolatedHitToCluster implements reco.Repository.
func (s *Store) AddIsolatedHitToCluster(cluster *reco.Cluster, hit *reco.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, live := s.owner[cluster]; !live {
		return fmt.Errorf("%w: %s", ErrUnknownCluster, clusterID(cluster))
	}
	if !s.available[hit] {
		return fmt.Errorf("%w: hit %d", ErrHitUnavailable, hit.ID)
	}

	cluster.AddIsolatedHit(hit)
	s.available[hit] = false
	return nil
}

func clusterID(c *reco.Cluster) string {
	if c == nil {
		return "<nil>"
	}
	return c.ID
}
