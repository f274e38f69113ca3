// Package algorithm defines the contract every reconstruction algorithm
// implements and the explicit registry the driver builds at start-up.
package algorithm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/hitmerge/internal/config"
	"github.com/banshee-data/hitmerge/internal/reco"
)

// ErrUnknownAlgorithm is returned for a type name with no registered factory.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Algorithm is one configured processing step run against an event.
type Algorithm interface {
	// Name returns the registered type name.
	Name() string

	// Configure decodes the algorithm's settings. Missing optional settings
	// keep their defaults; malformed ones return an error wrapping
	// config.ErrConfiguration.
	Configure(settings json.RawMessage) error

	// Run executes the algorithm against repo.
	Run(repo reco.Repository) error
}

// Factory builds an unconfigured algorithm. Every algorithm receives the
// same resolved pointing thresholds.
type Factory func(pointing config.PointingParams) Algorithm

// Registry maps algorithm type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Names must be unique.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" || f == nil {
		return fmt.Errorf("invalid registration for %q", name)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("algorithm %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New builds an unconfigured algorithm of the named type.
func (r *Registry) New(name string, pointing config.PointingParams) (Algorithm, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return f(pointing), nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
