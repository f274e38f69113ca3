package algorithm

import (
	"fmt"

	"github.com/banshee-data/hitmerge/internal/config"
	"github.com/banshee-data/hitmerge/internal/reco"
)

// Pipeline is an ordered list of configured algorithms.
type Pipeline struct {
	algorithms []Algorithm
}

// NewPipeline instantiates and configures every algorithm listed in cfg.
func NewPipeline(reg *Registry, cfg *config.Config) (*Pipeline, error) {
	params := cfg.PointingParams()
	p := &Pipeline{algorithms: make([]Algorithm, 0, len(cfg.Algorithms))}
	for i, ac := range cfg.Algorithms {
		alg, err := reg.New(ac.Type, params)
		if err != nil {
			return nil, fmt.Errorf("algorithms[%d]: %w", i, err)
		}
		if err := alg.Configure(ac.Settings); err != nil {
			return nil, fmt.Errorf("algorithms[%d] (%s): %w", i, ac.Type, err)
		}
		p.algorithms = append(p.algorithms, alg)
	}
	return p, nil
}

// Algorithms returns the configured algorithms in run order.
func (p *Pipeline) Algorithms() []Algorithm {
	out := make([]Algorithm, len(p.algorithms))
	copy(out, p.algorithms)
	return out
}

// Run executes each algorithm in order and stops at the first failure.
// Changes made by earlier algorithms are not rolled back.
func (p *Pipeline) Run(repo reco.Repository) error {
	for _, alg := range p.algorithms {
		if err := alg.Run(repo); err != nil {
			return fmt.Errorf("%s: %w", alg.Name(), err)
		}
	}
	return nil
}
