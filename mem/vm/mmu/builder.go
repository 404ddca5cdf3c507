package mmu

import (
	"github.com/sarchlab/mmusim/mem/vm"
	"github.com/sarchlab/mmusim/mem/vm/tlb"
)

// A Builder can build translation engines.
type Builder struct {
	cfg             *vm.Config
	policy          tlb.Policy
	assigner        vm.Assigner
	seed            int64
	presentFraction float64
	hooks           []Hook
}

// MakeBuilder creates a builder for an engine with the default vm.Config, a
// FIFO TLB and a random page assignment with seed 0.
func MakeBuilder() Builder {
	return Builder{
		policy:          tlb.PolicyFIFO,
		presentFraction: vm.DefaultPresentFraction,
	}
}

// WithConfig sets the shape of the address space.
func (b Builder) WithConfig(cfg vm.Config) Builder {
	b.cfg = &cfg
	return b
}

// WithTLBPolicy sets the eviction policy of the TLB. The policy is kept
// across rebuilds.
func (b Builder) WithTLBPolicy(p tlb.Policy) Builder {
	b.policy = p
	return b
}

// WithSeed sets the seed of the random page assignment.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithPresentFraction sets the share of pages that the random page
// assignment makes resident. It is also used by Rebuild.
func (b Builder) WithPresentFraction(f float64) Builder {
	b.presentFraction = f
	return b
}

// WithAssigner replaces the random page assignment used to build the first
// address space.
func (b Builder) WithAssigner(a vm.Assigner) Builder {
	b.assigner = a
	return b
}

// WithHook registers a hook before the first address space is built, so
// that the hook also observes the initial build.
func (b Builder) WithHook(h Hook) Builder {
	b.hooks = append(append([]Hook(nil), b.hooks...), h)
	return b
}

// Build creates a new engine and builds its first address space.
func (b Builder) Build(name string) (*Engine, error) {
	cfg, err := b.resolveConfig()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		name:            name,
		policy:          b.policy,
		presentFraction: b.presentFraction,
	}

	for _, h := range b.hooks {
		e.AcceptHook(h)
	}

	assigner := b.assigner
	if assigner == nil {
		assigner = vm.RandomAssigner{
			Seed:            b.seed,
			PresentFraction: b.presentFraction,
		}
	}

	err = e.RebuildWithAssigner(cfg, assigner)
	if err != nil {
		return nil, err
	}

	return e, nil
}

func (b Builder) resolveConfig() (vm.Config, error) {
	if b.cfg == nil {
		return vm.MakeConfigBuilder().Build()
	}

	return b.cfg.Validate()
}
