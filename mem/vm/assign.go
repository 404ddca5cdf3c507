package vm

import (
	"fmt"
	"log"
	"math/rand"
	"time"
)

// DefaultPresentFraction is the share of pages that an assignment policy
// tries to make resident.
const DefaultPresentFraction = 0.75

// An Assigner fills an empty page table and the matching physical store when
// an address space is built.
type Assigner interface {
	Assign(cfg Config, pt PageTable, store PhysicalStore) error
}

// RandomAssigner makes each page resident with probability PresentFraction
// and gives it a frame drawn at random from the frames that are still free.
// The layout depends only on the Config and the Seed.
type RandomAssigner struct {
	Seed            int64
	PresentFraction float64
}

// NewUnseededRandomAssigner creates a RandomAssigner with a seed taken from
// the clock. The seed is logged so that the layout can be reproduced.
func NewUnseededRandomAssigner(presentFraction float64) RandomAssigner {
	seed := time.Now().UnixNano()
	log.Printf("page assignment seed: %d", seed)

	return RandomAssigner{
		Seed:            seed,
		PresentFraction: presentFraction,
	}
}

// Assign implements Assigner.
func (a RandomAssigner) Assign(
	cfg Config,
	pt PageTable,
	store PhysicalStore,
) error {
	err := checkFraction(a.PresentFraction)
	if err != nil {
		return err
	}

	r := rand.New(rand.NewSource(a.Seed))
	frames := newFrameShuffler(cfg.FrameCount)

	for vpn := uint64(0); vpn < cfg.PageCount; vpn++ {
		if frames.exhausted() {
			break
		}

		if r.Float64() >= a.PresentFraction {
			continue
		}

		pfn := frames.draw(r)

		err := mapAndLabel(pt, store, vpn, pfn)
		if err != nil {
			return err
		}
	}

	return nil
}

// IdentityAssigner maps page i to frame i for the leading pages of the
// address space.
type IdentityAssigner struct {
	PresentFraction float64
}

// Assign implements Assigner.
func (a IdentityAssigner) Assign(
	cfg Config,
	pt PageTable,
	store PhysicalStore,
) error {
	err := checkFraction(a.PresentFraction)
	if err != nil {
		return err
	}

	resident := uint64(float64(cfg.PageCount) * a.PresentFraction)
	if resident > cfg.FrameCount {
		resident = cfg.FrameCount
	}

	for vpn := uint64(0); vpn < resident; vpn++ {
		err := mapAndLabel(pt, store, vpn, vpn)
		if err != nil {
			return err
		}
	}

	return nil
}

func mapAndLabel(pt PageTable, store PhysicalStore, vpn, pfn uint64) error {
	err := pt.Map(vpn, pfn)
	if err != nil {
		return err
	}

	return store.Write(pfn, FrameLabel(pfn, vpn))
}

func checkFraction(f float64) error {
	if f < 0 || f > 1 {
		return fmt.Errorf("present fraction %g is not within [0, 1]", f)
	}

	return nil
}

// frameShuffler draws frames without replacement. It runs a Fisher-Yates
// shuffle lazily and only remembers the swapped slots.
type frameShuffler struct {
	n       uint64
	drawn   uint64
	swapped map[uint64]uint64
}

func newFrameShuffler(n uint64) *frameShuffler {
	return &frameShuffler{
		n:       n,
		swapped: make(map[uint64]uint64),
	}
}

func (s *frameShuffler) exhausted() bool {
	return s.drawn >= s.n
}

func (s *frameShuffler) slot(i uint64) uint64 {
	if v, found := s.swapped[i]; found {
		return v
	}

	return i
}

func (s *frameShuffler) draw(r *rand.Rand) uint64 {
	j := s.drawn + uint64(r.Int63n(int64(s.n-s.drawn)))

	picked := s.slot(j)
	s.swapped[j] = s.slot(s.drawn)
	delete(s.swapped, s.drawn)
	s.drawn++

	return picked
}
