package tlb

import "log"

// A Builder can build TLBs.
type Builder struct {
	capacity int
	policy   Policy
}

// MakeBuilder returns a Builder for a 16-entry FIFO TLB.
func MakeBuilder() Builder {
	return Builder{
		capacity: 16,
		policy:   PolicyFIFO,
	}
}

// WithCapacity sets the number of entries in the TLB.
func (b Builder) WithCapacity(n int) Builder {
	b.capacity = n
	return b
}

// WithPolicy sets the eviction policy.
func (b Builder) WithPolicy(p Policy) Builder {
	b.policy = p
	return b
}

// Build creates a new TLB.
func (b Builder) Build() TLB {
	if b.capacity < 1 {
		log.Panicf("TLB capacity must be at least 1, got %d", b.capacity)
	}

	switch b.policy {
	case PolicyFIFO:
		return newFIFOTLB(b.capacity)
	case PolicyLRU:
		return newLRUTLB(b.capacity)
	default:
		log.Panicf("unsupported TLB policy %s", b.policy)
	}

	return nil
}
