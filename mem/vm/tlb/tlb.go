// Package tlb provides the translation lookaside buffer, a small cache of
// page number to frame number translations.
package tlb

import (
	"fmt"
	"strings"
)

// An Entry is a cached translation.
type Entry struct {
	VPN uint64 `json:"vpn"`
	PFN uint64 `json:"pfn"`
}

// A Policy decides which entry is evicted when a full TLB receives a new
// translation.
type Policy int

// Supported eviction policies.
const (
	// PolicyFIFO evicts the oldest inserted entry. Lookups and re-insertions
	// do not change the order.
	PolicyFIFO Policy = iota

	// PolicyLRU evicts the least recently used entry. Lookups and
	// re-insertions make an entry the most recently used.
	PolicyLRU
)

func (p Policy) String() string {
	switch p {
	case PolicyFIFO:
		return "fifo"
	case PolicyLRU:
		return "lru"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a policy name into a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fifo", "":
		return PolicyFIFO, nil
	case "lru":
		return PolicyLRU, nil
	default:
		return 0, fmt.Errorf("unknown TLB policy %q", name)
	}
}

// A TLB holds at most Capacity translations.
type TLB interface {
	// Lookup returns the frame cached for a page.
	Lookup(vpn uint64) (pfn uint64, found bool)

	// Insert caches a translation. If the page is new and the TLB is full,
	// one entry is evicted and returned.
	Insert(vpn, pfn uint64) (evicted Entry, didEvict bool)

	// Invalidate drops the translation of a page.
	Invalidate(vpn uint64) bool

	// Clear drops all the translations.
	Clear()

	Len() int
	Capacity() int
	Policy() Policy

	// Entries returns the cached translations, the next victim first.
	Entries() []Entry
}
