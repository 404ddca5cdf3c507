package mmu

import (
	"fmt"

	"github.com/sarchlab/mmusim/mem/vm/tlb"
)

// A State is a step of the translation of one address.
type State int

// The states that a translation goes through. StateResolved and
// StatePageFault are terminal.
const (
	StateStart State = iota
	StateTLBLookup
	StatePageTableLookup
	StateResolved
	StatePageFault
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateTLBLookup:
		return "tlb-lookup"
	case StatePageTableLookup:
		return "page-table-lookup"
	case StateResolved:
		return "resolved"
	case StatePageFault:
		return "page-fault"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText makes states readable in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal tells if a translation ends in the state.
func (s State) IsTerminal() bool {
	return s == StateResolved || s == StatePageFault
}

// A Result is the outcome of translating one virtual address. PFN and PAddr
// are only meaningful if PageFault is false.
type Result struct {
	VAddr     uint64     `json:"vaddr"`
	VPN       uint64     `json:"vpn"`
	Offset    uint64     `json:"offset"`
	PFN       uint64     `json:"pfn"`
	PAddr     uint64     `json:"paddr"`
	TLBHit    bool       `json:"tlb_hit"`
	PageFault bool       `json:"page_fault"`
	State     State      `json:"state"`
	Steps     []State    `json:"steps"`
	Evicted   *tlb.Entry `json:"evicted,omitempty"`
}

// PhysicalAddress returns the translated address, if there is one.
func (r Result) PhysicalAddress() (uint64, bool) {
	if r.PageFault || r.State != StateResolved {
		return 0, false
	}

	return r.PAddr, true
}

func (r Result) String() string {
	switch {
	case r.PageFault:
		return fmt.Sprintf("0x%x -> page fault (vpn 0x%x)", r.VAddr, r.VPN)
	case r.TLBHit:
		return fmt.Sprintf("0x%x -> 0x%x (tlb hit, vpn 0x%x, pfn 0x%x)",
			r.VAddr, r.PAddr, r.VPN, r.PFN)
	default:
		return fmt.Sprintf("0x%x -> 0x%x (tlb miss, vpn 0x%x, pfn 0x%x)",
			r.VAddr, r.PAddr, r.VPN, r.PFN)
	}
}

func (r *Result) moveTo(s State) {
	r.State = s
	r.Steps = append(r.Steps, s)
}
