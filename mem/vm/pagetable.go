package vm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Errors reported when mapping pages.
var (
	ErrVPNOutOfRange = errors.New("virtual page number out of range")
	ErrPFNOutOfRange = errors.New("physical frame number out of range")
	ErrFrameInUse    = errors.New("frame is owned by another page")
)

// A PageTableEntry tells where a virtual page lives. A page that is not
// Present has no frame and translating it faults.
type PageTableEntry struct {
	VPN     uint64 `json:"vpn"`
	PFN     uint64 `json:"pfn"`
	Present bool   `json:"present"`
}

// A PageTable maps every virtual page of a single address space to either a
// physical frame or "not present". A frame is owned by at most one page.
type PageTable interface {
	// Lookup returns the frame of a page. It never fails.
	Lookup(vpn uint64) (pfn uint64, present bool)

	// Map makes a page resident in a frame. Mapping a page that is already
	// resident releases its previous frame.
	Map(vpn, pfn uint64) error

	// Unmap marks a page as not present and returns the frame it released.
	Unmap(vpn uint64) (pfn uint64, wasPresent bool)

	// OwnerOf returns the page that owns a frame.
	OwnerOf(pfn uint64) (vpn uint64, owned bool)

	NumPages() uint64
	NumResident() int

	// Entries returns the resident pages ordered by VPN.
	Entries() []PageTableEntry
}

// NewPageTable creates an empty PageTable with numPages pages backed by
// numFrames frames.
func NewPageTable(numPages, numFrames uint64) PageTable {
	return &pageTableImpl{
		numPages:  numPages,
		numFrames: numFrames,
		frames:    make(map[uint64]uint64),
		owners:    make(map[uint64]uint64),
	}
}

// pageTableImpl stores only the resident pages. A page that is missing from
// frames is not present.
type pageTableImpl struct {
	sync.Mutex
	numPages  uint64
	numFrames uint64
	frames    map[uint64]uint64
	owners    map[uint64]uint64
}

func (pt *pageTableImpl) Lookup(vpn uint64) (uint64, bool) {
	pt.Lock()
	defer pt.Unlock()

	pfn, found := pt.frames[vpn]

	return pfn, found
}

func (pt *pageTableImpl) Map(vpn, pfn uint64) error {
	pt.Lock()
	defer pt.Unlock()

	if vpn >= pt.numPages {
		return fmt.Errorf("%w: vpn 0x%x, %d pages",
			ErrVPNOutOfRange, vpn, pt.numPages)
	}

	if pfn >= pt.numFrames {
		return fmt.Errorf("%w: pfn 0x%x, %d frames",
			ErrPFNOutOfRange, pfn, pt.numFrames)
	}

	owner, owned := pt.owners[pfn]
	if owned && owner != vpn {
		return fmt.Errorf("%w: pfn 0x%x is owned by vpn 0x%x",
			ErrFrameInUse, pfn, owner)
	}

	if oldPFN, found := pt.frames[vpn]; found {
		delete(pt.owners, oldPFN)
	}

	pt.frames[vpn] = pfn
	pt.owners[pfn] = vpn

	return nil
}

func (pt *pageTableImpl) Unmap(vpn uint64) (uint64, bool) {
	pt.Lock()
	defer pt.Unlock()

	pfn, found := pt.frames[vpn]
	if !found {
		return 0, false
	}

	delete(pt.frames, vpn)
	delete(pt.owners, pfn)

	return pfn, true
}

func (pt *pageTableImpl) OwnerOf(pfn uint64) (uint64, bool) {
	pt.Lock()
	defer pt.Unlock()

	vpn, found := pt.owners[pfn]

	return vpn, found
}

func (pt *pageTableImpl) NumPages() uint64 {
	return pt.numPages
}

func (pt *pageTableImpl) NumResident() int {
	pt.Lock()
	defer pt.Unlock()

	return len(pt.frames)
}

func (pt *pageTableImpl) Entries() []PageTableEntry {
	pt.Lock()
	defer pt.Unlock()

	entries := make([]PageTableEntry, 0, len(pt.frames))
	for vpn, pfn := range pt.frames {
		entries = append(entries, PageTableEntry{
			VPN:     vpn,
			PFN:     pfn,
			Present: true,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].VPN < entries[j].VPN
	})

	return entries
}
