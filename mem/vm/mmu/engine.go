// Package mmu provides the translation engine, which translates virtual
// addresses through a TLB backed by a page table.
package mmu

import (
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/mmusim/mem/vm"
	"github.com/sarchlab/mmusim/mem/vm/tlb"
)

// An Engine translates the addresses of one address space. All the methods
// are safe for concurrent use; translations are serialized because each of
// them may evict a TLB entry and update the statistics.
type Engine struct {
	hookList

	mu sync.RWMutex

	name            string
	policy          tlb.Policy
	presentFraction float64

	cfg       vm.Config
	pageTable vm.PageTable
	store     vm.PhysicalStore
	tlb       tlb.TLB
	stats     Statistics
}

// EngineState is a snapshot of an engine that can be serialized.
type EngineState struct {
	Name          string             `json:"name"`
	Config        vm.Config          `json:"config"`
	Policy        string             `json:"policy"`
	Statistics    StatisticsSnapshot `json:"statistics"`
	TLB           []tlb.Entry        `json:"tlb"`
	ResidentPages int                `json:"resident_pages"`
	StoredFrames  int                `json:"stored_frames"`
}

// Name returns the name of the engine.
func (e *Engine) Name() string {
	return e.name
}

// AcceptHook registers a hook.
func (e *Engine) AcceptHook(hook Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.acceptHook(hook)
}

// NumHooks returns the number of hooks registered.
func (e *Engine) NumHooks() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.hooks)
}

// Hooks returns all the hooks registered.
func (e *Engine) Hooks() []Hook {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]Hook(nil), e.hooks...)
}

// Translate translates a virtual address. An address outside of the address
// space returns a *vm.AddressError and leaves the engine untouched. A page
// fault is not an error; it is reported in the Result.
func (e *Engine) Translate(vAddr uint64) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.translate(vAddr)
}

// Access translates a virtual address and returns the content of the frame
// that it resolves to. The content is nil on a page fault.
func (e *Engine) Access(vAddr uint64) (Result, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.translate(vAddr)
	if err != nil || res.PageFault {
		return res, nil, err
	}

	data, _ := e.store.Read(res.PFN)

	return res, data, nil
}

func (e *Engine) translate(vAddr uint64) (Result, error) {
	res := Result{VAddr: vAddr}
	res.moveTo(StateStart)

	err := e.cfg.CheckAddress(vAddr)
	if err != nil {
		return res, err
	}

	res.VPN, res.Offset = e.cfg.Split(vAddr)
	res.moveTo(StateTLBLookup)

	pfn, hit := e.tlb.Lookup(res.VPN)
	if hit {
		e.stats.RecordHit()
		res.TLBHit = true
		e.resolve(&res, pfn)
		e.invokeHook(HookCtx{Domain: e, Pos: HookPosTranslate, Item: res})

		return res, nil
	}

	e.stats.RecordMiss()
	res.moveTo(StatePageTableLookup)

	pfn, present := e.pageTable.Lookup(res.VPN)
	if !present {
		e.stats.RecordFault()
		res.PageFault = true
		res.moveTo(StatePageFault)
		e.invokeHook(HookCtx{Domain: e, Pos: HookPosTranslate, Item: res})

		return res, nil
	}

	evicted, didEvict := e.tlb.Insert(res.VPN, pfn)
	if didEvict {
		res.Evicted = &evicted
	}

	e.resolve(&res, pfn)
	e.invokeHook(HookCtx{Domain: e, Pos: HookPosTranslate, Item: res})

	return res, nil
}

func (e *Engine) resolve(res *Result, pfn uint64) {
	res.PFN = pfn
	res.PAddr = e.cfg.Join(pfn, res.Offset)
	res.moveTo(StateResolved)

	bits := e.cfg.PhysicalAddressBits
	if bits < 64 && res.PAddr>>bits != 0 {
		log.Panicf("physical address 0x%x does not fit in %d bits",
			res.PAddr, bits)
	}
}

// Rebuild replaces the address space with a new one whose pages are assigned
// randomly from the seed. The TLB is emptied and the statistics are reset.
// If the config is invalid, nothing is replaced.
func (e *Engine) Rebuild(cfg vm.Config, seed int64) error {
	return e.RebuildWithAssigner(cfg, vm.RandomAssigner{
		Seed:            seed,
		PresentFraction: e.presentFraction,
	})
}

// RebuildUnseeded is Rebuild with a seed taken from the clock. The seed is
// logged and returned.
func (e *Engine) RebuildUnseeded(cfg vm.Config) (int64, error) {
	assigner := vm.NewUnseededRandomAssigner(e.presentFraction)

	return assigner.Seed, e.RebuildWithAssigner(cfg, assigner)
}

// RebuildWithAssigner replaces the address space with one built by the given
// assigner.
func (e *Engine) RebuildWithAssigner(cfg vm.Config, a vm.Assigner) error {
	cfg, err := cfg.Validate()
	if err != nil {
		return err
	}

	pageTable := vm.NewPageTable(cfg.PageCount, cfg.FrameCount)
	store := vm.NewPhysicalStore(cfg.FrameCount)

	err = a.Assign(cfg, pageTable, store)
	if err != nil {
		return fmt.Errorf("assigning pages: %w", err)
	}

	cache := tlb.MakeBuilder().
		WithCapacity(cfg.TLBCapacity).
		WithPolicy(e.policy).
		Build()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.pageTable = pageTable
	e.store = store
	e.tlb = cache
	e.stats.Reset()

	e.invokeHook(HookCtx{Domain: e, Pos: HookPosRebuild, Item: cfg})

	return nil
}

// Remap makes a page resident in a frame. The TLB entry of the page is
// invalidated so that the next translation sees the new frame.
func (e *Engine) Remap(vpn, pfn uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldPFN, wasPresent := e.pageTable.Lookup(vpn)

	err := e.pageTable.Map(vpn, pfn)
	if err != nil {
		return err
	}

	if wasPresent && oldPFN != pfn {
		e.store.Erase(oldPFN)
	}

	err = e.store.Write(pfn, vm.FrameLabel(pfn, vpn))
	if err != nil {
		return err
	}

	e.tlb.Invalidate(vpn)

	e.invokeHook(HookCtx{
		Domain: e,
		Pos:    HookPosRemap,
		Item:   vm.PageTableEntry{VPN: vpn, PFN: pfn, Present: true},
	})

	return nil
}

// Unmap marks a page as not present. Its frame is released and its TLB entry
// is invalidated.
func (e *Engine) Unmap(vpn uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vpn >= e.cfg.PageCount {
		return fmt.Errorf("%w: vpn 0x%x, %d pages",
			vm.ErrVPNOutOfRange, vpn, e.cfg.PageCount)
	}

	pfn, wasPresent := e.pageTable.Unmap(vpn)
	if wasPresent {
		e.store.Erase(pfn)
	}

	e.tlb.Invalidate(vpn)

	e.invokeHook(HookCtx{
		Domain: e,
		Pos:    HookPosRemap,
		Item:   vm.PageTableEntry{VPN: vpn},
	})

	return nil
}

// Statistics returns a snapshot of the translation counters.
func (e *Engine) Statistics() StatisticsSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.stats.Snapshot()
}

// ResetStatistics sets the translation counters to zero.
func (e *Engine) ResetStatistics() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Reset()
}

// Config returns the shape of the current address space.
func (e *Engine) Config() vm.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.cfg
}

// Policy returns the eviction policy of the TLB.
func (e *Engine) Policy() tlb.Policy {
	return e.policy
}

// TLBEntries returns the cached translations, the next victim first.
func (e *Engine) TLBEntries() []tlb.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.tlb.Entries()
}

// PageTableEntries returns the resident pages ordered by page number.
func (e *Engine) PageTableEntries() []vm.PageTableEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.pageTable.Entries()
}

// ReadFrame returns the content of a physical frame.
func (e *Engine) ReadFrame(pfn uint64) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.store.Read(pfn)
}

// State returns a snapshot of the engine.
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return EngineState{
		Name:          e.name,
		Config:        e.cfg,
		Policy:        e.policy.String(),
		Statistics:    e.stats.Snapshot(),
		TLB:           e.tlb.Entries(),
		ResidentPages: e.pageTable.NumResident(),
		StoredFrames:  e.store.Len(),
	}
}
