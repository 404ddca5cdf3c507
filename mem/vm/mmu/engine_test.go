package mmu

import (
	"math/rand"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/mmusim/mem/vm"
	"github.com/sarchlab/mmusim/mem/vm/tlb"
)

type fixedAssigner map[uint64]uint64

func (a fixedAssigner) Assign(
	_ vm.Config,
	pt vm.PageTable,
	store vm.PhysicalStore,
) error {
	for vpn, pfn := range a {
		err := pt.Map(vpn, pfn)
		if err != nil {
			return err
		}

		err = store.Write(pfn, vm.FrameLabel(pfn, vpn))
		if err != nil {
			return err
		}
	}

	return nil
}

type recordingHook struct {
	ctxs []HookCtx
}

func (h *recordingHook) Func(ctx HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

func mustConfig(b vm.ConfigBuilder) vm.Config {
	cfg, err := b.Build()
	Expect(err).NotTo(HaveOccurred())

	return cfg
}

var _ = Describe("Engine", func() {
	var (
		cfg    vm.Config
		engine *Engine
	)

	BeforeEach(func() {
		cfg = mustConfig(vm.MakeConfigBuilder().
			WithPageSize(256).
			WithVirtualAddressBits(16).
			WithPhysicalAddressBits(12).
			WithTLBCapacity(2))

		var err error
		engine, err = MakeBuilder().
			WithConfig(cfg).
			WithAssigner(fixedAssigner{0x2a: 0x0d, 1: 1, 2: 2, 3: 3}).
			Build("MMU")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should miss and then hit on the same page", func() {
		res, err := engine.Translate(0x2a7f)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.TLBHit).To(BeFalse())
		Expect(res.PageFault).To(BeFalse())
		Expect(res.VPN).To(Equal(uint64(0x2a)))
		Expect(res.Offset).To(Equal(uint64(0x7f)))
		Expect(res.PFN).To(Equal(uint64(0x0d)))
		Expect(res.PAddr).To(Equal(uint64(0x0d7f)))
		Expect(res.State).To(Equal(StateResolved))
		Expect(res.Steps).To(Equal([]State{
			StateStart, StateTLBLookup, StatePageTableLookup, StateResolved,
		}))

		res, err = engine.Translate(0x2a7f)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.TLBHit).To(BeTrue())
		Expect(res.PAddr).To(Equal(uint64(0x0d7f)))
		Expect(res.Steps).To(Equal([]State{
			StateStart, StateTLBLookup, StateResolved,
		}))

		pAddr, ok := res.PhysicalAddress()
		Expect(ok).To(BeTrue())
		Expect(pAddr).To(Equal(uint64(0x0d7f)))
	})

	It("should hit for any offset within a cached page", func() {
		_, err := engine.Translate(0x2a00)
		Expect(err).NotTo(HaveOccurred())

		res, err := engine.Translate(0x2aff)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.TLBHit).To(BeTrue())
		Expect(res.PAddr).To(Equal(uint64(0x0dff)))
	})

	It("should report a page fault for a page that is not present", func() {
		for i := 0; i < 3; i++ {
			res, err := engine.Translate(0x1004)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.PageFault).To(BeTrue())
			Expect(res.TLBHit).To(BeFalse())
			Expect(res.State).To(Equal(StatePageFault))
			_, ok := res.PhysicalAddress()
			Expect(ok).To(BeFalse())
		}

		Expect(engine.TLBEntries()).To(BeEmpty())
		Expect(engine.Statistics()).To(Equal(StatisticsSnapshot{
			Misses: 3,
			Faults: 3,
			Total:  3,
		}))
	})

	It("should reject an address out of range without side effects", func() {
		res, err := engine.Translate(0x10000)

		Expect(err).To(MatchError(vm.ErrAddressOutOfRange))
		Expect(res.State).To(Equal(StateStart))
		Expect(engine.Statistics().Total).To(BeZero())
		Expect(engine.TLBEntries()).To(BeEmpty())
	})

	It("should evict the oldest translation", func() {
		engine.Translate(0x0100)
		engine.Translate(0x0200)

		res, err := engine.Translate(0x0300)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Evicted).To(Equal(&tlb.Entry{VPN: 1, PFN: 1}))
		Expect(engine.TLBEntries()).To(Equal([]tlb.Entry{
			{VPN: 2, PFN: 2},
			{VPN: 3, PFN: 3},
		}))

		res, _ = engine.Translate(0x0100)
		Expect(res.TLBHit).To(BeFalse())
	})

	It("should not promote a hit entry", func() {
		engine.Translate(0x0100)
		engine.Translate(0x0200)
		engine.Translate(0x0100)

		res, _ := engine.Translate(0x0300)

		Expect(res.Evicted.VPN).To(Equal(uint64(1)))
	})

	It("should keep the TLB within its capacity", func() {
		r := rand.New(rand.NewSource(1))
		for i := 0; i < 500; i++ {
			engine.Translate(uint64(r.Intn(0x10000)))
			Expect(len(engine.TLBEntries())).To(BeNumerically("<=", 2))
		}
	})

	It("should count every translation once", func() {
		r := rand.New(rand.NewSource(2))
		n := uint64(0)

		for i := 0; i < 1000; i++ {
			_, err := engine.Translate(uint64(r.Intn(0x14000)))
			if err == nil {
				n++
			}
		}

		stats := engine.Statistics()
		Expect(stats.Hits + stats.Misses).To(Equal(n))
		Expect(stats.Total).To(Equal(n))
	})

	It("should read the content of the resolved frame", func() {
		res, data, err := engine.Access(0x2a10)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.PFN).To(Equal(uint64(0x0d)))
		Expect(data).To(Equal(vm.FrameLabel(0x0d, 0x2a)))

		_, data, err = engine.Access(0x1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(BeNil())
	})

	Context("with mocked page table and TLB", func() {
		var (
			mockCtrl  *gomock.Controller
			pageTable *MockPageTable
			cache     *MockTLB
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			pageTable = NewMockPageTable(mockCtrl)
			cache = NewMockTLB(mockCtrl)
			engine.pageTable = pageTable
			engine.tlb = cache
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should not walk the page table on a hit", func() {
			cache.EXPECT().Lookup(uint64(0x2a)).Return(uint64(0x0d), true)

			res, err := engine.Translate(0x2a7f)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.TLBHit).To(BeTrue())
			Expect(res.PAddr).To(Equal(uint64(0x0d7f)))
		})

		It("should not fill the TLB on a page fault", func() {
			cache.EXPECT().Lookup(uint64(0x10)).Return(uint64(0), false)
			pageTable.EXPECT().Lookup(uint64(0x10)).Return(uint64(0), false)

			res, err := engine.Translate(0x1000)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.PageFault).To(BeTrue())
		})

		It("should fill the TLB after a page walk", func() {
			cache.EXPECT().Lookup(uint64(0x05)).Return(uint64(0), false)
			pageTable.EXPECT().Lookup(uint64(0x05)).Return(uint64(0x07), true)
			cache.EXPECT().
				Insert(uint64(0x05), uint64(0x07)).
				Return(tlb.Entry{VPN: 0x09, PFN: 0x01}, true)

			res, err := engine.Translate(0x0512)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.PAddr).To(Equal(uint64(0x0712)))
			Expect(res.Evicted).To(Equal(&tlb.Entry{VPN: 0x09, PFN: 0x01}))
		})

		It("should panic if the frame is outside the physical space", func() {
			cache.EXPECT().Lookup(uint64(0x05)).Return(uint64(0x100), true)

			Expect(func() { engine.Translate(0x0500) }).To(Panic())
		})
	})

	Context("rebuild", func() {
		BeforeEach(func() {
			engine.Translate(0x2a7f)
			engine.Translate(0x2a7f)
		})

		It("should replace the address space and reset the state", func() {
			newCfg := mustConfig(vm.MakeConfigBuilder().
				WithPageSize(512).
				WithVirtualAddressBits(16).
				WithPhysicalAddressBits(14).
				WithTLBCapacity(4))

			err := engine.Rebuild(newCfg, 5)

			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Config()).To(Equal(newCfg))
			Expect(engine.Statistics()).To(Equal(StatisticsSnapshot{}))
			Expect(engine.TLBEntries()).To(BeEmpty())
			Expect(engine.PageTableEntries()).NotTo(BeEmpty())
		})

		It("should keep everything if the config is invalid", func() {
			err := engine.Rebuild(vm.Config{PageSize: 3}, 5)

			Expect(err).To(MatchError(vm.ErrInvalidPageSize))
			Expect(engine.Config()).To(Equal(cfg))
			Expect(engine.Statistics().Hits).To(Equal(uint64(1)))
			Expect(engine.TLBEntries()).To(HaveLen(1))
		})

		It("should build the same layout from the same seed", func() {
			other, err := MakeBuilder().WithConfig(cfg).Build("Other")
			Expect(err).NotTo(HaveOccurred())

			Expect(engine.Rebuild(cfg, 11)).To(Succeed())
			Expect(other.Rebuild(cfg, 11)).To(Succeed())

			Expect(engine.PageTableEntries()).To(Equal(other.PageTableEntries()))
		})

		It("should return the seed of an unseeded rebuild", func() {
			seed, err := engine.RebuildUnseeded(cfg)
			Expect(err).NotTo(HaveOccurred())
			layout := engine.PageTableEntries()

			Expect(engine.Rebuild(cfg, seed)).To(Succeed())

			Expect(engine.PageTableEntries()).To(Equal(layout))
		})
	})

	Context("remapping", func() {
		It("should invalidate the cached translation of a remapped page", func() {
			engine.Translate(0x2a7f)

			Expect(engine.Remap(0x2a, 0x04)).To(Succeed())

			res, err := engine.Translate(0x2a7f)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.TLBHit).To(BeFalse())
			Expect(res.PAddr).To(Equal(uint64(0x047f)))

			_, found := engine.ReadFrame(0x0d)
			Expect(found).To(BeFalse())
			data, found := engine.ReadFrame(0x04)
			Expect(found).To(BeTrue())
			Expect(data).To(Equal(vm.FrameLabel(0x04, 0x2a)))
		})

		It("should refuse a frame owned by another page", func() {
			Expect(engine.Remap(0x2a, 0x01)).To(MatchError(vm.ErrFrameInUse))
		})

		It("should fault after a page is unmapped", func() {
			engine.Translate(0x2a7f)

			Expect(engine.Unmap(0x2a)).To(Succeed())

			res, err := engine.Translate(0x2a7f)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PageFault).To(BeTrue())
			_, found := engine.ReadFrame(0x0d)
			Expect(found).To(BeFalse())
		})

		It("should reject unmapping a page out of range", func() {
			Expect(engine.Unmap(0x100)).To(MatchError(vm.ErrVPNOutOfRange))
		})

		It("should not count remapping as translations", func() {
			Expect(engine.Remap(0x30, 0x05)).To(Succeed())
			Expect(engine.Unmap(0x30)).To(Succeed())

			Expect(engine.Statistics().Total).To(BeZero())
		})
	})

	Context("hooks", func() {
		var hook *recordingHook

		BeforeEach(func() {
			hook = &recordingHook{}
			engine.AcceptHook(hook)
		})

		It("should invoke hooks after each translation", func() {
			engine.Translate(0x2a7f)
			engine.Translate(0x1000)
			engine.Translate(0x10000)

			Expect(hook.ctxs).To(HaveLen(2))
			Expect(hook.ctxs[0].Pos).To(Equal(HookPosTranslate))
			Expect(hook.ctxs[0].Domain).To(BeIdenticalTo(engine))
			Expect(hook.ctxs[0].Item.(Result).PAddr).To(Equal(uint64(0x0d7f)))
			Expect(hook.ctxs[1].Item.(Result).PageFault).To(BeTrue())
		})

		It("should invoke hooks on rebuild and remap", func() {
			Expect(engine.Rebuild(cfg, 1)).To(Succeed())
			Expect(engine.Unmap(0x2a)).To(Succeed())

			Expect(hook.ctxs).To(HaveLen(2))
			Expect(hook.ctxs[0].Pos).To(Equal(HookPosRebuild))
			Expect(hook.ctxs[0].Item).To(Equal(cfg))
			Expect(hook.ctxs[1].Pos).To(Equal(HookPosRemap))
			Expect(hook.ctxs[1].Item).To(Equal(vm.PageTableEntry{VPN: 0x2a}))
		})

		It("should refuse a hook registered twice", func() {
			Expect(func() { engine.AcceptHook(hook) }).To(Panic())
			Expect(engine.NumHooks()).To(Equal(1))
		})

		It("should list hooks while others are registered", func() {
			var wg sync.WaitGroup

			for g := 0; g < 8; g++ {
				wg.Add(2)

				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					engine.AcceptHook(&recordingHook{})
				}()

				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(engine.NumHooks()).To(BeNumerically(">=", 1))
					Expect(engine.Hooks()).To(ContainElement(hook))
				}()
			}

			wg.Wait()

			Expect(engine.NumHooks()).To(Equal(9))
			hooks := engine.Hooks()
			hooks[0] = nil
			Expect(engine.Hooks()[0]).To(BeIdenticalTo(hook))
		})
	})

	It("should serialize concurrent translations", func() {
		var wg sync.WaitGroup

		for g := 0; g < 8; g++ {
			wg.Add(1)

			go func(seed int64) {
				defer wg.Done()

				r := rand.New(rand.NewSource(seed))
				for i := 0; i < 500; i++ {
					engine.Translate(uint64(r.Intn(0x10000)))
				}
			}(int64(g))
		}

		wg.Wait()

		Expect(engine.Statistics().Total).To(Equal(uint64(4000)))
		Expect(len(engine.TLBEntries())).To(BeNumerically("<=", 2))
	})

	It("should describe its state", func() {
		engine.Translate(0x2a7f)

		state := engine.State()

		Expect(state.Name).To(Equal("MMU"))
		Expect(state.Policy).To(Equal("fifo"))
		Expect(state.ResidentPages).To(Equal(4))
		Expect(state.StoredFrames).To(Equal(4))
		Expect(state.TLB).To(Equal([]tlb.Entry{{VPN: 0x2a, PFN: 0x0d}}))
		Expect(state.Statistics.Misses).To(Equal(uint64(1)))
	})
})

var _ = Describe("Engine with an LRU TLB", func() {
	It("should evict the least recently used translation", func() {
		cfg := mustConfig(vm.MakeConfigBuilder().
			WithPageSize(256).
			WithVirtualAddressBits(16).
			WithPhysicalAddressBits(12).
			WithTLBCapacity(2))
		engine, err := MakeBuilder().
			WithConfig(cfg).
			WithTLBPolicy(tlb.PolicyLRU).
			WithAssigner(fixedAssigner{1: 1, 2: 2, 3: 3}).
			Build("MMU")
		Expect(err).NotTo(HaveOccurred())

		engine.Translate(0x0100)
		engine.Translate(0x0200)
		res, _ := engine.Translate(0x0100)
		Expect(res.TLBHit).To(BeTrue())

		res, _ = engine.Translate(0x0300)

		Expect(res.Evicted).To(Equal(&tlb.Entry{VPN: 2, PFN: 2}))
		Expect(engine.Policy()).To(Equal(tlb.PolicyLRU))
	})
})

var _ = Describe("Builder", func() {
	It("should build an engine with the default config", func() {
		engine, err := MakeBuilder().WithSeed(3).Build("MMU")

		Expect(err).NotTo(HaveOccurred())
		Expect(engine.Config().PageSize).To(Equal(uint64(4096)))
		Expect(engine.PageTableEntries()).NotTo(BeEmpty())
	})

	It("should fail on an invalid config", func() {
		_, err := MakeBuilder().
			WithConfig(vm.Config{PageSize: 4096, TLBCapacity: 0}).
			Build("MMU")

		Expect(err).To(HaveOccurred())
	})

	It("should fail when the assigner fails", func() {
		_, err := MakeBuilder().WithPresentFraction(2).Build("MMU")

		Expect(err).To(HaveOccurred())
	})

	It("should let hooks observe the first build", func() {
		hook := &recordingHook{}

		_, err := MakeBuilder().WithHook(hook).Build("MMU")

		Expect(err).NotTo(HaveOccurred())
		Expect(hook.ctxs).To(HaveLen(1))
		Expect(hook.ctxs[0].Pos).To(Equal(HookPosRebuild))
	})
})
