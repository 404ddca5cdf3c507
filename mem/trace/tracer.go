// Package trace provides hooks that record the translations of an engine.
package trace

import (
	"fmt"
	"log"
	"strings"

	"github.com/rs/xid"
	"github.com/sarchlab/mmusim/datarecording"
	"github.com/sarchlab/mmusim/mem/vm"
	"github.com/sarchlab/mmusim/mem/vm/mmu"
)

// Tables written by a DBTracer.
const (
	TranslationTable = "translations"
	RebuildTable     = "rebuilds"
	RemapTable       = "remaps"
)

// translationEntry represents one translation in the database. Addresses are
// hex strings as they may use all 64 bits.
type translationEntry struct {
	ID        string
	Engine    string
	Seq       uint64
	VAddr     string
	VPN       uint64
	Offset    string
	PFN       uint64
	PAddr     string
	TLBHit    bool
	PageFault bool
	Steps     string
	Evicted   bool
	EvictVPN  uint64
}

// rebuildEntry represents one rebuild of the address space
type rebuildEntry struct {
	ID          string
	Engine      string
	Seq         uint64
	PageSize    uint64
	VirtualBits uint64
	PhysBits    uint64
	TLBCapacity int
	PageCount   uint64
	FrameCount  uint64
}

// remapEntry represents a page that is remapped or unmapped
type remapEntry struct {
	ID      string
	Engine  string
	Seq     uint64
	VPN     uint64
	PFN     uint64
	Present bool
}

// A logTracer is a hook that writes the actions of an engine to a logger.
type logTracer struct {
	logger *log.Logger
}

// NewLogTracer creates a hook that prints one line per action of an engine.
func NewLogTracer(logger *log.Logger) mmu.Hook {
	return &logTracer{logger: logger}
}

func (t *logTracer) Func(ctx mmu.HookCtx) {
	switch item := ctx.Item.(type) {
	case mmu.Result:
		t.logger.Printf("translate, %s, %s, %s\n",
			ctx.Domain.Name(), item, joinSteps(item.Steps))
	case vm.Config:
		t.logger.Printf("rebuild, %s, %s\n", ctx.Domain.Name(), item)
	case vm.PageTableEntry:
		if item.Present {
			t.logger.Printf("remap, %s, vpn 0x%x -> pfn 0x%x\n",
				ctx.Domain.Name(), item.VPN, item.PFN)
		} else {
			t.logger.Printf("unmap, %s, vpn 0x%x\n",
				ctx.Domain.Name(), item.VPN)
		}
	}
}

// A dbTracer is a hook that records the actions of an engine into a
// database using the data recorder.
type dbTracer struct {
	dataRecorder datarecording.DataRecorder
	seq          uint64
}

// NewDBTracer creates a hook that records translations, rebuilds and remaps.
// The tables are created right away.
func NewDBTracer(dataRecorder datarecording.DataRecorder) (mmu.Hook, error) {
	t := &dbTracer{dataRecorder: dataRecorder}

	err := t.dataRecorder.CreateTable(TranslationTable, translationEntry{})
	if err != nil {
		return nil, err
	}

	err = t.dataRecorder.CreateTable(RebuildTable, rebuildEntry{})
	if err != nil {
		return nil, err
	}

	err = t.dataRecorder.CreateTable(RemapTable, remapEntry{})
	if err != nil {
		return nil, err
	}

	return t, nil
}

func (t *dbTracer) Func(ctx mmu.HookCtx) {
	t.seq++

	var (
		table string
		entry any
	)

	switch item := ctx.Item.(type) {
	case mmu.Result:
		table, entry = TranslationTable, t.translation(ctx.Domain, item)
	case vm.Config:
		table, entry = RebuildTable, t.rebuild(ctx.Domain, item)
	case vm.PageTableEntry:
		table, entry = RemapTable, remapEntry{
			ID:      xid.New().String(),
			Engine:  ctx.Domain.Name(),
			Seq:     t.seq,
			VPN:     item.VPN,
			PFN:     item.PFN,
			Present: item.Present,
		}
	default:
		return
	}

	err := t.dataRecorder.InsertData(table, entry)
	if err != nil {
		log.Printf("recording %s: %v", table, err)
	}
}

func (t *dbTracer) translation(e *mmu.Engine, r mmu.Result) translationEntry {
	entry := translationEntry{
		ID:        xid.New().String(),
		Engine:    e.Name(),
		Seq:       t.seq,
		VAddr:     hex(r.VAddr),
		VPN:       r.VPN,
		Offset:    hex(r.Offset),
		PFN:       r.PFN,
		PAddr:     hex(r.PAddr),
		TLBHit:    r.TLBHit,
		PageFault: r.PageFault,
		Steps:     joinSteps(r.Steps),
	}

	if r.Evicted != nil {
		entry.Evicted = true
		entry.EvictVPN = r.Evicted.VPN
	}

	return entry
}

func (t *dbTracer) rebuild(e *mmu.Engine, cfg vm.Config) rebuildEntry {
	return rebuildEntry{
		ID:          xid.New().String(),
		Engine:      e.Name(),
		Seq:         t.seq,
		PageSize:    cfg.PageSize,
		VirtualBits: cfg.VirtualAddressBits,
		PhysBits:    cfg.PhysicalAddressBits,
		TLBCapacity: cfg.TLBCapacity,
		PageCount:   cfg.PageCount,
		FrameCount:  cfg.FrameCount,
	}
}

func hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func joinSteps(steps []mmu.State) string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.String()
	}

	return strings.Join(names, ">")
}
