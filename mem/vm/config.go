// Package vm provides the models for address translations: the shape of an
// address space, the page table that maps it and the physical frames that
// back it.
package vm

import (
	"errors"
	"fmt"
	"log"
	"math/bits"
)

// MaxTableSize is the largest number of pages or frames that the simulator
// keeps in memory.
const MaxTableSize = uint64(1) << 24

// Errors reported while validating a Config.
var (
	ErrInvalidPageSize      = errors.New("page size must be a positive power of 2")
	ErrInvalidAddressBits   = errors.New("invalid address width")
	ErrZeroTLBCapacity      = errors.New("TLB capacity must be at least 1")
	ErrCapacityTooLarge     = errors.New("TLB capacity exceeds the number of pages")
	ErrPageCountTooLarge    = errors.New("page count exceeds the virtual address space")
	ErrFrameCountTooLarge   = errors.New("frame count exceeds the physical address space")
	ErrAddressSpaceTooLarge = errors.New("address space too large to simulate")
)

// A Config describes the shape of an address space. A Config is immutable
// once built. Use a ConfigBuilder to create one.
type Config struct {
	PageSize            uint64 `json:"page_size"`
	VirtualAddressBits  uint64 `json:"virtual_address_bits"`
	PhysicalAddressBits uint64 `json:"physical_address_bits"`
	TLBCapacity         int    `json:"tlb_capacity"`
	PageCount           uint64 `json:"page_count"`
	FrameCount          uint64 `json:"frame_count"`

	log2PageSize    uint64
	relaxedCapacity bool
}

// Log2PageSize returns the number of offset bits in an address.
func (c Config) Log2PageSize() uint64 {
	return c.log2PageSize
}

// OffsetMask selects the offset bits of an address.
func (c Config) OffsetMask() uint64 {
	return c.PageSize - 1
}

// VPNMask selects the virtual page number once an address is shifted right
// by Log2PageSize.
func (c Config) VPNMask() uint64 {
	return lowBits(c.VirtualAddressBits - c.log2PageSize)
}

// VirtualSpaceSize returns the number of addressable bytes, saturating at
// the largest uint64.
func (c Config) VirtualSpaceSize() uint64 {
	if c.VirtualAddressBits >= 64 {
		return ^uint64(0)
	}

	return uint64(1) << c.VirtualAddressBits
}

// Split decomposes a virtual address into its page number and offset.
func (c Config) Split(vAddr uint64) (vpn, offset uint64) {
	offset = vAddr & c.OffsetMask()
	vpn = (vAddr >> c.log2PageSize) & c.VPNMask()

	return vpn, offset
}

// Join composes a physical address from a frame number and an offset.
func (c Config) Join(pfn, offset uint64) uint64 {
	return (pfn << c.log2PageSize) | (offset & c.OffsetMask())
}

// CheckAddress returns an *AddressError if the address does not belong to
// the virtual address space.
func (c Config) CheckAddress(vAddr uint64) error {
	if c.VirtualAddressBits < 64 && vAddr>>c.VirtualAddressBits != 0 {
		return &AddressError{VAddr: vAddr, Bits: c.VirtualAddressBits}
	}

	if vAddr>>c.log2PageSize >= c.PageCount {
		return &AddressError{
			VAddr:     vAddr,
			Bits:      c.VirtualAddressBits,
			PageCount: c.PageCount,
		}
	}

	return nil
}

// Validate checks the exported fields again and returns a usable Config.
// It is meant for configs that were not produced by a ConfigBuilder, such as
// configs decoded from JSON.
func (c Config) Validate() (Config, error) {
	b := MakeConfigBuilder().
		WithPageSize(c.PageSize).
		WithVirtualAddressBits(c.VirtualAddressBits).
		WithPhysicalAddressBits(c.PhysicalAddressBits).
		WithTLBCapacity(c.TLBCapacity).
		WithPageCount(c.PageCount).
		WithFrameCount(c.FrameCount)

	if c.relaxedCapacity {
		b = b.WithRelaxedCapacityCheck()
	}

	return b.Build()
}

// String prints the config in a single line.
func (c Config) String() string {
	return fmt.Sprintf(
		"page=%dB va=%db pa=%db tlb=%d pages=%d frames=%d",
		c.PageSize, c.VirtualAddressBits, c.PhysicalAddressBits,
		c.TLBCapacity, c.PageCount, c.FrameCount)
}

// A ConfigBuilder validates raw parameters and builds a Config.
type ConfigBuilder struct {
	pageSize            uint64
	virtualAddressBits  uint64
	physicalAddressBits uint64
	tlbCapacity         int
	pageCount           uint64
	frameCount          uint64
	relaxCapacityCheck  bool
}

// MakeConfigBuilder returns a ConfigBuilder with default parameters: 4 KiB
// pages, a 32-bit virtual and a 24-bit physical address space and 16 TLB
// entries.
func MakeConfigBuilder() ConfigBuilder {
	return ConfigBuilder{
		pageSize:            4096,
		virtualAddressBits:  32,
		physicalAddressBits: 24,
		tlbCapacity:         16,
	}
}

// WithPageSize sets the page size in bytes.
func (b ConfigBuilder) WithPageSize(n uint64) ConfigBuilder {
	b.pageSize = n
	return b
}

// WithVirtualAddressBits sets the width of a virtual address.
func (b ConfigBuilder) WithVirtualAddressBits(n uint64) ConfigBuilder {
	b.virtualAddressBits = n
	return b
}

// WithPhysicalAddressBits sets the width of a physical address.
func (b ConfigBuilder) WithPhysicalAddressBits(n uint64) ConfigBuilder {
	b.physicalAddressBits = n
	return b
}

// WithTLBCapacity sets the number of TLB entries.
func (b ConfigBuilder) WithTLBCapacity(n int) ConfigBuilder {
	b.tlbCapacity = n
	return b
}

// WithPageCount sets the number of virtual pages. Zero derives it from the
// virtual address width.
func (b ConfigBuilder) WithPageCount(n uint64) ConfigBuilder {
	b.pageCount = n
	return b
}

// WithFrameCount sets the number of physical frames. Zero derives it from
// the physical address width.
func (b ConfigBuilder) WithFrameCount(n uint64) ConfigBuilder {
	b.frameCount = n
	return b
}

// WithRelaxedCapacityCheck turns a TLB that is larger than the address space
// into a warning instead of an error.
func (b ConfigBuilder) WithRelaxedCapacityCheck() ConfigBuilder {
	b.relaxCapacityCheck = true
	return b
}

// Build validates the parameters and returns the Config. No Config is
// returned if any parameter is invalid.
func (b ConfigBuilder) Build() (Config, error) {
	if b.pageSize == 0 || b.pageSize&(b.pageSize-1) != 0 {
		return Config{}, fmt.Errorf("%w: got %d", ErrInvalidPageSize, b.pageSize)
	}

	log2PageSize := uint64(bits.TrailingZeros64(b.pageSize))

	err := b.checkAddressBits(log2PageSize)
	if err != nil {
		return Config{}, err
	}

	pageCount, err := b.resolvePageCount(log2PageSize)
	if err != nil {
		return Config{}, err
	}

	frameCount, err := b.resolveFrameCount(log2PageSize)
	if err != nil {
		return Config{}, err
	}

	err = b.checkTLBCapacity(pageCount)
	if err != nil {
		return Config{}, err
	}

	return Config{
		PageSize:            b.pageSize,
		VirtualAddressBits:  b.virtualAddressBits,
		PhysicalAddressBits: b.physicalAddressBits,
		TLBCapacity:         b.tlbCapacity,
		PageCount:           pageCount,
		FrameCount:          frameCount,
		log2PageSize:        log2PageSize,
		relaxedCapacity:     b.relaxCapacityCheck,
	}, nil
}

func (b ConfigBuilder) checkAddressBits(log2PageSize uint64) error {
	if b.virtualAddressBits > 64 || b.virtualAddressBits < log2PageSize {
		return fmt.Errorf("%w: %d virtual bits with %d offset bits",
			ErrInvalidAddressBits, b.virtualAddressBits, log2PageSize)
	}

	if b.physicalAddressBits > 64 || b.physicalAddressBits < log2PageSize {
		return fmt.Errorf("%w: %d physical bits with %d offset bits",
			ErrInvalidAddressBits, b.physicalAddressBits, log2PageSize)
	}

	return nil
}

func (b ConfigBuilder) resolvePageCount(log2PageSize uint64) (uint64, error) {
	vpnBits := b.virtualAddressBits - log2PageSize
	if vpnBits >= 64 || uint64(1)<<vpnBits > MaxTableSize {
		if b.pageCount == 0 || b.pageCount > MaxTableSize {
			return 0, fmt.Errorf("%w: 2^%d pages",
				ErrAddressSpaceTooLarge, vpnBits)
		}

		return b.pageCount, nil
	}

	maxPages := uint64(1) << vpnBits
	if b.pageCount == 0 {
		return maxPages, nil
	}

	if b.pageCount > maxPages {
		return 0, fmt.Errorf("%w: %d > %d",
			ErrPageCountTooLarge, b.pageCount, maxPages)
	}

	return b.pageCount, nil
}

func (b ConfigBuilder) resolveFrameCount(log2PageSize uint64) (uint64, error) {
	pfnBits := b.physicalAddressBits - log2PageSize
	if pfnBits >= 64 || uint64(1)<<pfnBits > MaxTableSize {
		if b.frameCount == 0 || b.frameCount > MaxTableSize {
			return 0, fmt.Errorf("%w: 2^%d frames",
				ErrAddressSpaceTooLarge, pfnBits)
		}

		return b.frameCount, nil
	}

	maxFrames := uint64(1) << pfnBits
	if b.frameCount == 0 {
		return maxFrames, nil
	}

	if b.frameCount > maxFrames {
		return 0, fmt.Errorf("%w: %d > %d",
			ErrFrameCountTooLarge, b.frameCount, maxFrames)
	}

	return b.frameCount, nil
}

func (b ConfigBuilder) checkTLBCapacity(pageCount uint64) error {
	if b.tlbCapacity < 1 {
		return fmt.Errorf("%w: got %d", ErrZeroTLBCapacity, b.tlbCapacity)
	}

	if uint64(b.tlbCapacity) <= pageCount {
		return nil
	}

	if b.relaxCapacityCheck {
		log.Printf("warning: TLB capacity %d exceeds %d pages",
			b.tlbCapacity, pageCount)
		return nil
	}

	return fmt.Errorf("%w: %d > %d",
		ErrCapacityTooLarge, b.tlbCapacity, pageCount)
}

func lowBits(n uint64) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}

	return uint64(1)<<n - 1
}
