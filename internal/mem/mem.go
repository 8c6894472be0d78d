// Package mem models x86-64 physical addresses, page-table entries and the
// higher-half direct map, and implements the physical page allocator (PMM)
// that sits underneath the virtual memory manager and the kernel heap.
package mem

import "github.com/lithium-os/lithium/internal/util"

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE uintptr = 1 << PGSHIFT

// PGOFFSET masks the in-page offset bits of an address.
const PGOFFSET uintptr = PGSIZE - 1

// PGMASK masks the page-number bits of an address.
const PGMASK uintptr = ^PGOFFSET

// Pa_t is a physical address, kept page-aligned whenever it identifies
// a frame. Also the element type of page tables, since an entry is a
// frame address plus flag bits.
type Pa_t uintptr

// PTE flag bits, per the x86-64 page-table entry layout: bit 0 present,
// 1 write, 2 user, 7 huge, 63 NX.
const (
	PTE_P  Pa_t = 1 << 0 // present
	PTE_W  Pa_t = 1 << 1 // writable
	PTE_U  Pa_t = 1 << 2 // user-accessible
	PTE_PS Pa_t = 1 << 7 // huge page (2MiB at PD, 1GiB at PDPT)
	PTE_NX Pa_t = 1 << 63
)

// PTE_ADDR extracts the physical frame address encoded in bits 12..52 of
// a page-table entry.
const PTE_ADDR Pa_t = 0x000F_FFFF_FFFF_F000

// Table is a single 4KiB page-table page: 512 64-bit entries. One type
// serves all four levels (PML4, PDPT, PD, PT), since the hardware
// layout is identical at each.
type Table [512]Pa_t

// RegionKind classifies a bootloader memory-map entry.
type RegionKind int

const (
	Reserved RegionKind = iota
	Usable
	ACPIReclaimable
	ACPINVS
	BadMemory
	BootloaderReclaimable
	KernelAndModules
	Framebuffer
)

// MemoryMapEntry is one record of the bootloader-provided memory map.
// Only Usable entries feed the PMM.
type MemoryMapEntry struct {
	Base   uint64
	Length uint64
	Kind   RegionKind
}

// RoundPageDown and RoundPageUp align addresses to page granularity. Thin
// wrappers over the generic helpers so call sites read naturally.
func RoundPageDown(v uintptr) uintptr { return util.Rounddown(v, PGSIZE) }
func RoundPageUp(v uintptr) uintptr   { return util.Roundup(v, PGSIZE) }
