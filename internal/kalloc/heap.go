package kalloc

import (
	"github.com/lithium-os/lithium/internal/mem"
	"github.com/lithium-os/lithium/internal/serial"
	"github.com/lithium-os/lithium/internal/vmm"
)

// heapBase is the start of the kernel heap's virtual range.
const heapBase uintptr = 0xFFFF_FFFF_9000_0000

// Heap is the kernel allocator: a bank of fixed-size caches plus the
// large-allocation path, both drawing pages from a PMM through an
// AddressSpace.
type Heap struct {
	PMM  *mem.PMM
	AS   *vmm.AddressSpace
	Sink serial.Sink

	cursor uintptr
	caches [NumCaches]kmemCache
	large  uintptr // address of first largeHeader, 0 == none
}

// Init wires the heap to its backing PMM/AddressSpace and sets up the
// fixed cache schedule. The cursor starts at the architectural heap
// window.
func (h *Heap) Init(pmm *mem.PMM, as *vmm.AddressSpace) {
	h.InitAt(pmm, as, heapBase)
}

// InitAt is Init with an explicit cursor base. The hosted harness
// (cmd/kernel's demo run and the package tests) points it at page-aligned
// host memory so slab headers and objects land in real writable storage;
// the freestanding boot path always goes through Init. base must be
// 4KiB-aligned or slab-from-pointer recovery breaks.
func (h *Heap) InitAt(pmm *mem.PMM, as *vmm.AddressSpace, base uintptr) {
	if base&(mem.PGSIZE-1) != 0 {
		panic("kalloc: heap base not page-aligned")
	}
	h.PMM = pmm
	h.AS = as
	h.cursor = base
	for i, size := range cacheSizes {
		h.caches[i].init(cacheName(size), size)
	}
	serial.Logf(h.Sink, "KALLOC: heap ready\n")
}

func cacheName(size uintptr) string {
	switch size {
	case 16:
		return "kmalloc-16"
	case 32:
		return "kmalloc-32"
	case 64:
		return "kmalloc-64"
	case 128:
		return "kmalloc-128"
	case 256:
		return "kmalloc-256"
	case 512:
		return "kmalloc-512"
	case 1024:
		return "kmalloc-1024"
	case 2048:
		return "kmalloc-2048"
	case 3072:
		return "kmalloc-3072"
	default:
		return "kmalloc-4096"
	}
}

// allocPages extends the heap's virtual cursor by n pages, backing each
// one with a fresh physical frame. A partial allocation is rolled back
// in full on failure: every page already mapped is unmapped and every
// frame already taken goes back to the PMM, so an out-of-memory request
// leaves nothing behind. Both the slab and large paths come through
// here.
func (h *Heap) allocPages(n uintptr) (uintptr, []mem.Pa_t, bool) {
	vaddr := h.cursor
	phys := make([]mem.Pa_t, 0, n)

	for i := uintptr(0); i < n; i++ {
		hvirt, ok := h.PMM.Alloc()
		if !ok {
			h.rollbackPages(vaddr, phys)
			return 0, nil, false
		}
		p := h.PMM.HHDM.ToPhys(hvirt)
		if !h.AS.Map(h.PMM, vaddr+i*mem.PGSIZE, p, mem.PTE_W) {
			h.PMM.Free(hvirt)
			h.rollbackPages(vaddr, phys)
			return 0, nil, false
		}
		phys = append(phys, p)
	}

	h.cursor += n * mem.PGSIZE
	return vaddr, phys, true
}

func (h *Heap) rollbackPages(vaddr uintptr, phys []mem.Pa_t) {
	for i, p := range phys {
		h.AS.Unmap(vaddr + uintptr(i)*mem.PGSIZE)
		h.PMM.Free(h.PMM.HHDM.ToVirt(p))
	}
}

// cacheFor returns the cache whose objects are large enough to hold
// size, or nil if size exceeds the largest cache.
func (h *Heap) cacheFor(size uintptr) *kmemCache {
	for i := range h.caches {
		if size <= h.caches[i].objectSize {
			return &h.caches[i]
		}
	}
	return nil
}

// Alloc returns a block of at least size bytes: requests at or below
// 4096 come from the smallest cache that fits, larger ones go to the
// large-allocation path. Returns 0 when size is 0 or memory is
// exhausted. Block contents are undefined.
func (h *Heap) Alloc(size uintptr) uintptr {
	if size == 0 {
		return 0
	}
	if c := h.cacheFor(size); c != nil {
		ptr, ok := h.cacheAlloc(c)
		if !ok {
			serial.Logf(h.Sink, "KALLOC: out of memory\n")
			return 0
		}
		return ptr
	}
	ptr, err := h.allocLarge(size)
	if err != nil {
		serial.Logf(h.Sink, "KALLOC: large allocation failed\n")
		return 0
	}
	return ptr
}

// Free releases ptr. Large allocations are recognized by membership in
// the large list and routed to freeLarge; everything else goes to the
// owning slab's cache via slab-from-pointer recovery. ptr == 0 is a
// no-op.
func (h *Heap) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	if h.isLargeAlloc(ptr) {
		h.freeLarge(ptr)
		return
	}
	slab := slabAt(slabBaseOf(ptr))
	c := (*kmemCache)(unsafeFromUintptr(slab.cache))
	if err := h.cacheFree(c, ptr); err != nil {
		serial.Logf(h.Sink, "KALLOC: free rejected\n")
	}
}

// Realloc resizes ptr to newSize. A request that still fits the
// block's recorded size (a slab object's cache size, or a large
// allocation's exact byte count from its header) returns ptr
// unchanged; growing allocates a new block, copies the old contents,
// and frees the old block. A nil ptr behaves like Alloc; a zero
// newSize behaves like Free.
func (h *Heap) Realloc(ptr uintptr, newSize uintptr) uintptr {
	if ptr == 0 {
		return h.Alloc(newSize)
	}
	if newSize == 0 {
		h.Free(ptr)
		return 0
	}

	oldSize := h.blockSize(ptr)
	if newSize <= oldSize {
		return ptr
	}

	newPtr := h.Alloc(newSize)
	if newPtr == 0 {
		return 0
	}
	copyBytes(newPtr, ptr, oldSize)
	h.Free(ptr)
	return newPtr
}

// blockSize returns the usable size of an already-allocated block, for
// krealloc's copy-length computation.
func (h *Heap) blockSize(ptr uintptr) uintptr {
	if hdr := h.findLarge(ptr); hdr != 0 {
		return largeHeaderAt(hdr).size
	}
	slab := slabAt(slabBaseOf(ptr))
	c := (*kmemCache)(unsafeFromUintptr(slab.cache))
	return c.objectSize
}
