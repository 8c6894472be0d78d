package kalloc

import (
	"errors"
	"unsafe"

	"github.com/lithium-os/lithium/internal/mem"
	"github.com/lithium-os/lithium/internal/serial"
	"github.com/lithium-os/lithium/internal/util"
)

// largeMagic tags a large-allocation header ("LARGEALL") so a stomped
// header is caught before its page list is trusted.
const largeMagic uint64 = 0x4C41524745414C4C

// ErrLargeHeaderOverflow is returned when a requested large allocation
// would need a header bigger than one page can hold.
var ErrLargeHeaderOverflow = errors.New("kalloc: large allocation header exceeds one page")

// ErrOutOfMemory is returned by the large-allocation path when the PMM
// or VMM cannot satisfy the request.
var ErrOutOfMemory = errors.New("kalloc: out of memory")

// ErrCorruptLargeHeader is returned by freeLarge when the header found
// for a pointer no longer carries the large-allocation magic.
var ErrCorruptLargeHeader = errors.New("kalloc: corrupt large allocation header")

// ErrLargeNotFound is returned by freeLarge when the pointer is absent
// from the large-allocation list.
var ErrLargeNotFound = errors.New("kalloc: no large allocation at address")

// largeHeader is the fixed part of a large allocation's bookkeeping
// block. It is followed in memory by numPages uintptrs,
// one physical frame address per mapped page; physAddrPtr computes the
// address of entry i in that trailing array.
type largeHeader struct {
	magic    uint64
	vaddr    uintptr
	size     uintptr
	numPages uintptr
	next     uintptr // address of the next largeHeader in the global list, 0 == none
}

var largeHeaderFixedSize = util.Roundup(unsafe.Sizeof(largeHeader{}), 8)

func largeHeaderAt(addr uintptr) *largeHeader {
	return (*largeHeader)(unsafe.Pointer(addr))
}

func physAddrPtr(headerAddr uintptr, i uintptr) *mem.Pa_t {
	return (*mem.Pa_t)(unsafe.Pointer(headerAddr + largeHeaderFixedSize + i*unsafe.Sizeof(mem.Pa_t(0))))
}

func largeHeaderTotalSize(numPages uintptr) uintptr {
	return largeHeaderFixedSize + numPages*unsafe.Sizeof(mem.Pa_t(0))
}

// findLarge scans the global large-allocation list for the header
// describing ptr. Linear in the number of outstanding large
// allocations. Returns 0 if ptr was never handed out by allocLarge.
func (h *Heap) findLarge(ptr uintptr) uintptr {
	for hdr := h.large; hdr != 0; hdr = largeHeaderAt(hdr).next {
		if largeHeaderAt(hdr).vaddr == ptr {
			return hdr
		}
	}
	return 0
}

func (h *Heap) isLargeAlloc(ptr uintptr) bool {
	return h.findLarge(ptr) != 0
}

// allocLarge serves requests above the largest cache size: a header
// block (itself served from a slab, since it is always at most one
// page) followed by the requested number of freshly mapped pages.
func (h *Heap) allocLarge(size uintptr) (uintptr, error) {
	numPages := (size + mem.PGSIZE - 1) / mem.PGSIZE
	headerTotal := largeHeaderTotalSize(numPages)
	if headerTotal > mem.PGSIZE {
		serial.Logf(h.Sink, "KALLOC: large allocation header overflow\n")
		return 0, ErrLargeHeaderOverflow
	}

	hdrAddr := h.Alloc(headerTotal)
	if hdrAddr == 0 {
		return 0, ErrOutOfMemory
	}

	vaddr, phys, ok := h.allocPages(numPages)
	if !ok {
		h.Free(hdrAddr)
		return 0, ErrOutOfMemory
	}

	hdr := largeHeaderAt(hdrAddr)
	hdr.magic = largeMagic
	hdr.vaddr = vaddr
	hdr.size = size
	hdr.numPages = numPages
	hdr.next = h.large
	h.large = hdrAddr

	for i, p := range phys {
		*physAddrPtr(hdrAddr, uintptr(i)) = p
	}
	return vaddr, nil
}

// freeLarge unmaps and releases every page the allocation covers,
// unlinks its header from the global list, and frees the header block
// itself. A missing header or a header whose magic has been stomped is
// logged and the heap is left unchanged.
func (h *Heap) freeLarge(ptr uintptr) error {
	hdrAddr := h.findLarge(ptr)
	if hdrAddr == 0 {
		serial.Logf(h.Sink, "KALLOC: no large allocation at address\n")
		return ErrLargeNotFound
	}
	hdr := largeHeaderAt(hdrAddr)
	if hdr.magic != largeMagic {
		serial.Logf(h.Sink, "KALLOC: corrupt large allocation header\n")
		return ErrCorruptLargeHeader
	}

	for i := uintptr(0); i < hdr.numPages; i++ {
		va := hdr.vaddr + i*mem.PGSIZE
		p := *physAddrPtr(hdrAddr, i)
		h.AS.Unmap(va)
		h.PMM.Free(h.PMM.HHDM.ToVirt(p))
	}

	unlinkLarge(&h.large, hdrAddr)
	h.Free(hdrAddr)
	return nil
}

func unlinkLarge(head *uintptr, target uintptr) {
	if *head == target {
		*head = largeHeaderAt(target).next
		return
	}
	for hdr := *head; hdr != 0; hdr = largeHeaderAt(hdr).next {
		lh := largeHeaderAt(hdr)
		if lh.next == target {
			lh.next = largeHeaderAt(target).next
			return
		}
	}
}
