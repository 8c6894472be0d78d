package mem

import (
	"unsafe"

	"github.com/lithium-os/lithium/internal/serial"
)

// PMM is the physical page allocator. It owns every usable physical page
// handed to it at Init and lends them out one at a time; a page is either
// free (threaded on the LIFO freelist below) or owned by whoever last
// received it from Alloc.
//
// Representation: the first 8 bytes of a free page's HHDM image hold
// the HHDM virtual address of the next free page, or 0 for the end of
// the list. There is no side bitmap or accounting array: freelist
// writes only touch pages the allocator owns, and with no sharing and
// no SMP nothing here needs per-page state beyond the link.
type PMM struct {
	HHDM HHDM

	head       uintptr // HHDM virtual address of first free page, 0 if empty
	totalPages uint64
	freePages  uint64

	Sink serial.Sink
}

// Init consumes the memory map once. For every Usable entry it rounds the
// region to page granularity and pushes each resulting frame onto the
// freelist, in map order and in ascending address order within each
// entry (so the first Usable region's first page ends up at the tail of
// the LIFO list and the last Usable region's last page at the head).
func (p *PMM) Init(entries []MemoryMapEntry, hhdmOffset uintptr) {
	p.HHDM.Set(hhdmOffset)
	serial.Logf(p.Sink, "PMM: initializing\n")

	for _, e := range entries {
		if e.Kind != Usable {
			continue
		}
		base := RoundPageUp(uintptr(e.Base))
		end := RoundPageDown(uintptr(e.Base + e.Length))
		for page := base; page+PGSIZE <= end; page += PGSIZE {
			p.addFree(Pa_t(page))
		}
	}

	serial.Logf(p.Sink, "PMM: ready, ")
	if p.Sink != nil {
		p.Sink.PutDec(p.freePages)
		p.Sink.PutStr(" / ")
		p.Sink.PutDec(p.totalPages)
		p.Sink.PutStr(" pages free\n")
	}
}

// addFree pushes p onto the freelist during Init, growing both
// counters. This is the only path that changes totalPages, so the total
// reflects only pages ever inserted, not a hardware total.
func (p *PMM) addFree(phys Pa_t) {
	v := p.HHDM.ToVirt(phys)
	next := (*uintptr)(unsafe.Pointer(v))
	*next = p.head
	p.head = v
	p.freePages++
	p.totalPages++
}

// Alloc pops the head of the freelist and returns its HHDM virtual
// address. ok is false iff the freelist is empty; contents of the
// returned page are undefined. O(1).
func (p *PMM) Alloc() (virt uintptr, ok bool) {
	if p.head == 0 {
		serial.Logf(p.Sink, "PMM: out of memory\n")
		return 0, false
	}
	v := p.head
	next := (*uintptr)(unsafe.Pointer(v))
	p.head = *next
	p.freePages--
	return v, true
}

// Free pushes the page identified by its HHDM virtual address back onto
// the freelist. virt == 0 is a no-op. O(1). Double-free is unchecked;
// it corrupts the freelist, and callers must not do it.
func (p *PMM) Free(virt uintptr) {
	if virt == 0 {
		return
	}
	next := (*uintptr)(unsafe.Pointer(virt))
	*next = p.head
	p.head = virt
	p.freePages++
}

// Stats reports the total pages ever inserted and the number currently
// free.
func (p *PMM) Stats() (total, free uint64) {
	return p.totalPages, p.freePages
}
