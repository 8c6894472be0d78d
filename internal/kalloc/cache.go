// Package kalloc is the kernel heap allocator: a SLAB allocator for
// objects up to 4096 bytes, and a large-allocation path above that,
// both layered on top of internal/mem's PMM and internal/vmm's
// AddressSpace.
package kalloc

import (
	"errors"
	"unsafe"

	"github.com/lithium-os/lithium/internal/mem"
	"github.com/lithium-os/lithium/internal/serial"
	"github.com/lithium-os/lithium/internal/util"
)

// ErrCacheMismatch is returned (and logged) when kmem_cache_free is
// handed a pointer whose enclosing slab belongs to a different cache.
var ErrCacheMismatch = errors.New("kalloc: pointer belongs to a different cache")

// cacheSizes is the fixed object-size schedule.
var cacheSizes = [...]uintptr{16, 32, 64, 128, 256, 512, 1024, 2048, 3072, 4096}

// NumCaches is kept equal to len(cacheSizes). Sizing the cache array
// any larger would leave zero-size caches that divide by zero the
// moment anything touches them.
const NumCaches = len(cacheSizes)

// slabHeader is the metadata block stored at offset 0 of every slab
// page. Pointer-valued fields are kept as uintptr rather than Go
// pointers/unsafe.Pointer: the page that holds this header is plain
// heap memory reached through the HHDM/heap mapping, not a location
// the Go garbage collector is ever told to scan, so an actual
// *kmemCache field would be unsound. Colocating the header with the
// objects is what lets slabBaseOf recover a slab from a bare pointer
// with a mask instead of a lookup structure.
type slabHeader struct {
	cache      uintptr // *kmemCache, see note above
	freelist   uintptr // address of first free object, 0 == none
	freeCount  int32
	totalCount int32
	next       uintptr // next slab in whichever of partial/full owns this one
	physAddr   mem.Pa_t
}

var slabHeaderSize = util.Roundup(unsafe.Sizeof(slabHeader{}), 16)

func slabAt(addr uintptr) *slabHeader {
	return (*slabHeader)(unsafe.Pointer(addr))
}

// slabBaseOf recovers a slab's page address from any pointer inside it:
// every sub-page allocation lives in a slab whose header occupies the
// start of its own page, so masking off the low 12 bits always lands
// on the header.
func slabBaseOf(ptr uintptr) uintptr {
	return ptr &^ (mem.PGSIZE - 1)
}

// kmemCache is a collection of slabs dedicated to one object size.
type kmemCache struct {
	name           string
	objectSize     uintptr
	objectsPerSlab uintptr
	partial        uintptr // address of first slab header on the partial list, 0 == none
	full           uintptr // address of first slab header on the full list, 0 == none
}

func (c *kmemCache) init(name string, objectSize uintptr) {
	c.name = name
	c.objectSize = objectSize
	perSlab := (mem.PGSIZE - slabHeaderSize) / objectSize
	if perSlab < 1 {
		perSlab = 1
	}
	c.objectsPerSlab = perSlab
}

// createSlab reserves one heap page, writes its header, and threads the
// intrusive object freelist.
func (h *Heap) createSlab(c *kmemCache) (uintptr, bool) {
	vaddr, phys, ok := h.allocPages(1)
	if !ok {
		return 0, false
	}

	sh := slabAt(vaddr)
	sh.cache = uintptr(unsafe.Pointer(c))
	sh.totalCount = int32(c.objectsPerSlab)
	sh.freeCount = int32(c.objectsPerSlab)
	sh.next = 0
	sh.physAddr = phys[0]

	objectsStart := vaddr + slabHeaderSize
	for i := uintptr(0); i < c.objectsPerSlab; i++ {
		obj := objectsStart + i*c.objectSize
		next := (*uintptr)(unsafe.Pointer(obj))
		if i+1 < c.objectsPerSlab {
			*next = obj + c.objectSize
		} else {
			*next = 0
		}
	}
	sh.freelist = objectsStart
	return vaddr, true
}

// cacheAlloc hands out one object, creating a slab when no partial one
// exists and moving a slab that just ran dry onto the full list.
// Object contents are undefined.
func (h *Heap) cacheAlloc(c *kmemCache) (uintptr, bool) {
	if c.partial == 0 {
		slab, ok := h.createSlab(c)
		if !ok {
			return 0, false
		}
		c.partial = slab
	}

	slab := c.partial
	sh := slabAt(slab)
	obj := sh.freelist
	sh.freelist = *(*uintptr)(unsafe.Pointer(obj))
	sh.freeCount--

	if sh.freeCount == 0 {
		c.partial = sh.next
		sh.next = c.full
		c.full = slab
	}
	return obj, true
}

// cacheFree returns an object to its slab, moving the slab back to
// partial when it was full. A slab that becomes entirely free is
// destroyed only if another empty slab already sits on the partial
// list; one empty slab is always retained as a reserve.
func (h *Heap) cacheFree(c *kmemCache, ptr uintptr) error {
	slab := slabBaseOf(ptr)
	sh := slabAt(slab)
	if sh.cache != uintptr(unsafe.Pointer(c)) {
		serial.Logf(h.Sink, "kalloc: cache mismatch on free\n")
		return ErrCacheMismatch
	}

	wasFull := sh.freeCount == 0
	*(*uintptr)(unsafe.Pointer(ptr)) = sh.freelist
	sh.freelist = ptr
	sh.freeCount++

	if wasFull {
		unlinkSlab(&c.full, slab)
		sh.next = c.partial
		c.partial = slab
	}

	if int(sh.freeCount) == int(sh.totalCount) {
		empty := 0
		for s := c.partial; s != 0; s = slabAt(s).next {
			if es := slabAt(s); int(es.freeCount) == int(es.totalCount) {
				empty++
			}
		}
		if empty > 1 {
			h.destroySlab(c, slab)
		}
	}
	return nil
}

// unlinkSlab removes target from the singly-linked list rooted at
// *head, scanning for it.
func unlinkSlab(head *uintptr, target uintptr) {
	if *head == target {
		*head = slabAt(target).next
		return
	}
	for s := *head; s != 0; s = slabAt(s).next {
		sh := slabAt(s)
		if sh.next == target {
			sh.next = slabAt(target).next
			return
		}
	}
}

// destroySlab unlinks the slab from partial, unmaps its page, and
// returns the physical frame to the PMM. The heap virtual address is
// not reclaimed.
func (h *Heap) destroySlab(c *kmemCache, slab uintptr) {
	unlinkSlab(&c.partial, slab)
	phys := slabAt(slab).physAddr // read before the mapping goes away
	h.AS.Unmap(slab)
	h.PMM.Free(h.PMM.HHDM.ToVirt(phys))
}
