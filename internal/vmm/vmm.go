// Package vmm installs, walks and mutates the 4-level x86-64 page tables
// that sit on top of the bootloader-prepared PML4. It never allocates a
// page table eagerly; intermediate levels are created lazily by Map, and
// Unmap never frees them.
package vmm

import (
	"errors"

	"github.com/lithium-os/lithium/internal/mem"
	"github.com/lithium-os/lithium/internal/serial"
)

// ErrUnmapMiss is returned by Unmap when the walk encounters an absent
// intermediate table before reaching the leaf.
var ErrUnmapMiss = errors.New("vmm: address not mapped")

// indices decomposes a virtual address into its four 9-bit page-table
// indices: [pml4=47:39][pdpt=38:30][pd=29:21][pt=20:12].
func indices(vaddr uintptr) (pml4, pdpt, pd, pt int) {
	pml4 = int((vaddr >> 39) & 0x1FF)
	pdpt = int((vaddr >> 30) & 0x1FF)
	pd = int((vaddr >> 21) & 0x1FF)
	pt = int((vaddr >> 12) & 0x1FF)
	return
}

// AddressSpace is one 4-level page-table hierarchy rooted at a PML4
// table. Map takes the *mem.PMM to source fresh table pages from; Unmap
// never allocates and takes none.
type AddressSpace struct {
	Root mem.Pa_t
	HHDM *mem.HHDM
	Sink serial.Sink
}

// New builds a fresh, all-zero address space by allocating one page from
// pmm to serve as its PML4.
func New(pmm *mem.PMM, hhdm *mem.HHDM) (*AddressSpace, bool) {
	v, ok := pmm.Alloc()
	if !ok {
		return nil, false
	}
	tbl := (*mem.Table)(ptrFromVirt(v))
	for i := range tbl {
		tbl[i] = 0
	}
	return &AddressSpace{Root: hhdm.ToPhys(v), HHDM: hhdm}, true
}

// FromRoot wraps an already-populated hierarchy, in practice the
// bootloader-prepared PML4 whose physical base was read from CR3.
func FromRoot(root mem.Pa_t, hhdm *mem.HHDM) *AddressSpace {
	return &AddressSpace{Root: root & mem.PTE_ADDR, HHDM: hhdm}
}

// CurrentRoot returns the PML4 physical base currently held in CR3,
// masked down to its address bits, or 0 when no CR3 hook is wired
// (hosted builds, which have no meaningful CR3).
func CurrentRoot() mem.Pa_t {
	return mem.Pa_t(readCR3()) & mem.PTE_ADDR
}

// tableOrCreate returns the HHDM-mapped pointer to the child table named
// by entry parent[index], allocating and zero-filling a fresh page via
// pmm if absent. The parent entry, when freshly installed, always gets
// PRESENT|WRITE regardless of the leaf's eventual flags; permission
// enforcement happens at the leaf, not the intermediate levels.
func (as *AddressSpace) tableOrCreate(parent *mem.Table, index int, pmm *mem.PMM) *mem.Table {
	entry := parent[index]
	if entry&mem.PTE_P != 0 {
		return as.HHDM.TableAt(mem.Pa_t(entry & mem.PTE_ADDR))
	}
	v, ok := pmm.Alloc()
	if !ok {
		return nil
	}
	child := (*mem.Table)(ptrFromVirt(v))
	for i := range child {
		child[i] = 0
	}
	parent[index] = as.HHDM.ToPhys(v)&mem.PTE_ADDR | mem.PTE_P | mem.PTE_W
	return child
}

// tableOrNil is tableOrCreate's read-only sibling: it returns nil without
// allocating when the entry is absent. Used by Unmap and WalkAddress,
// which must never install tables.
func (as *AddressSpace) tableOrNil(parent *mem.Table, index int) *mem.Table {
	entry := parent[index]
	if entry&mem.PTE_P == 0 {
		return nil
	}
	return as.HHDM.TableAt(mem.Pa_t(entry & mem.PTE_ADDR))
}

// Map installs a 4KiB mapping vaddr -> phys with the given flags
// (a caller-supplied combination of mem.PTE_W, mem.PTE_U, mem.PTE_NX;
// mem.PTE_P is forced on). Any absent intermediate table is allocated via
// pmm. Overwriting an existing non-null leaf is permitted and silent.
// Returns false iff pmm is exhausted while building an intermediate
// table.
func (as *AddressSpace) Map(pmm *mem.PMM, vaddr uintptr, phys mem.Pa_t, flags mem.Pa_t) bool {
	pml4i, pdpti, pdi, pti := indices(vaddr)

	pml4 := as.HHDM.TableAt(as.Root)
	pdpt := as.tableOrCreate(pml4, pml4i, pmm)
	if pdpt == nil {
		return false
	}
	pd := as.tableOrCreate(pdpt, pdpti, pmm)
	if pd == nil {
		return false
	}
	pt := as.tableOrCreate(pd, pdi, pmm)
	if pt == nil {
		return false
	}

	pt[pti] = phys&mem.PTE_ADDR | flags | mem.PTE_P
	invalidate(vaddr)
	return true
}

// Unmap walks existing tables without allocating. It returns ErrUnmapMiss
// as soon as any parent entry is absent; otherwise it clears the leaf,
// flushes the TLB for vaddr, and returns nil. Emptied intermediate tables
// are never freed.
func (as *AddressSpace) Unmap(vaddr uintptr) error {
	pml4i, pdpti, pdi, pti := indices(vaddr)

	pml4 := as.HHDM.TableAt(as.Root)
	pdpt := as.tableOrNil(pml4, pml4i)
	if pdpt == nil {
		return ErrUnmapMiss
	}
	pd := as.tableOrNil(pdpt, pdpti)
	if pd == nil {
		return ErrUnmapMiss
	}
	pt := as.tableOrNil(pd, pdi)
	if pt == nil {
		return ErrUnmapMiss
	}
	pt[pti] = 0
	invalidate(vaddr)
	return nil
}

// Translate walks the hierarchy for vaddr and returns the terminal
// physical address (splicing vaddr's low-order offset bits onto the
// leaf's frame) along with whether the address is mapped at all. It
// recognizes huge-page terminals: a present PDPT entry with PTE_PS stops
// at a 1GiB granule, a present PD entry with PTE_PS stops at a 2MiB
// granule.
func (as *AddressSpace) Translate(vaddr uintptr) (phys uintptr, ok bool) {
	pml4i, pdpti, pdi, pti := indices(vaddr)

	pml4 := as.HHDM.TableAt(as.Root)
	pml4e := pml4[pml4i]
	if pml4e&mem.PTE_P == 0 {
		return 0, false
	}

	pdpt := as.HHDM.TableAt(mem.Pa_t(pml4e & mem.PTE_ADDR))
	pdpte := pdpt[pdpti]
	if pdpte&mem.PTE_P == 0 {
		return 0, false
	}
	if pdpte&mem.PTE_PS != 0 {
		frame := uintptr(pdpte & mem.PTE_ADDR)
		return frame | (vaddr & (1<<30 - 1)), true
	}

	pd := as.HHDM.TableAt(mem.Pa_t(pdpte & mem.PTE_ADDR))
	pde := pd[pdi]
	if pde&mem.PTE_P == 0 {
		return 0, false
	}
	if pde&mem.PTE_PS != 0 {
		frame := uintptr(pde & mem.PTE_ADDR)
		return frame | (vaddr & (1<<21 - 1)), true
	}

	pt := as.HHDM.TableAt(mem.Pa_t(pde & mem.PTE_ADDR))
	pte := pt[pti]
	if pte&mem.PTE_P == 0 {
		return 0, false
	}
	frame := uintptr(pte & mem.PTE_ADDR)
	return frame | (vaddr & mem.PGOFFSET), true
}
