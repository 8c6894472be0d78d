package vmm

import (
	"github.com/lithium-os/lithium/internal/mem"
	"github.com/lithium-os/lithium/internal/serial"
)

func dumpEntry(sink serial.Sink, level string, index int, entry mem.Pa_t) {
	if entry&mem.PTE_P == 0 {
		return
	}
	sink.PutStr("  ")
	sink.PutStr(level)
	sink.PutStr("[")
	sink.PutDec(uint64(index))
	sink.PutStr("] -> ")
	sink.PutHex(uint64(entry & mem.PTE_ADDR))
	sink.PutStr(" [")
	if entry&mem.PTE_P != 0 {
		sink.PutStr("P")
	}
	if entry&mem.PTE_W != 0 {
		sink.PutStr("W")
	}
	if entry&mem.PTE_U != 0 {
		sink.PutStr("U")
	}
	if entry&mem.PTE_PS != 0 {
		sink.PutStr("H")
	}
	if entry&mem.PTE_NX != 0 {
		sink.PutStr("NX")
	}
	sink.PutStr("]\n")
}

// WalkAddress is the diagnostic walk: it prints every level's entry as
// it descends, recognizing huge-page terminals, and reports whether
// vaddr ends up mapped.
func (as *AddressSpace) WalkAddress(vaddr uintptr, sink serial.Sink) {
	if sink == nil {
		return
	}
	pml4i, pdpti, pdi, pti := indices(vaddr)

	sink.PutStr("\nWalking page tables for virtual address: ")
	sink.PutHex(uint64(vaddr))
	sink.PutStr("\n")

	pml4 := as.HHDM.TableAt(as.Root)
	pml4e := pml4[pml4i]
	dumpEntry(sink, "PML4", pml4i, pml4e)
	if pml4e&mem.PTE_P == 0 {
		sink.PutStr("  -> NOT MAPPED (PML4 not present)\n")
		return
	}

	pdpt := as.HHDM.TableAt(mem.Pa_t(pml4e & mem.PTE_ADDR))
	pdpte := pdpt[pdpti]
	dumpEntry(sink, "PDPT", pdpti, pdpte)
	if pdpte&mem.PTE_P == 0 {
		sink.PutStr("  -> NOT MAPPED (PDPT not present)\n")
		return
	}
	if pdpte&mem.PTE_PS != 0 {
		sink.PutStr("  -> 1GB HUGE PAGE\n")
		return
	}

	pd := as.HHDM.TableAt(mem.Pa_t(pdpte & mem.PTE_ADDR))
	pde := pd[pdi]
	dumpEntry(sink, "PD  ", pdi, pde)
	if pde&mem.PTE_P == 0 {
		sink.PutStr("  -> NOT MAPPED (PD not present)\n")
		return
	}
	if pde&mem.PTE_PS != 0 {
		sink.PutStr("  -> 2MB HUGE PAGE\n")
		return
	}

	pt := as.HHDM.TableAt(mem.Pa_t(pde & mem.PTE_ADDR))
	pte := pt[pti]
	dumpEntry(sink, "PT  ", pti, pte)
	if pte&mem.PTE_P == 0 {
		sink.PutStr("  -> NOT MAPPED (PT not present)\n")
		return
	}
	phys := uint64(pte&mem.PTE_ADDR) + uint64(vaddr&mem.PGOFFSET)
	sink.PutStr("  -> MAPPED to physical: ")
	sink.PutHex(phys)
	sink.PutStr("\n")
}

// DumpPML4 enumerates the 512 PML4 entries, sign-extending the virtual
// range for indices >= 256 into its canonical form.
func (as *AddressSpace) DumpPML4(sink serial.Sink) {
	if sink == nil {
		return
	}
	pml4 := as.HHDM.TableAt(as.Root)

	sink.PutStr("\n=== PML4 Table Dump ===\n")
	sink.PutStr("Root (PML4 physical): ")
	sink.PutHex(uint64(as.Root))
	sink.PutStr("\n\n")

	for i, entry := range pml4 {
		if entry&mem.PTE_P == 0 {
			continue
		}
		vbase := uint64(i) << 39
		if i >= 256 {
			vbase |= 0xFFFF_0000_0000_0000
		}
		sink.PutStr("PML4[")
		sink.PutDec(uint64(i))
		sink.PutStr("] -> Virtual range: ")
		sink.PutHex(vbase)
		sink.PutStr(" - ")
		sink.PutHex(vbase + (1 << 39) - 1)
		sink.PutStr(" -> ")
		sink.PutHex(uint64(entry & mem.PTE_ADDR))
		sink.PutStr(" [")
		if entry&mem.PTE_W != 0 {
			sink.PutStr("W")
		}
		if entry&mem.PTE_U != 0 {
			sink.PutStr("U")
		}
		if entry&mem.PTE_NX != 0 {
			sink.PutStr("NX")
		}
		sink.PutStr("]\n")
	}
}
