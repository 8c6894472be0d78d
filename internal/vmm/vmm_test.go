package vmm

import (
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"github.com/lithium-os/lithium/internal/mem"
	"github.com/lithium-os/lithium/internal/serial"
)

// hostSpace builds a PMM backed by a host []byte "physical memory" and a
// fresh AddressSpace rooted in it. The slice is kept alive for the
// whole test because the page tables reach it only through raw
// addresses.
func hostSpace(t *testing.T, pages int) (*mem.PMM, *AddressSpace) {
	t.Helper()
	backing := make([]byte, pages*int(mem.PGSIZE))
	t.Cleanup(func() { runtime.KeepAlive(backing) })
	hhdmOffset := uintptr(unsafe.Pointer(&backing[0]))

	p := &mem.PMM{}
	p.Init([]mem.MemoryMapEntry{{Base: 0, Length: uint64(pages) * uint64(mem.PGSIZE), Kind: mem.Usable}}, hhdmOffset)

	as, ok := New(p, &p.HHDM)
	if !ok {
		t.Fatalf("New: out of memory building root table")
	}
	return p, as
}

func TestMapUnmapRoundTrip(t *testing.T) {
	p, as := hostSpace(t, 64)

	physPage, ok := p.Alloc()
	if !ok {
		t.Fatalf("alloc backing frame failed")
	}
	phys := p.HHDM.ToPhys(physPage)

	const vaddr = uintptr(0x0000_1234_5000)
	if !as.Map(p, vaddr, phys, mem.PTE_W) {
		t.Fatalf("Map failed")
	}

	got, ok := as.Translate(vaddr)
	if !ok {
		t.Fatalf("Translate: expected mapped")
	}
	if got != uintptr(phys) {
		t.Errorf("Translate = %#x, want %#x", got, phys)
	}

	if err := as.Unmap(vaddr); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, ok := as.Translate(vaddr); ok {
		t.Errorf("Translate after Unmap: expected not-mapped")
	}
}

func TestUnmapMissOnUnmappedAddress(t *testing.T) {
	_, as := hostSpace(t, 16)
	if err := as.Unmap(0x7fff_0000_0000); err != ErrUnmapMiss {
		t.Fatalf("Unmap on never-mapped address = %v, want ErrUnmapMiss", err)
	}
}

func TestMapPreservesOffsetBits(t *testing.T) {
	p, as := hostSpace(t, 64)
	physPage, _ := p.Alloc()
	phys := p.HHDM.ToPhys(physPage)

	const vaddr = uintptr(0x2000_0000_1000)
	as.Map(p, vaddr, phys, mem.PTE_W)

	got, ok := as.Translate(vaddr + 0x42)
	if !ok {
		t.Fatalf("expected mapped")
	}
	if want := uintptr(phys) + 0x42; got != want {
		t.Errorf("Translate(vaddr+0x42) = %#x, want %#x", got, want)
	}
}

func TestOverwriteExistingMappingIsSilent(t *testing.T) {
	p, as := hostSpace(t, 64)
	page1, _ := p.Alloc()
	page2, _ := p.Alloc()
	phys1 := p.HHDM.ToPhys(page1)
	phys2 := p.HHDM.ToPhys(page2)

	const vaddr = uintptr(0x3000_0000_0000)
	if !as.Map(p, vaddr, phys1, mem.PTE_W) {
		t.Fatalf("first map failed")
	}
	if !as.Map(p, vaddr, phys2, mem.PTE_W) {
		t.Fatalf("overwrite map failed")
	}
	got, _ := as.Translate(vaddr)
	if got != uintptr(phys2) {
		t.Errorf("Translate after overwrite = %#x, want %#x", got, phys2)
	}
}

func TestDumpPML4ListsInstalledEntries(t *testing.T) {
	p, as := hostSpace(t, 64)
	phys, _ := p.Alloc()
	as.Map(p, 0x1000, p.HHDM.ToPhys(phys), mem.PTE_W)

	buf := serial.NewBuffer()
	as.DumpPML4(buf)
	if buf.String() == "" {
		t.Fatalf("DumpPML4 produced no output")
	}
}

func TestWalkAddressReportsUnmapped(t *testing.T) {
	_, as := hostSpace(t, 16)
	buf := serial.NewBuffer()
	as.WalkAddress(0x99_0000_0000, buf)
	if !strings.Contains(buf.String(), "NOT MAPPED") {
		t.Errorf("WalkAddress on unmapped address: output = %q, want to contain NOT MAPPED", buf.String())
	}
}

func TestWalkAddressReportsMapped(t *testing.T) {
	p, as := hostSpace(t, 64)
	phys, _ := p.Alloc()
	const vaddr = uintptr(0x4000_0000)
	as.Map(p, vaddr, p.HHDM.ToPhys(phys), mem.PTE_W)

	buf := serial.NewBuffer()
	as.WalkAddress(vaddr, buf)
	if !strings.Contains(buf.String(), "MAPPED to physical") {
		t.Errorf("WalkAddress on mapped address: output = %q, want to contain MAPPED to physical", buf.String())
	}
}
