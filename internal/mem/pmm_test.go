package mem

import (
	"runtime"
	"testing"
	"unsafe"
)

// hostRAM allocates a byte slice that stands in for physical memory in
// tests, and returns the HHDM offset that makes physical address physBase
// alias the start of that slice. The slice is kept alive for the whole
// test because the PMM reaches it only through raw addresses.
func hostRAM(t *testing.T, bytes int, physBase uintptr) (hhdmOffset uintptr) {
	t.Helper()
	backing := make([]byte, bytes)
	t.Cleanup(func() { runtime.KeepAlive(backing) })
	return uintptr(unsafe.Pointer(&backing[0])) - physBase
}

func TestPMM_ScenarioS1(t *testing.T) {
	hhdm := hostRAM(t, 16*int(PGSIZE), 0x10_0000)
	region := []MemoryMapEntry{{Base: 0x10_0000, Length: 4 * uint64(PGSIZE), Kind: Usable}}

	var p PMM
	p.Init(region, hhdm)

	var got [4]uintptr
	for i := range got {
		v, ok := p.Alloc()
		if !ok {
			t.Fatalf("alloc %d: expected success", i)
		}
		got[i] = v
	}
	if _, ok := p.Alloc(); ok {
		t.Fatalf("5th alloc: expected failure, freelist should be empty")
	}

	// free in reverse order
	for i := len(got) - 1; i >= 0; i-- {
		p.Free(got[i])
	}

	for i := 0; i < 4; i++ {
		v, ok := p.Alloc()
		if !ok {
			t.Fatalf("re-alloc %d: expected success", i)
		}
		if v != got[i] {
			t.Errorf("re-alloc %d = %#x, want LIFO reuse of %#x", i, v, got[i])
		}
	}
}

func TestPMM_LIFOReuse(t *testing.T) {
	hhdm := hostRAM(t, 4*int(PGSIZE), 0)
	region := []MemoryMapEntry{{Base: 0, Length: 4 * uint64(PGSIZE), Kind: Usable}}
	var p PMM
	p.Init(region, hhdm)

	v1, _ := p.Alloc()
	p.Free(v1)
	v2, _ := p.Alloc()
	if v1 != v2 {
		t.Errorf("alloc after free = %#x, want same address %#x", v2, v1)
	}
}

func TestPMM_Bijectivity(t *testing.T) {
	const n = 8
	hhdm := hostRAM(t, n*int(PGSIZE), 0)
	region := []MemoryMapEntry{{Base: 0, Length: n * uint64(PGSIZE), Kind: Usable}}
	var p PMM
	p.Init(region, hhdm)

	live := map[uintptr]bool{}
	var allocated []uintptr
	for i := 0; i < n; i++ {
		v, ok := p.Alloc()
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		if live[v] {
			t.Fatalf("address %#x allocated twice while live", v)
		}
		live[v] = true
		allocated = append(allocated, v)
	}
	if _, ok := p.Alloc(); ok {
		t.Fatalf("expected exhaustion after allocating all %d pages", n)
	}
	// free every other page, verify distinctness and reuse only of freed addrs
	for i := 0; i < n; i += 2 {
		p.Free(allocated[i])
		delete(live, allocated[i])
	}
	for i := 0; i < n/2; i++ {
		v, ok := p.Alloc()
		if !ok {
			t.Fatalf("re-alloc %d failed", i)
		}
		if live[v] {
			t.Fatalf("address %#x reallocated while still live", v)
		}
		live[v] = true
	}
}

func TestPMM_IgnoresNonUsableRegions(t *testing.T) {
	hhdm := hostRAM(t, 4*int(PGSIZE), 0)
	region := []MemoryMapEntry{
		{Base: 0, Length: uint64(PGSIZE), Kind: Reserved},
		{Base: uint64(PGSIZE), Length: uint64(PGSIZE), Kind: Usable},
	}
	var p PMM
	p.Init(region, hhdm)
	total, free := p.Stats()
	if total != 1 || free != 1 {
		t.Fatalf("Stats() = (%d, %d), want (1, 1)", total, free)
	}
}

func TestPMM_FreeNilIsNoop(t *testing.T) {
	hhdm := hostRAM(t, int(PGSIZE), 0)
	var p PMM
	p.Init([]MemoryMapEntry{{Base: 0, Length: uint64(PGSIZE), Kind: Usable}}, hhdm)
	totalBefore, freeBefore := p.Stats()
	p.Free(0)
	totalAfter, freeAfter := p.Stats()
	if totalBefore != totalAfter || freeBefore != freeAfter {
		t.Fatalf("Free(0) changed stats: (%d,%d) -> (%d,%d)", totalBefore, freeBefore, totalAfter, freeAfter)
	}
}
