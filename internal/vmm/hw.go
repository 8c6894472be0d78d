package vmm

import "unsafe"

func ptrFromVirt(v uintptr) unsafe.Pointer {
	return unsafe.Pointer(v)
}

// invalidate issues `invlpg vaddr`, loadCR3 writes phys into CR3, and
// readCR3 reads it back: the three hardware primitives this package
// needs. All are plain function variables rather than assembly-backed
// declared functions, so a hosted `go test` run, which links no such
// assembly, gets a harmless default instead of a link error. The real
// freestanding target installs assembly implementations via
// SetHardwareHooks; the defaults are correct for tests, which drive
// AddressSpace.Translate/Map/Unmap directly and never rely on hardware
// actually honoring CR3 or the TLB.
var (
	invalidate = func(vaddr uintptr) {}
	loadCR3    = func(phys uintptr) {}
	readCR3    = func() uintptr { return 0 }
)

// SetHardwareHooks lets the real entry point (cmd/kernel) wire assembly-
// backed invlpg/CR3 primitives. A test that wants to observe calls (e.g.
// confirming Map/Unmap issue exactly one flush) can also substitute
// recording functions here. Nil leaves a hook at its current value.
func SetHardwareHooks(invlpg func(uintptr), storeCR3 func(uintptr), loadCurrentCR3 func() uintptr) {
	if invlpg != nil {
		invalidate = invlpg
	}
	if storeCR3 != nil {
		loadCR3 = storeCR3
	}
	if loadCurrentCR3 != nil {
		readCR3 = loadCurrentCR3
	}
}
