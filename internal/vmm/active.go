package vmm

// Active tracks the address space most recently installed with Install.
// Any AddressSpace can be built and driven in isolation, which is what
// the tests do; the boot path installs exactly one and treats it as the
// single live hierarchy.
var Active *AddressSpace

// Install makes as the active address space and loads its root table
// into CR3 via the loadCR3 hook.
func Install(as *AddressSpace) {
	Active = as
	loadCR3(uintptr(as.Root))
}
