// Package cpufeat probes for the CPU features the memory-management
// core depends on: NX, 1GiB pages and global pages, none of which
// golang.org/x/sys/cpu's X86 struct exposes directly (it is built
// mostly around SIMD feature flags). Those three still need the raw
// CPUID leaf 0x80000001 read; general-purpose flags the rest of the
// kernel might want for diagnostics come straight from x/sys/cpu.
package cpufeat

import "golang.org/x/sys/cpu"

// Features records the subset of CPUID output the memory-management
// core cares about, plus a few general flags from x/sys/cpu kept for
// diagnostic logging.
type Features struct {
	NX            bool
	GigabytePages bool
	GlobalPages   bool

	SSE2   bool
	AVX2   bool
	POPCNT bool
}

// cpuidFn issues CPUID with the given leaf and subleaf. It is a
// function variable, following the hardware-hook pattern in
// internal/vmm/hw.go, so hosted tests never execute a real CPUID
// instruction; the real entry point wires an assembly implementation.
var cpuidFn = func(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32) { return 0, 0, 0, 0 }

// SetCPUIDHook lets cmd/kernel install the real CPUID instruction.
func SetCPUIDHook(fn func(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)) {
	if fn != nil {
		cpuidFn = fn
	}
}

const extendedFeatureLeaf = 0x8000_0001

// Detect reads the extended feature leaf for NX/1GiB-pages/global-pages
// and combines it with x/sys/cpu's already-detected SIMD flags.
func Detect() Features {
	_, _, _, edx := cpuidFn(extendedFeatureLeaf, 0)
	return Features{
		NX:            edx&(1<<20) != 0,
		GigabytePages: edx&(1<<26) != 0,
		GlobalPages:   edx&(1<<13) != 0,

		SSE2:   cpu.X86.HasSSE2,
		AVX2:   cpu.X86.HasAVX2,
		POPCNT: cpu.X86.HasPOPCNT,
	}
}
