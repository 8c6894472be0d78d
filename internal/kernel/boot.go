// Package kernel sequences the memory core's boot: validate the
// loader's responses, bring up the physical allocator, probe CPU
// features, adopt (or build) the address space, bring up the heap,
// then run the init-time self tests.
package kernel

import (
	"errors"
	"unsafe"

	"github.com/lithium-os/lithium/internal/boot"
	"github.com/lithium-os/lithium/internal/cpufeat"
	"github.com/lithium-os/lithium/internal/diagx"
	"github.com/lithium-os/lithium/internal/kalloc"
	"github.com/lithium-os/lithium/internal/mem"
	"github.com/lithium-os/lithium/internal/serial"
	"github.com/lithium-os/lithium/internal/vmm"
)

// ErrOutOfMemory reports physical-memory exhaustion during the boot
// sequence itself.
var ErrOutOfMemory = errors.New("kernel: out of physical memory during boot")

// ErrSelfTest reports a failed init-time allocator round trip.
var ErrSelfTest = errors.New("kernel: allocator self-test failed")

// System bundles the booted memory core.
type System struct {
	PMM      *mem.PMM
	AS       *vmm.AddressSpace
	Heap     *kalloc.Heap
	Features cpufeat.Features
}

// Boot runs the full init sequence with the heap at its architectural
// window. The freestanding entry trampoline calls this after wiring the
// hardware hooks; on any error it is expected to halt the hart.
func Boot(info boot.Info, sink serial.Sink) (*System, error) {
	return BootAt(info, sink, 0)
}

// BootAt is Boot with an explicit heap base; zero selects the
// architectural window. The hosted harness (cmd/kernel's demo run and
// the package tests) passes page-aligned host memory here.
func BootAt(info boot.Info, sink serial.Sink, heapBase uintptr) (*System, error) {
	serial.Logf(sink, "\nWelcome to Lithium!\n")

	if err := info.Validate(); err != nil {
		serial.Logf(sink, "PANIC: Missing responses!\n")
		return nil, err
	}

	logLayout(info, sink)

	p := &mem.PMM{Sink: sink}
	p.Init(info.Memmap.Entries, info.HHDM.Offset)

	feats := cpufeat.Detect()
	logFeatures(feats, sink)

	// Adopt the loader-prepared PML4 when a CR3 hook is wired; hosted
	// builds have no CR3, so they get a fresh hierarchy instead.
	var as *vmm.AddressSpace
	if root := vmm.CurrentRoot(); root != 0 {
		as = vmm.FromRoot(root, &p.HHDM)
	} else {
		fresh, ok := vmm.New(p, &p.HHDM)
		if !ok {
			serial.Logf(sink, "PANIC: no memory for PML4\n")
			return nil, ErrOutOfMemory
		}
		as = fresh
	}
	as.Sink = sink
	vmm.Install(as)

	h := &kalloc.Heap{Sink: sink}
	if heapBase == 0 {
		h.Init(p, as)
	} else {
		h.InitAt(p, as, heapBase)
	}

	if err := selfTest(h, sink); err != nil {
		return nil, err
	}
	checkImage(info.ExecAddr, sink)

	return &System{PMM: p, AS: as, Heap: h, Features: feats}, nil
}

func logLayout(info boot.Info, sink serial.Sink) {
	if sink == nil {
		return
	}
	sink.PutStr("\n === Lithium Kernel Memory Layout === \n")
	sink.PutStr("HHDM offset:          ")
	sink.PutHex(uint64(info.HHDM.Offset))
	sink.PutStr("\nKernel physical base: ")
	sink.PutHex(uint64(info.ExecAddr.PhysicalBase))
	sink.PutStr("\nKernel virtual base:  ")
	sink.PutHex(uint64(info.ExecAddr.VirtualBase))
	sink.PutStr("\n\n")
}

func logFeatures(f cpufeat.Features, sink serial.Sink) {
	if sink == nil {
		return
	}
	sink.PutStr("CPU: NX=")
	sink.PutDec(b2u(f.NX))
	sink.PutStr(" 1GiB-pages=")
	sink.PutDec(b2u(f.GigabytePages))
	sink.PutStr(" global-pages=")
	sink.PutDec(b2u(f.GlobalPages))
	sink.PutStr("\n")
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// selfTest is the allocator round trip run before handing control
// onward: a couple of slab allocations, freed in reverse order.
func selfTest(h *kalloc.Heap, sink serial.Sink) error {
	p1 := h.Alloc(128)
	p2 := h.Alloc(2048)
	if p1 == 0 || p2 == 0 {
		serial.Logf(sink, "PANIC: kmalloc self-test failed\n")
		return ErrSelfTest
	}
	h.Free(p2)
	h.Free(p1)
	serial.Logf(sink, "kmalloc self-test passed\n")
	return nil
}

// checkImage disassembles the first instruction at the kernel image's
// virtual base as a sanity check that the loader mapped a real
// x86-64 instruction stream there. Diagnostic only: a decode failure is
// logged, not fatal (the image may well begin with data).
func checkImage(exec *boot.ExecAddrResponse, sink serial.Sink) {
	if exec.VirtualBase == 0 {
		return
	}
	code := unsafe.Slice((*byte)(unsafe.Pointer(exec.VirtualBase)), 16)
	serial.Logf(sink, "image check: ")
	if err := diagx.CheckImage(code, 1, sink); err != nil {
		serial.Logf(sink, "image check: undecodable entry bytes\n")
	}
}
