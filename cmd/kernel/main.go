// Command kernel boots the memory core. On real hardware the entry
// trampoline (out of scope here) jumps into kernel.Boot with the
// loader's responses and the assembly-backed hardware hooks already
// installed. Built as an ordinary host binary, it runs the same boot
// sequence against a synthetic machine, host memory standing in for
// physical RAM, so the whole path can be exercised end to end without
// a hypervisor.
package main

import (
	"os"
	"runtime"
	"unsafe"

	"github.com/lithium-os/lithium/internal/boot"
	"github.com/lithium-os/lithium/internal/kernel"
	"github.com/lithium-os/lithium/internal/mem"
	"github.com/lithium-os/lithium/internal/serial"
)

// ramPages sizes the synthetic machine's physical memory (16 MiB).
const ramPages = 4096

// entryCode stands in for the kernel image's first bytes: push rbp;
// mov rbp, rsp; ret.
var entryCode = [16]byte{0x55, 0x48, 0x89, 0xE5, 0xC3}

func main() {
	backing := make([]byte, ramPages*int(mem.PGSIZE))
	arena := make([]byte, (ramPages+1)*int(mem.PGSIZE))
	heapBase := mem.RoundPageUp(uintptr(unsafe.Pointer(&arena[0])))

	info := boot.Info{
		Memmap: &boot.MemmapResponse{Entries: []mem.MemoryMapEntry{
			{Base: 0, Length: uint64(ramPages) * uint64(mem.PGSIZE), Kind: mem.Usable},
		}},
		HHDM:     &boot.HHDMResponse{Offset: uintptr(unsafe.Pointer(&backing[0]))},
		ExecAddr: &boot.ExecAddrResponse{PhysicalBase: 0x20_0000, VirtualBase: uintptr(unsafe.Pointer(&entryCode[0]))},
	}

	buf := serial.NewBuffer()
	sys, err := kernel.BootAt(info, buf, heapBase)

	os.Stdout.WriteString(buf.String())
	if err != nil {
		os.Exit(1)
	}

	// A short demonstration workload on the booted heap.
	demo := serial.NewBuffer()
	p := sys.Heap.Alloc(3000)
	sys.AS.WalkAddress(p, demo)
	sys.Heap.Free(p)
	sys.AS.DumpPML4(demo)
	os.Stdout.WriteString(demo.String())

	runtime.KeepAlive(backing)
	runtime.KeepAlive(arena)
}
