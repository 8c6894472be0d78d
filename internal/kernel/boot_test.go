package kernel

import (
	"errors"
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"github.com/lithium-os/lithium/internal/boot"
	"github.com/lithium-os/lithium/internal/mem"
	"github.com/lithium-os/lithium/internal/serial"
)

// push rbp; mov rbp, rsp: stands in for the kernel image's entry bytes.
var entryCode = [16]byte{0x55, 0x48, 0x89, 0xE5, 0xC3}

// hostBoot builds a complete synthetic machine: a []byte standing in for
// physical RAM, an HHDM offset anchored at its start, a fake kernel
// image, and a page-aligned heap arena.
func hostBoot(t *testing.T, pages int) (boot.Info, uintptr) {
	t.Helper()
	backing := make([]byte, pages*int(mem.PGSIZE))
	arena := make([]byte, (pages+1)*int(mem.PGSIZE))
	code := new([16]byte)
	*code = entryCode
	t.Cleanup(func() {
		runtime.KeepAlive(backing)
		runtime.KeepAlive(arena)
		runtime.KeepAlive(code)
	})

	info := boot.Info{
		Memmap: &boot.MemmapResponse{Entries: []mem.MemoryMapEntry{
			{Base: 0, Length: uint64(pages) * uint64(mem.PGSIZE), Kind: mem.Usable},
		}},
		HHDM:     &boot.HHDMResponse{Offset: uintptr(unsafe.Pointer(&backing[0]))},
		ExecAddr: &boot.ExecAddrResponse{PhysicalBase: 0x20_0000, VirtualBase: uintptr(unsafe.Pointer(&code[0]))},
	}
	return info, mem.RoundPageUp(uintptr(unsafe.Pointer(&arena[0])))
}

func TestBootBringsUpWorkingHeap(t *testing.T) {
	info, heapBase := hostBoot(t, 256)
	buf := serial.NewBuffer()

	sys, err := BootAt(info, buf, heapBase)
	if err != nil {
		t.Fatalf("BootAt: %v\nlog:\n%s", err, buf.String())
	}

	out := buf.String()
	for _, want := range []string{
		"Welcome to Lithium!",
		"HHDM offset:",
		"PMM: ready",
		"KALLOC: heap ready",
		"kmalloc self-test passed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("boot log missing %q:\n%s", want, out)
		}
	}

	ptr := sys.Heap.Alloc(64)
	if ptr == 0 {
		t.Fatalf("heap unusable after boot")
	}
	sys.Heap.Free(ptr)

	if _, free := sys.PMM.Stats(); free == 0 {
		t.Errorf("PMM reports no free pages after boot")
	}
}

func TestBootRefusesMissingResponse(t *testing.T) {
	info, heapBase := hostBoot(t, 16)
	info.Memmap = nil
	buf := serial.NewBuffer()

	if _, err := BootAt(info, buf, heapBase); !errors.Is(err, boot.ErrMissingBootInput) {
		t.Fatalf("BootAt with no memmap = %v, want ErrMissingBootInput", err)
	}
	if !strings.Contains(buf.String(), "PANIC: Missing responses!") {
		t.Errorf("boot log missing panic line:\n%s", buf.String())
	}
}

func TestBootLogsImageCheck(t *testing.T) {
	info, heapBase := hostBoot(t, 64)
	buf := serial.NewBuffer()

	if _, err := BootAt(info, buf, heapBase); err != nil {
		t.Fatalf("BootAt: %v", err)
	}
	if out := strings.ToLower(buf.String()); !strings.Contains(out, "push") {
		t.Errorf("boot log missing disassembled entry instruction:\n%s", buf.String())
	}
}
