package diagx

import (
	"strings"
	"testing"

	"github.com/lithium-os/lithium/internal/serial"
)

// A conventional function prologue: push rbp; mov rbp, rsp.
var prologue = []byte{0x55, 0x48, 0x89, 0xE5}

func TestDumpInstruction(t *testing.T) {
	buf := serial.NewBuffer()
	n, err := DumpInstruction(prologue, buf)
	if err != nil {
		t.Fatalf("DumpInstruction: %v", err)
	}
	if n != 1 {
		t.Errorf("instruction length = %d, want 1 (push rbp)", n)
	}
	if out := strings.ToLower(buf.String()); !strings.Contains(out, "push") {
		t.Errorf("disassembly = %q, want a push", buf.String())
	}
}

func TestDumpInstructionRejectsGarbage(t *testing.T) {
	// 0x06 is invalid in 64-bit mode (push es was dropped).
	if _, err := DumpInstruction([]byte{0x06}, nil); err != ErrBadInstruction {
		t.Fatalf("DumpInstruction(garbage) = %v, want ErrBadInstruction", err)
	}
}

func TestCheckImageWalksStream(t *testing.T) {
	buf := serial.NewBuffer()
	if err := CheckImage(prologue, 2, buf); err != nil {
		t.Fatalf("CheckImage: %v", err)
	}
	out := strings.ToLower(buf.String())
	if !strings.Contains(out, "push") || !strings.Contains(out, "mov") {
		t.Errorf("CheckImage output = %q, want push and mov", buf.String())
	}
}

func TestCheckImageStopsAtEnd(t *testing.T) {
	if err := CheckImage(prologue, 100, nil); err != nil {
		t.Fatalf("CheckImage past end of code: %v", err)
	}
}
