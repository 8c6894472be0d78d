// Package diagx is a boot-time diagnostic: it decodes x86-64 machine
// code so the kernel can confirm the image the loader handed it starts
// with a valid instruction stream, and print what that stream is.
package diagx

import (
	"errors"

	"golang.org/x/arch/x86/x86asm"

	"github.com/lithium-os/lithium/internal/serial"
)

// ErrBadInstruction reports bytes that do not decode as x86-64 code.
var ErrBadInstruction = errors.New("diagx: not a valid x86-64 instruction")

// DumpInstruction decodes the first instruction in code, writes its
// Intel-syntax disassembly to sink, and returns the instruction's
// length in bytes. Diagnostic only; never called on allocation paths.
func DumpInstruction(code []byte, sink serial.Sink) (int, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		serial.Logf(sink, "diagx: undecodable instruction bytes\n")
		return 0, ErrBadInstruction
	}
	serial.Logf(sink, x86asm.IntelSyntax(inst, 0, nil))
	serial.Logf(sink, "\n")
	return inst.Len, nil
}

// CheckImage decodes up to n instructions from the start of code,
// logging each one. It stops early, without error, when code runs out
// mid-stream; it fails on the first byte sequence that is not a valid
// instruction.
func CheckImage(code []byte, n int, sink serial.Sink) error {
	off := 0
	for i := 0; i < n && off < len(code); i++ {
		length, err := DumpInstruction(code[off:], sink)
		if err != nil {
			return err
		}
		off += length
	}
	return nil
}
