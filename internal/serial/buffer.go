package serial

import "strings"

// Buffer is an in-memory Sink used by tests and by any hosted build that
// wants boot diagnostics without real hardware. It never blocks and never
// panics, unlike COM1.
type Buffer struct {
	b strings.Builder
}

// NewBuffer returns an empty Buffer sink.
func NewBuffer() *Buffer { return &Buffer{} }

func (b *Buffer) PutChar(c byte)  { b.b.WriteByte(c) }
func (b *Buffer) PutStr(s string) { b.b.WriteString(s) }
func (b *Buffer) PutHex(v uint64) { putHex(b, v) }
func (b *Buffer) PutDec(v uint64) { putDec(b, v) }

// String returns everything written so far.
func (b *Buffer) String() string { return b.b.String() }

// Reset discards all buffered output.
func (b *Buffer) Reset() { b.b.Reset() }
