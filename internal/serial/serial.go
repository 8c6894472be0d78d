// Package serial provides the diagnostic byte-stream sink used throughout
// the memory core for boot-time logging. It is kept as an injectable
// capability rather than a package-level global, so tests can assert on
// what was logged and the core can run silently when no sink is
// supplied.
package serial

// Sink is a byte-stream diagnostic capability. COM1, the freestanding
// implementation, writes straight to the port and never allocates, so no
// slab/large-alloc path depends on logging succeeding; Buffer, the hosted
// and test implementation, appends to a growable in-memory string.
type Sink interface {
	PutChar(c byte)
	PutStr(s string)
	PutHex(v uint64)
	PutDec(v uint64)
}

const hexDigits = "0123456789ABCDEF"

// putHex renders v as "0x" followed by its hex digits with leading zeros
// suppressed, except that zero itself prints as "0x0". Shared by every
// Sink implementation so the formatting rule lives in one place.
func putHex(s Sink, v uint64) {
	s.PutStr("0x")
	started := false
	for i := 60; i >= 0; i -= 4 {
		digit := (v >> uint(i)) & 0xF
		if digit != 0 || started || i == 0 {
			s.PutChar(hexDigits[digit])
			started = true
		}
	}
}

// putDec renders v in decimal.
func putDec(s Sink, v uint64) {
	if v == 0 {
		s.PutChar('0')
		return
	}
	var buf [20]byte
	i := 0
	for v > 0 {
		buf[i] = '0' + byte(v%10)
		v /= 10
		i++
	}
	for i > 0 {
		i--
		s.PutChar(buf[i])
	}
}

// Logf writes the plain string msg to sink, with no formatting and
// without pulling in fmt (the slab/large-alloc error paths must stay
// allocation-free). sink may be nil, in which case Logf is a no-op and
// the caller runs silently.
func Logf(sink Sink, msg string) {
	if sink == nil {
		return
	}
	sink.PutStr(msg)
}
