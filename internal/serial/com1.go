package serial

// COM1 is the physical 16550 UART at I/O port 0x3F8. Its init sequence
// disables IRQs, sets DLAB, programs a 38400 baud divisor and 8N1, and
// enables the FIFO. The raw port I/O sits behind package-level function
// variables, outbFn/inbFn, rather than inline assembly: the real
// freestanding build points them at assembly-backed outb/inb, while
// `go test` on a hosted machine never touches a real port.
type COM1 struct {
	port uint16
}

// NewCOM1 returns a Sink wired to the standard COM1 port (0x3F8) and runs
// its UART init sequence.
func NewCOM1() *COM1 {
	c := &COM1{port: 0x3F8}
	c.init()
	return c
}

func (c *COM1) init() {
	outbFn(c.port+1, 0x00) // disable interrupts
	outbFn(c.port+3, 0x80) // enable DLAB
	outbFn(c.port+0, 0x03) // divisor low byte (38400 baud)
	outbFn(c.port+1, 0x00) // divisor high byte
	outbFn(c.port+3, 0x03) // 8 bits, no parity, one stop bit
	outbFn(c.port+2, 0xC7) // enable FIFO, clear, 14-byte threshold
	outbFn(c.port+4, 0x0B) // IRQs enabled, RTS/DSR set
}

func (c *COM1) transmitEmpty() bool {
	return inbFn(c.port+5)&0x20 != 0
}

// PutChar blocks until the transmit holding register is empty, then
// writes a single byte.
func (c *COM1) PutChar(ch byte) {
	for !c.transmitEmpty() {
	}
	outbFn(c.port, ch)
}

// PutStr writes every byte of s in order.
func (c *COM1) PutStr(s string) {
	for i := 0; i < len(s); i++ {
		c.PutChar(s[i])
	}
}

// PutHex writes v as a "0x"-prefixed hex string with leading zeros
// suppressed (zero itself prints as "0x0").
func (c *COM1) PutHex(v uint64) { putHex(c, v) }

// PutDec writes v in decimal.
func (c *COM1) PutDec(v uint64) { putDec(c, v) }

// outbFn and inbFn perform the actual port I/O. On the real freestanding
// target these are replaced, via an arch-specific build, with assembly
// implementations of the `outb`/`inb` instructions. The defaults here
// panic, so that accidentally constructing a COM1 sink in a hosted
// test, instead of the intended serial.Buffer, fails loudly rather
// than silently doing nothing.
var (
	outbFn = func(port uint16, val byte) { panic("serial: outb not wired for this build") }
	inbFn  = func(port uint16) byte { panic("serial: inb not wired for this build") }
)
