// Package boot holds the bootloader handshake data the memory core
// consumes. The loader's three responses (memory map, HHDM offset,
// kernel executable addresses) arrive here as plain input records; the
// request/response wire protocol itself is the loader's business and out
// of scope.
package boot

import (
	"errors"
	"fmt"

	"github.com/lithium-os/lithium/internal/mem"
)

// ErrMissingBootInput reports an absent bootloader response. Fatal at
// init: the caller logs it and halts the hart.
var ErrMissingBootInput = errors.New("boot: missing bootloader response")

// MemmapResponse is the loader's memory map: an ordered list of regions
// with at minimum the Usable kind distinguished.
type MemmapResponse struct {
	Entries []mem.MemoryMapEntry
}

// HHDMResponse carries the higher-half direct map offset: physical P is
// readable at virtual P + Offset.
type HHDMResponse struct {
	Offset uintptr
}

// ExecAddrResponse records where the loader placed the kernel image.
// Used only for diagnostics.
type ExecAddrResponse struct {
	PhysicalBase uintptr
	VirtualBase  uintptr
}

// Info bundles the three responses. A nil field means the loader never
// answered that request.
type Info struct {
	Memmap   *MemmapResponse
	HHDM     *HHDMResponse
	ExecAddr *ExecAddrResponse
}

// Validate reports ErrMissingBootInput, naming the first absent
// response. The core refuses to proceed past a failed Validate.
func (i Info) Validate() error {
	switch {
	case i.Memmap == nil:
		return fmt.Errorf("%w: memory map", ErrMissingBootInput)
	case i.HHDM == nil:
		return fmt.Errorf("%w: HHDM offset", ErrMissingBootInput)
	case i.ExecAddr == nil:
		return fmt.Errorf("%w: executable address", ErrMissingBootInput)
	}
	return nil
}
