// Package vm is the execution model shared by the interpreter and the JIT handler executor:
// register file, memory, control-flow signals, the dispatch loop and the semantics of every
// opcode. Both backends route through the same leaf functions so their results are identical.
package vm

import (
	"unsafe"

	"github.com/colorfulnotion/cpjit/ir"
)

// Registers is the flat 32-slot register file. Slot ir.Zero reads 0 and ignores writes
// when accessed through Get and Set.
type Registers [ir.NumRegisters]uint64

func (r *Registers) Get(reg ir.Register) uint64 {
	if reg == ir.Zero || !reg.Valid() {
		return 0
	}
	return r[reg]
}

func (r *Registers) Set(reg ir.Register, v uint64) {
	if reg == ir.Zero || !reg.Valid() {
		return
	}
	r[reg] = v
}

// Ptr returns the address of slot 0 for the native calling convention. The caller must keep
// r alive and unmoved for the duration of the call.
func (r *Registers) Ptr() unsafe.Pointer {
	return unsafe.Pointer(&r[0])
}
