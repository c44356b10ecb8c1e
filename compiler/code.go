package compiler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/arch/x86/x86asm"

	"github.com/colorfulnotion/cpjit/bufferpool"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/vm"
)

var ErrClosed = errors.New("compiler: compiled code already released")

// CompiledCode owns one executable buffer until Close.
type CompiledCode struct {
	buf          *bufferpool.Buffer
	size         int
	instructions int
	compileTime  time.Duration
	closed       bool
}

func (c *CompiledCode) Size() int                  { return c.size }
func (c *CompiledCode) Instructions() int          { return c.instructions }
func (c *CompiledCode) CompileTime() time.Duration { return c.compileTime }

// Bytes returns the code as written. The slice aliases executable memory.
func (c *CompiledCode) Bytes() []byte {
	if c.closed {
		return nil
	}
	return c.buf.Bytes()[:c.size]
}

func (c *CompiledCode) Disassemble() string {
	return Disassemble(c.Bytes())
}

// Call runs the code with regs as the register file and returns r0. The Zero slot is
// cleared first.
func (c *CompiledCode) Call(regs *vm.Registers) (uint64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if !c.buf.Executable() {
		return 0, fmt.Errorf("%w: buffer is not executable", jiterrors.ErrNativeUnsupported)
	}
	regs[ir.Zero] = 0
	return callNative(c.buf.Addr(), regs)
}

// Close returns the buffer to the pool.
func (c *CompiledCode) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.buf.Release()
	return nil
}

// Disassemble renders x86-64 code one instruction per line. Undecodable bytes are shown as db.
func Disassemble(code []byte) string {
	var sb strings.Builder
	offset := 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			fmt.Fprintf(&sb, "0x%04x: db 0x%02x\n", offset, code[offset])
			offset++
			continue
		}
		hexBytes := make([]string, inst.Len)
		for i := range inst.Len {
			hexBytes[i] = fmt.Sprintf("%02x", code[offset+i])
		}
		fmt.Fprintf(&sb, "0x%04x: %-16s %s\n", offset, strings.Join(hexBytes, " "), inst.String())
		offset += inst.Len
	}
	return sb.String()
}

// CountInstructions is the number of x86-64 instructions decodable from code.
func CountInstructions(code []byte) int {
	n, offset := 0, 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			offset++
			continue
		}
		offset += inst.Len
		n++
	}
	return n
}
