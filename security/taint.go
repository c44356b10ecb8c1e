package security

import (
	"fmt"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
)

// TaintLevel orders data by how far it is trusted; higher is less trusted.
type TaintLevel uint8

const (
	Clean     TaintLevel = 0
	UserInput TaintLevel = 1
	Network   TaintLevel = 2
	File      TaintLevel = 3
	Toxic     TaintLevel = 255
)

func (l TaintLevel) String() string {
	switch l {
	case Clean:
		return "clean"
	case UserInput:
		return "user"
	case Network:
		return "network"
	case File:
		return "file"
	case Toxic:
		return "toxic"
	}
	return fmt.Sprintf("taint(%d)", uint8(l))
}

// TaintTracker records a taint level per register. The zero value is all clean.
type TaintTracker struct {
	regs [ir.NumRegisters]TaintLevel
}

func (t *TaintTracker) Taint(r ir.Register, l TaintLevel) {
	if r.Valid() {
		t.regs[r] = l
	}
}

func (t *TaintTracker) Sanitize(r ir.Register) {
	t.Taint(r, Clean)
}

func (t *TaintTracker) Get(r ir.Register) TaintLevel {
	if !r.Valid() {
		return Clean
	}
	return t.regs[r]
}

func (t *TaintTracker) IsTainted(r ir.Register) bool {
	return t.Get(r) != Clean
}

// Propagate copies the taint of src to dst.
func (t *TaintTracker) Propagate(dst, src ir.Register) {
	if dst.Valid() && src.Valid() {
		t.regs[dst] = t.regs[src]
	}
}

// PropagateBinary gives dst the higher taint of its two inputs.
func (t *TaintTracker) PropagateBinary(dst, src1, src2 ir.Register) {
	if dst.Valid() && src1.Valid() && src2.Valid() {
		t.regs[dst] = max(t.regs[src1], t.regs[src2])
	}
}

// Context is the per-execution security state.
type Context struct {
	Taint           TaintTracker
	TrapOnViolation bool
	Violations      uint64
}

func NewContext() *Context {
	return &Context{TrapOnViolation: true}
}

// RecordViolation counts a failed check. With TrapOnViolation set it also returns the
// error that must stop the execution.
func (c *Context) RecordViolation(r CheckResult) error {
	c.Violations++
	if c.TrapOnViolation {
		return fmt.Errorf("%w: %s", jiterrors.ErrCapabilityViolation, r)
	}
	return nil
}
