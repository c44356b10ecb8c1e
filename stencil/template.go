// Package stencil holds pre-built machine-code templates and the engine that patches
// instruction operands into them.
package stencil

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/cpjit/ir"
)

// RetByte is the x86-64 near return. A single trailing RetByte is not part of a template's usable bytes.
const RetByte = 0xC3

var ErrMalformedTemplate = errors.New("malformed stencil template")

// PatchKind names the instruction field written at a patch location.
type PatchKind uint8

const (
	DstReg PatchKind = iota
	Src1Reg
	Src2Reg
	Imm32
	Imm64
	BranchTarget
)

var patchKindNames = [...]string{"dst", "src1", "src2", "imm32", "imm64", "target"}

func (k PatchKind) String() string {
	if int(k) < len(patchKindNames) {
		return patchKindNames[k]
	}
	return fmt.Sprintf("patch(%d)", uint8(k))
}

// Width is the number of bytes overwritten for k.
func (k PatchKind) Width() int {
	if k == Imm64 {
		return 8
	}
	return 4
}

// Value resolves the little-endian value written for k from inst.
func (k PatchKind) Value(inst ir.Instruction) uint64 {
	switch k {
	case DstReg:
		return uint64(inst.Rd)
	case Src1Reg:
		return uint64(inst.Rs1)
	case Src2Reg:
		return uint64(inst.Rs2)
	case Imm64:
		return uint64(int64(inst.Imm))
	default:
		return uint64(uint32(inst.Imm))
	}
}

// Patch is one placeholder inside a template.
type Patch struct {
	Offset int
	Kind   PatchKind
}

// Template is a machine-code stencil. The placeholder bytes under each patch are never read;
// Patches alone decide what is overwritten.
type Template struct {
	Name    string
	Code    []byte
	Patches []Patch
}

// UsableLen is len(Code) minus exactly one trailing return, so templates concatenate
// without returning early.
func (t *Template) UsableLen() int {
	if n := len(t.Code); n > 0 && t.Code[n-1] == RetByte {
		return n - 1
	}
	return len(t.Code)
}

// Validate checks that every patch range lies inside the usable bytes.
func (t *Template) Validate() error {
	if len(t.Code) == 0 {
		return fmt.Errorf("%w: %s has no code", ErrMalformedTemplate, t.Name)
	}
	usable := t.UsableLen()
	for _, p := range t.Patches {
		if p.Kind > BranchTarget {
			return fmt.Errorf("%w: %s unknown patch kind %d", ErrMalformedTemplate, t.Name, p.Kind)
		}
		if p.Offset < 0 || p.Offset+p.Kind.Width() > usable {
			return fmt.Errorf("%w: %s patch %s at %d overruns usable length %d", ErrMalformedTemplate, t.Name, p.Kind, p.Offset, usable)
		}
	}
	return nil
}
