package stencil

import (
	"fmt"
	"slices"

	"github.com/colorfulnotion/cpjit/ir"
)

const modeBits = 4

// Entry binds a template to one (opcode, mode) pair.
type Entry struct {
	Opcode   ir.Opcode
	Mode     uint8
	Template *Template
}

// Provider supplies the stencils of one architecture. A provider with no stencils is valid:
// every program then runs on the portable backends.
type Provider interface {
	Name() string
	Stencils() []Entry
	// Epilogue is appended once after the last stencil; it returns r0 to the caller.
	Epilogue() []byte
}

// Table maps (opcode, mode) to a template. It is immutable after NewTable and safe for
// concurrent use.
type Table struct {
	arch     string
	epilogue []byte
	entries  [ir.NumOpcodes << modeBits]*Template
	count    int
}

func index(op ir.Opcode, mode uint8) int {
	return int(op)<<modeBits | int(mode)
}

// NewTable validates and indexes the stencils of p.
func NewTable(p Provider) (*Table, error) {
	t := &Table{arch: p.Name(), epilogue: slices.Clone(p.Epilogue())}
	for _, e := range p.Stencils() {
		if !e.Opcode.ValidMode(e.Mode) || e.Mode >= 1<<modeBits {
			return nil, fmt.Errorf("%w: %s has no mode %d", ErrMalformedTemplate, e.Opcode, e.Mode)
		}
		if e.Template == nil {
			return nil, fmt.Errorf("%w: nil template for %s.%d", ErrMalformedTemplate, e.Opcode, e.Mode)
		}
		if err := e.Template.Validate(); err != nil {
			return nil, err
		}
		idx := index(e.Opcode, e.Mode)
		if t.entries[idx] != nil {
			return nil, fmt.Errorf("%w: duplicate stencil for %s mode %d", ErrMalformedTemplate, e.Opcode, e.Mode)
		}
		t.entries[idx] = e.Template
		t.count++
	}
	return t, nil
}

// Lookup returns the template for (op, mode). A miss means the instruction must run through a
// runtime path or fall back to the interpreter.
func (t *Table) Lookup(op ir.Opcode, mode uint8) (*Template, bool) {
	if !op.ValidMode(mode) || mode >= 1<<modeBits {
		return nil, false
	}
	tmpl := t.entries[index(op, mode)]
	return tmpl, tmpl != nil
}

// Len is the number of stencils in the table.
func (t *Table) Len() int { return t.count }

// Epilogue is the provider's closing sequence; empty for architectures without stencils.
func (t *Table) Epilogue() []byte { return t.epilogue }

// Arch names the architecture the stencils were built for.
func (t *Table) Arch() string { return t.arch }

// Each calls fn for every stencil in (opcode, mode) order.
func (t *Table) Each(fn func(op ir.Opcode, mode uint8, tmpl *Template)) {
	for idx, tmpl := range t.entries {
		if tmpl != nil {
			fn(ir.Opcode(idx>>modeBits), uint8(idx&(1<<modeBits-1)), tmpl)
		}
	}
}
