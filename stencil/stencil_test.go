package stencil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/cpjit/ir"
)

type fakeProvider []Entry

func (fakeProvider) Name() string        { return "fake" }
func (f fakeProvider) Stencils() []Entry { return f }
func (fakeProvider) Epilogue() []byte    { return []byte{RetByte} }

func twoPatch() *Template {
	return &Template{
		Name: "two",
		Code: []byte{0xB9, 0xAA, 0xAA, 0xAA, 0xAA, 0xB9, 0xBB, 0xBB, 0xBB, 0xBB, RetByte},
		Patches: []Patch{
			{Offset: 1, Kind: DstReg},
			{Offset: 6, Kind: Imm32},
		},
	}
}

func TestUsableLen(t *testing.T) {
	require.Equal(t, 10, twoPatch().UsableLen())
	require.Equal(t, 2, (&Template{Code: []byte{0x90, 0x90}}).UsableLen())
	// only one trailing return is dropped
	require.Equal(t, 1, (&Template{Code: []byte{RetByte, RetByte}}).UsableLen())
	// a return followed by padding survives
	require.Equal(t, 2, (&Template{Code: []byte{RetByte, 0xCC}}).UsableLen())
}

func TestPatch(t *testing.T) {
	tmpl := twoPatch()
	out := make([]byte, 16)
	n, err := PatchInto(tmpl, ir.Instruction{Opcode: ir.AluI, Rd: ir.R7, Imm: -2}, out)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, []byte{0xB9, 7, 0, 0, 0, 0xB9, 0xFE, 0xFF, 0xFF, 0xFF}, out[:n])
	// the template itself is untouched
	require.Equal(t, byte(0xAA), tmpl.Code[1])

	_, err = PatchInto(tmpl, ir.Instruction{}, make([]byte, 4))
	require.ErrorIs(t, err, ErrShortBuffer)

	got := AppendPatched([]byte{0x90}, tmpl, ir.Instruction{Rd: ir.R1, Imm: 0x01020304})
	require.Equal(t, []byte{0x90, 0xB9, 1, 0, 0, 0, 0xB9, 4, 3, 2, 1}, got)
}

func TestPatchImm64SignExtends(t *testing.T) {
	tmpl := &Template{Name: "imm64", Code: make([]byte, 8), Patches: []Patch{{Offset: 0, Kind: Imm64}}}
	got := AppendPatched(nil, tmpl, ir.Instruction{Imm: -1})
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, got)
}

func TestPatchClamps(t *testing.T) {
	tmpl := &Template{Name: "short", Code: []byte{0, 0, 0, RetByte}, Patches: []Patch{{Offset: 1, Kind: Imm32}, {Offset: 9, Kind: DstReg}}}
	require.ErrorIs(t, tmpl.Validate(), ErrMalformedTemplate)
	got := AppendPatched(nil, tmpl, ir.Instruction{Imm: 0x11223344})
	require.Equal(t, []byte{0, 0x44, 0x33}, got)
}

func TestTable(t *testing.T) {
	tbl, err := NewTable(fakeProvider{
		{Opcode: ir.Alu, Mode: ir.AluXor, Template: twoPatch()},
		{Opcode: ir.Nop, Template: &Template{Name: "nop", Code: []byte{0x90, RetByte}}},
	})
	require.NoError(t, err)
	require.Equal(t, "fake", tbl.Arch())
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, []byte{RetByte}, tbl.Epilogue())

	got, ok := tbl.Lookup(ir.Alu, ir.AluXor)
	require.True(t, ok)
	require.Equal(t, "two", got.Name)
	_, ok = tbl.Lookup(ir.Alu, ir.AluAdd)
	require.False(t, ok)
	_, ok = tbl.Lookup(ir.Opcode(0x40), 0)
	require.False(t, ok)
	_, ok = tbl.Lookup(ir.Nop, 3)
	require.False(t, ok)

	var seen []ir.Opcode
	tbl.Each(func(op ir.Opcode, mode uint8, tmpl *Template) { seen = append(seen, op) })
	require.Equal(t, []ir.Opcode{ir.Alu, ir.Nop}, seen)
}

func TestTableRejects(t *testing.T) {
	bad := &Template{Name: "bad", Code: []byte{0x90}, Patches: []Patch{{Offset: 0, Kind: Imm32}}}
	_, err := NewTable(fakeProvider{{Opcode: ir.Nop, Template: bad}})
	require.ErrorIs(t, err, ErrMalformedTemplate)

	_, err = NewTable(fakeProvider{{Opcode: ir.Nop, Mode: 1, Template: twoPatch()}})
	require.ErrorIs(t, err, ErrMalformedTemplate)

	dup := fakeProvider{{Opcode: ir.Nop, Template: twoPatch()}, {Opcode: ir.Nop, Template: twoPatch()}}
	_, err = NewTable(dup)
	require.ErrorIs(t, err, ErrMalformedTemplate)

	empty, err := NewTable(fakeProvider{})
	require.NoError(t, err)
	require.Zero(t, empty.Len())
}
