package compiler

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/cpjit/arch"
	"github.com/colorfulnotion/cpjit/asm"
	"github.com/colorfulnotion/cpjit/bufferpool"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/stencil"
)

var allFeatures = arch.Features{Popcnt: true, Lzcnt: true, Bmi1: true}

func newTable(t *testing.T) *stencil.Table {
	t.Helper()
	table, err := stencil.NewTable(arch.AMD64WithFeatures(allFeatures))
	require.NoError(t, err)
	return table
}

func newPool(t *testing.T, capacity int) *bufferpool.Pool {
	t.Helper()
	pool, err := bufferpool.New(capacity, os.Getpagesize())
	require.NoError(t, err)
	return pool
}

func newCompiler(t *testing.T, capacity int) *Compiler {
	t.Helper()
	return New(newTable(t), newPool(t, capacity), Options{})
}

func loadProgram(t *testing.T, name string) *ir.Program {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("..", "testdata", name))
	require.NoError(t, err)
	p, err := asm.Assemble(string(src))
	require.NoError(t, err)
	return p
}

func movImm(rd ir.Register, imm int32) ir.Instruction {
	return ir.Instruction{Opcode: ir.Mov, Rd: rd, Rs1: ir.Zero, Imm: imm}
}

func alu(mode uint8, rd, rs1, rs2 ir.Register) ir.Instruction {
	return ir.Instruction{Opcode: ir.Alu, Mode: mode, Rd: rd, Rs1: rs1, Rs2: rs2}
}

func repeat(inst ir.Instruction, n int) *ir.Program {
	insts := make([]ir.Instruction, n)
	for i := range insts {
		insts[i] = inst
	}
	return ir.NewProgram(insts...)
}

// randomStraightLine draws instructions that have stencils in table.
func randomStraightLine(rng *rand.Rand, table *stencil.Table, n int) *ir.Program {
	reg := func() ir.Register {
		if rng.Intn(10) == 0 {
			return ir.Zero
		}
		return ir.Register(rng.Intn(16))
	}
	insts := make([]ir.Instruction, 0, n+1)
	for len(insts) < n {
		var inst ir.Instruction
		switch rng.Intn(6) {
		case 0, 1:
			inst = alu(uint8(rng.Intn(8)), reg(), reg(), reg())
		case 2:
			inst = ir.Instruction{Opcode: ir.AluI, Mode: uint8(rng.Intn(8)), Rd: reg(), Rs1: reg(), Imm: rng.Int31() - 1<<30}
		case 3:
			inst = ir.Instruction{Opcode: ir.MulDiv, Mode: uint8(rng.Intn(2)), Rd: reg(), Rs1: reg(), Rs2: reg()}
		case 4:
			if rng.Intn(2) == 0 {
				inst = movImm(reg(), rng.Int31()-1<<30)
			} else {
				inst = ir.Instruction{Opcode: ir.Mov, Rd: reg(), Rs1: ir.Register(rng.Intn(16))}
			}
		case 5:
			inst = ir.Instruction{Opcode: ir.Bits, Mode: uint8(rng.Intn(4)), Rd: reg(), Rs1: reg()}
		}
		if _, ok := table.Lookup(inst.Opcode, inst.Mode); ok {
			insts = append(insts, inst)
		}
	}
	return ir.NewProgram(append(insts, ir.Instruction{Opcode: ir.Halt})...)
}

func TestCompileToBytes(t *testing.T) {
	c := New(newTable(t), nil, Options{})
	p := ir.NewProgram(movImm(ir.R0, 42), ir.Instruction{Opcode: ir.Halt})

	code, err := c.CompileToBytes(p)
	require.NoError(t, err)
	require.True(t, bytes.HasSuffix(code, c.Table().Epilogue()))
	require.True(t, bytes.Contains(code, []byte{42, 0, 0, 0}))
	// every placeholder was overwritten
	require.False(t, bytes.Contains(code, []byte{0xEF, 0xBE, 0xAD, 0xDE}))
	require.LessOrEqual(t, len(code), c.EstimateSize(p))

	dis := strings.ToLower(Disassemble(code))
	require.Contains(t, dis, "mov")
	require.Contains(t, dis, "ret")
	require.NotContains(t, dis, "db 0x")
	require.Greater(t, CountInstructions(code), 3)
}

func TestCompileRunsInPool(t *testing.T) {
	c := newCompiler(t, 2)
	p := loadProgram(t, "straight.s")
	require.True(t, c.CanCompile(p))

	cc, err := c.Compile(p)
	require.NoError(t, err)
	require.Equal(t, p.Len(), cc.Instructions())
	require.Equal(t, 1, c.Pool().InUse())

	want, err := c.CompileToBytes(p)
	require.NoError(t, err)
	require.Equal(t, want, cc.Bytes())
	require.Equal(t, len(want), cc.Size())
	require.NotEmpty(t, cc.Disassemble())

	require.NoError(t, cc.Close())
	require.NoError(t, cc.Close())
	require.Zero(t, c.Pool().InUse())
	require.Nil(t, cc.Bytes())

	stats := c.Stats()
	require.EqualValues(t, 1, stats.Compiled)
	require.EqualValues(t, len(want), stats.BytesOut)
}

func TestOversizedProgram(t *testing.T) {
	c := newCompiler(t, 1)
	add := alu(ir.AluAdd, ir.R0, ir.R1, ir.R2)

	_, err := c.Compile(repeat(add, 2000))
	require.ErrorIs(t, err, jiterrors.ErrProgramTooLarge)
	var ce *jiterrors.CompileError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, -1, ce.Index)

	// larger than one buffer but under MaxProgramSize
	_, err = c.Compile(repeat(add, 2*os.Getpagesize()/40))
	require.ErrorIs(t, err, jiterrors.ErrProgramTooLarge)

	require.Zero(t, c.Pool().Stats().Acquired)
	require.EqualValues(t, 2, c.Stats().Failed)
}

func TestMaxProgramSizeOption(t *testing.T) {
	c := New(newTable(t), nil, Options{MaxProgramSize: 64})
	_, err := c.CompileToBytes(repeat(ir.Instruction{Opcode: ir.Nop}, 40))
	require.NoError(t, err)
	_, err = c.CompileToBytes(repeat(ir.Instruction{Opcode: ir.Nop}, 60))
	require.ErrorIs(t, err, jiterrors.ErrProgramTooLarge)

	// stencil-less instructions are charged the unknown estimate
	c = New(newTable(t), nil, Options{MaxProgramSize: 64, UnknownStencilEstimate: 32, EpilogueEstimate: 16})
	div := ir.Instruction{Opcode: ir.MulDiv, Mode: ir.MulDivDiv, Rd: ir.R0, Rs1: ir.R1, Rs2: ir.R2}
	require.Equal(t, 16+32+32, c.EstimateSize(repeat(div, 2)))
}

func TestMissingStencil(t *testing.T) {
	c := newCompiler(t, 1)
	p := ir.NewProgram(
		movImm(ir.R1, 1),
		ir.Instruction{Opcode: ir.MulDiv, Mode: ir.MulDivDiv, Rd: ir.R0, Rs1: ir.R1, Rs2: ir.R2},
		ir.Instruction{Opcode: ir.Halt},
	)
	require.False(t, c.CanCompile(p))

	_, err := c.Compile(p)
	require.ErrorIs(t, err, jiterrors.ErrMissingStencil)
	var ce *jiterrors.CompileError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, 1, ce.Index)
	require.Equal(t, uint8(ir.MulDiv), ce.Opcode)
	require.Equal(t, ir.MulDivDiv, ce.Mode)
	require.Zero(t, c.Pool().Stats().Acquired)
}

func TestInvalidInstruction(t *testing.T) {
	c := newCompiler(t, 1)
	_, err := c.Compile(ir.NewProgram(ir.Instruction{Opcode: ir.Alu, Mode: 15}))
	require.ErrorIs(t, err, jiterrors.ErrInvalidInstruction)

	_, err = c.CompileInstruction(ir.Instruction{Opcode: ir.Alu, Rd: 40})
	require.ErrorIs(t, err, jiterrors.ErrInvalidInstruction)
	require.ErrorIs(t, err, jiterrors.ErrInvalidRegister)
}

func TestRandomStraightLineCompiles(t *testing.T) {
	c := New(newTable(t), nil, Options{})
	rng := rand.New(rand.NewSource(1))
	for range 100 {
		p := randomStraightLine(rng, c.Table(), 1+rng.Intn(40))
		require.True(t, c.CanCompile(p))
		code, err := c.CompileToBytes(p)
		require.NoError(t, err)
		require.LessOrEqual(t, len(code), c.EstimateSize(p))
		require.NotContains(t, Disassemble(code), "db 0x")
	}
}

func TestCanCompile(t *testing.T) {
	c := New(newTable(t), nil, Options{})
	require.True(t, c.CanCompile(loadProgram(t, "straight.s")))
	require.False(t, c.CanCompile(loadProgram(t, "fib.s")))

	p := loadProgram(t, "straight.s")
	p.Entry = 1
	require.False(t, c.CanCompile(p))

	// an architecture without stencils compiles nothing but the empty program
	stub, err := stencil.NewTable(arch.RISCV())
	require.NoError(t, err)
	c = New(stub, nil, Options{})
	require.False(t, c.CanCompile(ir.NewProgram(ir.Instruction{Opcode: ir.Nop})))
	code, err := c.CompileToBytes(ir.NewProgram())
	require.NoError(t, err)
	require.Empty(t, code)
}

func TestCompileInstruction(t *testing.T) {
	c := New(newTable(t), nil, Options{})
	code, err := c.CompileInstruction(alu(ir.AluXor, ir.R3, ir.R4, ir.R5))
	require.NoError(t, err)
	tmpl, ok := c.Table().Lookup(ir.Alu, ir.AluXor)
	require.True(t, ok)
	require.Len(t, code, tmpl.UsableLen()+len(c.Table().Epilogue()))

	_, err = c.CompileInstruction(ir.Instruction{Opcode: ir.Ret})
	require.ErrorIs(t, err, jiterrors.ErrMissingStencil)
}

func TestPoolExhaustion(t *testing.T) {
	c := newCompiler(t, 2)
	p := loadProgram(t, "straight.s")

	a, err := c.Compile(p)
	require.NoError(t, err)
	b, err := c.Compile(p)
	require.NoError(t, err)

	_, err = c.Compile(p)
	require.ErrorIs(t, err, jiterrors.ErrBufferAllocationFailed)
	require.EqualValues(t, 1, c.Pool().Stats().Exhausted)

	require.NoError(t, a.Close())
	a, err = c.Compile(p)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	require.Equal(t, 2, c.Pool().Available())
	require.NoError(t, c.Pool().Close())
}

func TestCompileWithoutPool(t *testing.T) {
	c := New(newTable(t), nil, Options{})
	_, err := c.Compile(loadProgram(t, "straight.s"))
	require.ErrorIs(t, err, jiterrors.ErrBufferAllocationFailed)
}

func TestCallOnClosedCode(t *testing.T) {
	c := newCompiler(t, 1)
	cc, err := c.Compile(ir.NewProgram(ir.Instruction{Opcode: ir.Halt}))
	require.NoError(t, err)
	require.NoError(t, cc.Close())
	_, err = cc.Call(nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCompileTimeBound(t *testing.T) {
	c := newCompiler(t, 1)
	insts := make([]ir.Instruction, 0, 32)
	for i := range 32 {
		insts = append(insts, alu(uint8(i%8), ir.Register(i%16), ir.Register((i+1)%16), ir.Register((i+2)%16)))
	}
	p := ir.NewProgram(insts...)

	// best of several runs
	best := time.Hour
	for range 20 {
		cc, err := c.Compile(p)
		require.NoError(t, err)
		best = min(best, cc.CompileTime())
		require.NoError(t, cc.Close())
	}
	require.Less(t, best, time.Millisecond)
}
