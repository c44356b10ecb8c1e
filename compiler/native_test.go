//go:build linux && amd64 && cgo

package compiler

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/cpjit/arch"
	"github.com/colorfulnotion/cpjit/interpreter"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/stencil"
	"github.com/colorfulnotion/cpjit/vm"
)

// hostCompiler uses the host's stencils and skips when the pool cannot execute.
func hostCompiler(t *testing.T) *Compiler {
	t.Helper()
	table, err := stencil.NewTable(arch.AMD64())
	require.NoError(t, err)
	c := New(table, newPool(t, 4), Options{})
	if !c.Pool().Executable() {
		t.Skip("executable mappings are not available")
	}
	return c
}

// interpret runs p from seed and returns r0 and the final register file.
func interpret(t *testing.T, p *ir.Program, seed vm.Registers) (uint64, vm.Registers) {
	t.Helper()
	it := interpreter.New(p, vm.DefaultConfig(), vm.Env{})
	it.State().Regs = seed
	res := it.Run()
	require.Equal(t, vm.Halted, res.Status, "%v", res.Err())
	return res.Value, it.State().Regs
}

func native(t *testing.T, c *Compiler, p *ir.Program, seed vm.Registers) (uint64, vm.Registers) {
	t.Helper()
	cc, err := c.Compile(p)
	require.NoError(t, err)
	defer cc.Close()
	regs := seed
	v, err := cc.Call(&regs)
	require.NoError(t, err)
	return v, regs
}

func TestNativeStraightLine(t *testing.T) {
	c := hostCompiler(t)
	p := loadProgram(t, "straight.s")

	want, wantRegs := interpret(t, p, vm.Registers{})
	got, gotRegs := native(t, c, p, vm.Registers{})
	require.Equal(t, want, got)
	require.Equal(t, wantRegs, gotRegs)
	require.EqualValues(t, 69, got)
}

func TestNativeMovHalt(t *testing.T) {
	c := hostCompiler(t)
	got, _ := native(t, c, ir.NewProgram(movImm(ir.R0, 42), ir.Instruction{Opcode: ir.Halt}), vm.Registers{})
	require.EqualValues(t, 42, got)
}

func TestNativeZeroRegister(t *testing.T) {
	c := hostCompiler(t)
	var seed vm.Registers
	seed[ir.R1] = 5
	seed[ir.Zero] = 99
	p := ir.NewProgram(
		alu(ir.AluAdd, ir.Zero, ir.R1, ir.R1),
		alu(ir.AluAdd, ir.R0, ir.Zero, ir.R1),
	)
	got, regs := native(t, c, p, seed)
	require.EqualValues(t, 5, got)
	require.Zero(t, regs[ir.Zero])
}

func TestNativeMulHMatchesWideMultiply(t *testing.T) {
	c := hostCompiler(t)
	rng := rand.New(rand.NewSource(7))
	p := ir.NewProgram(ir.Instruction{Opcode: ir.MulDiv, Mode: ir.MulDivMulH, Rd: ir.R0, Rs1: ir.R1, Rs2: ir.R2})
	cc, err := c.Compile(p)
	require.NoError(t, err)
	defer cc.Close()

	for range 200 {
		a, b := rng.Uint64(), rng.Uint64()
		var regs vm.Registers
		regs[ir.R1], regs[ir.R2] = a, b
		got, err := cc.Call(&regs)
		require.NoError(t, err)

		wide := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
		require.Equal(t, wide.Rsh(wide, 64).Uint64(), got, "%#x * %#x", a, b)
	}
}

func TestNativeEquivalence(t *testing.T) {
	c := hostCompiler(t)
	rng := rand.New(rand.NewSource(42))

	for i := range 300 {
		p := randomStraightLine(rng, c.Table(), 1+rng.Intn(40))
		var seed vm.Registers
		for r := range 16 {
			seed[r] = rng.Uint64()
		}
		want, wantRegs := interpret(t, p, seed)
		got, gotRegs := native(t, c, p, seed)
		require.Equal(t, want, got, "program %d", i)
		require.Equal(t, wantRegs, gotRegs, "program %d", i)
	}
}
