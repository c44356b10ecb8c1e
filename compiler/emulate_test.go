//go:build unicorn

package compiler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/cpjit/interpreter"
	"github.com/colorfulnotion/cpjit/vm"
)

func TestRunEmulated(t *testing.T) {
	c := New(newTable(t), nil, Options{})
	p := loadProgram(t, "straight.s")
	code, err := c.CompileToBytes(p)
	require.NoError(t, err)

	var regs vm.Registers
	got, err := RunEmulated(code, &regs)
	require.NoError(t, err)

	it := interpreter.New(p, vm.DefaultConfig(), vm.Env{})
	res := it.Run()
	require.Equal(t, res.Value, got)
	require.Equal(t, it.State().Regs, regs)
}

func TestEmulatedEquivalence(t *testing.T) {
	c := New(newTable(t), nil, Options{})
	rng := rand.New(rand.NewSource(3))
	for i := range 50 {
		p := randomStraightLine(rng, c.Table(), 1+rng.Intn(20))
		code, err := c.CompileToBytes(p)
		require.NoError(t, err)

		var seed vm.Registers
		for r := range 16 {
			seed[r] = rng.Uint64()
		}
		regs := seed
		got, err := RunEmulated(code, &regs)
		require.NoError(t, err)

		it := interpreter.New(p, vm.DefaultConfig(), vm.Env{})
		it.State().Regs = seed
		res := it.Run()
		require.Equal(t, res.Value, got, "program %d", i)
		require.Equal(t, it.State().Regs, regs, "program %d", i)
	}
}
