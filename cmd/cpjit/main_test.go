package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/cpjit/arch"
	"github.com/colorfulnotion/cpjit/asm"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/stencil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func testdata(name string) string {
	return filepath.Join("..", "..", "testdata", name)
}

func TestRunAssembly(t *testing.T) {
	out, err := execute(t, "run", testdata("fib.s"), "--backend", "interp", "--regs")
	require.NoError(t, err)
	require.Contains(t, out, "halted value=55")
	require.Contains(t, out, "interp")
	require.Contains(t, out, "r0   = 55")
}

func TestRunSeededRegisters(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "add.s")
	require.NoError(t, os.WriteFile(src, []byte("add r0, r1, r2\nhalt\n"), 0644))

	out, err := execute(t, "run", src, "--backend", "jit", "--reg", "r1=40", "--reg", "r2=0x2")
	require.NoError(t, err)
	require.Contains(t, out, "halted value=42")
}

func TestRunReportsFault(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "div.s")
	require.NoError(t, os.WriteFile(src, []byte("mov r1, 0\ndiv r0, r0, r1\nhalt\n"), 0644))

	out, err := execute(t, "run", src)
	require.Error(t, err)
	require.Contains(t, out, "faulted")
}

func TestAssembleThenRunBinary(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "fib.cpir")
	_, err := execute(t, "asm", testdata("fib.s"), bin)
	require.NoError(t, err)

	data, err := os.ReadFile(bin)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte(ir.Magic)))

	out, err := execute(t, "run", bin, "--backend", "jit")
	require.NoError(t, err)
	require.Contains(t, out, "halted value=55")

	out, err = execute(t, "disasm", bin)
	require.NoError(t, err)
	require.Contains(t, out, "halt")
}

func TestCoverageFlag(t *testing.T) {
	out, err := execute(t, "run", testdata("fib.s"), "--coverage")
	require.NoError(t, err)
	require.Contains(t, out, "Coverage Report")
	require.Contains(t, out, "Instructions: 10/10")
}

func TestStencilsTree(t *testing.T) {
	out, err := execute(t, "stencils", "--arch", "x86_64")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "x86_64"))
	require.Contains(t, out, "halt")

	_, err = execute(t, "stencils", "--arch", "sparc")
	require.Error(t, err)
}

func TestStencilTreeListsEveryEntry(t *testing.T) {
	table, err := stencil.NewTable(arch.AMD64())
	require.NoError(t, err)
	tree := stencilTree(table, true).String()
	n := 0
	table.Each(func(op ir.Opcode, mode uint8, _ *stencil.Template) {
		require.Contains(t, tree, ir.ModeName(op, mode))
		n++
	})
	require.Equal(t, table.Len(), n)
}

func TestParseRegisters(t *testing.T) {
	regs, err := parseRegisters(nil)
	require.NoError(t, err)
	require.Nil(t, regs)

	regs, err = parseRegisters([]string{"r1=5", "sp = 0x100", "r3=0b101"})
	require.NoError(t, err)
	require.Equal(t, uint64(5), regs.Get(ir.R1))
	require.Equal(t, uint64(0x100), regs.Get(ir.Sp))
	require.Equal(t, uint64(5), regs.Get(ir.R3))

	for _, bad := range []string{"r1", "q9=1", "r1=x"} {
		_, err := parseRegisters([]string{bad})
		require.Error(t, err, bad)
	}
}

func TestBenchProgram(t *testing.T) {
	p := benchProgram(32)
	require.Equal(t, 32, p.Len())
	require.True(t, p.IsStraightLine())
	require.NoError(t, p.Validate())
	require.Equal(t, ir.Halt, p.Instructions[31].Opcode)
}

func TestBenchWritesReport(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "bench", "--sizes", "8,32", "--runs", "2", "--out", dir)
	require.NoError(t, err)
	require.Contains(t, out, "compiled 2 programs")
	for _, name := range []string{"compile_speed.html", "backend_runtime.html", "backend_bench.json"} {
		require.FileExists(t, filepath.Join(dir, name))
	}
}

func TestConsole(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetContext(context.Background())
	e, err := (&globals{logLevel: "error"}).engine(cmd.Context())
	require.NoError(t, err)
	defer closeEngine(e)

	c := newConsole(cmd, e)
	out, err := c.eval(`run("mov r0, 42\nhalt").value`)
	require.NoError(t, err)
	require.Equal(t, "42", out)

	out, err = c.eval(`run("mov r1, 0\ndiv r0, r0, r1", "jit").status`)
	require.NoError(t, err)
	require.Equal(t, "faulted", out)

	out, err = c.eval(`asm("nop\nhalt")`)
	require.NoError(t, err)
	require.Contains(t, out, "nop")

	_, err = c.eval(`run("bogus r0")`)
	require.Error(t, err)

	out, err = c.eval(`var x = 1`)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestCompareBackends(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetContext(context.Background())
	e, err := (&globals{logLevel: "error"}).engine(cmd.Context())
	require.NoError(t, err)
	defer closeEngine(e)

	opts := jsondiff.DefaultConsoleOptions()
	for _, name := range []string{"fib.s", "calls.s", "straight.s"} {
		p, err := readProgram(testdata(name))
		require.NoError(t, err)
		backends, docs, err := compareBackends(cmd, e, p, 7)
		require.NoError(t, err)
		require.Equal(t, len(backends), len(docs))
		for i := 1; i < len(docs); i++ {
			diff, explanation := jsondiff.Compare(docs[0], docs[i], &opts)
			require.Equal(t, jsondiff.FullMatch, diff, "%s %s: %s", name, backends[i], explanation)
		}
	}

	p, err := asm.Assemble("rand.u64 r0\nrand.u64 r1\nadd r0, r0, r1\nhalt\n")
	require.NoError(t, err)
	_, docs, err := compareBackends(cmd, e, p, 7)
	require.NoError(t, err)
	diff, _ := jsondiff.Compare(docs[0], docs[1], &opts)
	require.Equal(t, jsondiff.FullMatch, diff)
}

func TestCompareCommand(t *testing.T) {
	out, err := execute(t, "compare", testdata("fib.s"))
	require.NoError(t, err)
	require.Contains(t, out, "jit: matches")
}
