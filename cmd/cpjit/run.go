package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/cpjit"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/vm"
)

func newRunCmd(g *globals) *cobra.Command {
	var (
		backend   string
		registers []string
		coverage  bool
		dumpRegs  bool
	)
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a program (.s assembly or encoded .cpir)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cpjit.ParseBackend(backend)
			if err != nil {
				return err
			}
			regs, err := parseRegisters(registers)
			if err != nil {
				return err
			}
			p, err := readProgram(args[0])
			if err != nil {
				return err
			}
			e, err := g.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEngine(e)

			out, err := e.Execute(cmd.Context(), p, cpjit.Options{Backend: b, Registers: regs, Coverage: coverage})
			if err != nil {
				return err
			}
			log.Debug(log.CliMonitoring, "run finished", "file", args[0], "backend", out.Backend,
				"compile", out.CompileTime, "exec", out.ExecTime)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s [%s, %s]\n", out.Result, out.Backend, out.ExecTime)
			if dumpRegs {
				printRegisters(cmd, out.Registers)
			}
			if out.Coverage != nil {
				fmt.Fprint(w, out.Coverage.Report().String())
			}
			return out.Result.Err()
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "auto", "backend: auto, interp, jit or native")
	cmd.Flags().StringSliceVar(&registers, "reg", nil, "initial register value, e.g. r1=5 (repeatable)")
	cmd.Flags().BoolVar(&coverage, "coverage", false, "run on the interpreter and report coverage")
	cmd.Flags().BoolVar(&dumpRegs, "regs", false, "print the non-zero registers after execution")
	return cmd
}

func printRegisters(cmd *cobra.Command, regs vm.Registers) {
	for r := ir.Register(0); r < ir.NumRegisters; r++ {
		if v := regs.Get(r); v != 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-4s = %d (0x%x)\n", r, v, v)
		}
	}
}
