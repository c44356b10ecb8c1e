package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/cpjit/arch"
	"github.com/colorfulnotion/cpjit/asm"
	"github.com/colorfulnotion/cpjit/compiler"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/log"
)

func newAsmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "asm <in.s> <out.cpir>",
		Short: "Assemble source into the binary program format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := asm.Assemble(string(src))
			if err != nil {
				return err
			}
			data := ir.Encode(p)
			if err := os.WriteFile(args[1], data, 0644); err != nil {
				return err
			}
			log.Info(log.CliMonitoring, "assembled", "in", args[0], "out", args[1], "instructions", p.Len(), "bytes", len(data))
			fmt.Fprintf(cmd.OutOrStdout(), "%d instructions, %d bytes\n", p.Len(), len(data))
			return nil
		},
	}
}

func newDisasmCmd(g *globals) *cobra.Command {
	var native bool
	cmd := &cobra.Command{
		Use:   "disasm <file>",
		Short: "Print a program as assembly, or its stencil-compiled machine code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProgram(args[0])
			if err != nil {
				return err
			}
			if !native {
				fmt.Fprint(cmd.OutOrStdout(), asm.Disassemble(p))
				return nil
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			table, err := arch.NativeTable()
			if err != nil {
				return err
			}
			code, err := compiler.New(table, nil, cfg.CompilerOptions()).CompileToBytes(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "; %s, %d bytes, %d instructions\n", table.Arch(), len(code), compiler.CountInstructions(code))
			fmt.Fprint(cmd.OutOrStdout(), compiler.Disassemble(code))
			return nil
		},
	}
	cmd.Flags().BoolVar(&native, "native", false, "compile with the host stencils and disassemble the machine code")
	return cmd
}
