package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/colorfulnotion/cpjit/arch"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/stencil"
)

func newStencilsCmd() *cobra.Command {
	var (
		target string
		code   bool
	)
	cmd := &cobra.Command{
		Use:   "stencils",
		Short: "Show the stencil table as a tree of opcodes and modes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var provider stencil.Provider
			switch target {
			case "", "native":
				provider = arch.Native()
			case "x86_64", "amd64":
				provider = arch.AMD64()
			case "aarch64", "arm64":
				provider = arch.ARM64()
			case "riscv64":
				provider = arch.RISCV()
			default:
				return fmt.Errorf("unknown architecture %q", target)
			}
			table, err := stencil.NewTable(provider)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), stencilTree(table, code).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "arch", "native", "architecture: native, x86_64, aarch64 or riscv64")
	cmd.Flags().BoolVar(&code, "code", false, "include template bytes")
	return cmd
}

func stencilTree(table *stencil.Table, withCode bool) treeprint.Tree {
	tree := treeprint.NewWithRoot(fmt.Sprintf("%s (%d stencils, epilogue %d bytes)", table.Arch(), table.Len(), len(table.Epilogue())))
	branches := make(map[ir.Opcode]treeprint.Tree)
	table.Each(func(op ir.Opcode, mode uint8, tmpl *stencil.Template) {
		branch, ok := branches[op]
		if !ok {
			branch = tree.AddBranch(op.String())
			branches[op] = branch
		}
		mnemonic := ir.ModeName(op, mode)
		if mnemonic == "" {
			mnemonic = op.String()
		}
		label := fmt.Sprintf("%s: %d bytes, %d patches", mnemonic, tmpl.UsableLen(), len(tmpl.Patches))
		if withCode {
			label += fmt.Sprintf(" [% x]", tmpl.Code)
		}
		branch.AddNode(label)
	})
	return tree
}
