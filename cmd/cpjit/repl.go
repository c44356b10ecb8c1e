package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"

	"github.com/colorfulnotion/cpjit"
	"github.com/colorfulnotion/cpjit/asm"
	"github.com/colorfulnotion/cpjit/compiler"
)

func newReplCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive JavaScript console with run, asm and native bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEngine(e)

			rl, err := readline.NewEx(&readline.Config{
				Prompt:      "cpjit> ",
				HistoryFile: filepath.Join(os.TempDir(), "cpjit_history.txt"),
			})
			if err != nil {
				return fmt.Errorf("failed to start readline: %w", err)
			}
			defer rl.Close()

			c := newConsole(cmd, e)
			fmt.Fprintln(cmd.OutOrStdout(), `run("mov r0, 42\nhalt"), run(src, "jit"), asm(src), native(src), stencils(); exit to quit`)
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}
				out, err := c.eval(line)
				if err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "error:", err)
					continue
				}
				if out != "" {
					fmt.Fprintln(cmd.OutOrStdout(), out)
				}
			}
		},
	}
}

// console binds the engine into a JavaScript runtime.
type console struct {
	rt     *goja.Runtime
	engine *cpjit.Engine
}

func newConsole(cmd *cobra.Command, e *cpjit.Engine) *console {
	c := &console{rt: goja.New(), engine: e}
	c.rt.Set("run", func(src, backend string) (map[string]any, error) {
		return c.run(cmd, src, backend)
	})
	c.rt.Set("asm", func(src string) (string, error) {
		p, err := asm.Assemble(src)
		if err != nil {
			return "", err
		}
		return asm.Disassemble(p), nil
	})
	c.rt.Set("native", func(src string) (string, error) {
		p, err := asm.Assemble(src)
		if err != nil {
			return "", err
		}
		code, err := e.Compiler().CompileToBytes(p)
		if err != nil {
			return "", err
		}
		return compiler.Disassemble(code), nil
	})
	c.rt.Set("stencils", func() string {
		return stencilTree(e.Table(), false).String()
	})
	c.rt.Set("print", func(args ...goja.Value) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, " "))
	})
	return c
}

func (c *console) run(cmd *cobra.Command, src, backend string) (map[string]any, error) {
	b := cpjit.BackendAuto
	if backend != "" {
		var err error
		if b, err = cpjit.ParseBackend(backend); err != nil {
			return nil, err
		}
	}
	p, err := asm.Assemble(src)
	if err != nil {
		return nil, err
	}
	out, err := c.engine.Execute(cmd.Context(), p, cpjit.Options{Backend: b})
	if err != nil {
		return nil, err
	}
	res := map[string]any{
		"status":  out.Result.Status.String(),
		"value":   out.Result.Value,
		"steps":   out.Result.Steps,
		"backend": out.Backend.String(),
	}
	if err := out.Result.Err(); err != nil {
		res["error"] = err.Error()
	}
	return res, nil
}

// eval runs one line and renders its value; undefined renders as nothing.
func (c *console) eval(line string) (string, error) {
	v, err := c.rt.RunString(line)
	if err != nil {
		return "", err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	if s, ok := v.Export().(string); ok {
		return s, nil
	}
	data, err := json.MarshalIndent(v.Export(), "", "  ")
	if err != nil {
		return v.String(), nil
	}
	return string(data), nil
}
