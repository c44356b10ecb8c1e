package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"

	"github.com/colorfulnotion/cpjit"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/vm"
)

var errBackendsDisagree = errors.New("backends disagree")

// outcome is the backend-independent part of an execution.
type outcome struct {
	Status    string            `json:"status"`
	Value     uint64            `json:"value"`
	Steps     uint64            `json:"steps"`
	Fault     string            `json:"fault,omitempty"`
	Registers map[string]uint64 `json:"registers"`
}

func newOutcome(out *cpjit.Execution) outcome {
	o := outcome{
		Status:    out.Result.Status.String(),
		Value:     out.Result.Value,
		Steps:     out.Result.Steps,
		Registers: make(map[string]uint64),
	}
	if err := out.Result.Err(); err != nil {
		o.Fault = err.Error()
	}
	for r := ir.Register(0); r < ir.NumRegisters; r++ {
		if v := out.Registers.Get(r); v != 0 {
			o.Registers[r.String()] = v
		}
	}
	return o
}

// compareBackends runs p on every backend available for it with identical entropy and returns
// each outcome as JSON, the interpreter first.
func compareBackends(cmd *cobra.Command, e *cpjit.Engine, p *ir.Program, seed uint64) ([]cpjit.Backend, [][]byte, error) {
	backends := []cpjit.Backend{cpjit.BackendInterpreter, cpjit.BackendJIT}
	if e.NativeAvailable() && e.Compiler().CanCompile(p) {
		backends = append(backends, cpjit.BackendNative)
	}
	docs := make([][]byte, 0, len(backends))
	for _, b := range backends {
		out, err := e.Execute(cmd.Context(), p, cpjit.Options{Backend: b, Env: vm.Env{Entropy: vm.NewLCG(seed)}})
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", b, err)
		}
		doc, err := json.MarshalIndent(newOutcome(out), "", "  ")
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, doc)
	}
	return backends, docs, nil
}

func newCompareCmd(g *globals) *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "compare <file>",
		Short: "Run a program on every backend and diff the outcomes against the interpreter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProgram(args[0])
			if err != nil {
				return err
			}
			e, err := g.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEngine(e)

			backends, docs, err := compareBackends(cmd, e, p, seed)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s:\n%s\n", backends[0], docs[0])

			mismatches := 0
			differ := gojsondiff.New()
			for i := 1; i < len(docs); i++ {
				delta, err := differ.Compare(docs[0], docs[i])
				if err != nil {
					return fmt.Errorf("diffing %s: %w", backends[i], err)
				}
				if !delta.Modified() {
					fmt.Fprintf(w, "%s: matches\n", backends[i])
					continue
				}
				mismatches++
				var left any
				if err := json.Unmarshal(docs[0], &left); err != nil {
					return err
				}
				asciiFmt := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
				diff, err := asciiFmt.Format(delta)
				if err != nil {
					return fmt.Errorf("formatting diff: %w", err)
				}
				fmt.Fprintf(w, "%s: differs\n%s\n", backends[i], diff)
			}
			if mismatches > 0 {
				return fmt.Errorf("%w: %d of %d", errBackendsDisagree, mismatches, len(docs)-1)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 1, "entropy seed shared by every backend")
	return cmd
}
