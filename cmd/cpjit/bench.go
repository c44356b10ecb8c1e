package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/cpjit"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/performance"
)

func newBenchCmd(g *globals) *cobra.Command {
	var (
		sizes  []int
		runs   int
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark compilation and every backend on straight-line programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeEngine(e)

			backends := []cpjit.Backend{cpjit.BackendInterpreter, cpjit.BackendJIT}
			if e.NativeAvailable() {
				backends = append(backends, cpjit.BackendNative)
			}
			report := performance.BackendBenchReport{
				Program:      "straight-line alu",
				Runs:         runs,
				Instructions: sizes,
				GeneratedAt:  time.Now().UTC(),
			}
			for _, b := range backends {
				report.Backends = append(report.Backends, b.String())
			}

			var stats []*performance.CompileStats
			for _, n := range sizes {
				p := benchProgram(n)
				s, err := performance.Benchmark(e.Compiler(), p)
				if err != nil {
					return fmt.Errorf("compile %d instructions: %w", n, err)
				}
				s.Name = fmt.Sprintf("straight-%d", n)
				stats = append(stats, s)

				for _, b := range backends {
					if b == cpjit.BackendNative && e.Compiler().EstimateSize(p) > e.Pool().BufferSize() {
						log.Warn(log.CliMonitoring, "program exceeds buffer size, skipping native", "instructions", n)
						continue
					}
					res, err := performance.MeasureBackend(b.String(), n, runs, func() error {
						out, err := e.Execute(cmd.Context(), p, cpjit.Options{Backend: b})
						if err != nil {
							return err
						}
						return out.Result.Err()
					})
					if err != nil {
						return err
					}
					report.Results = append(report.Results, res)
					fmt.Fprintf(cmd.OutOrStdout(), "%-7s %5d instructions  avg %8dns  min %8dns  max %8dns\n",
						b, n, res.AvgNs, res.MinNs, res.MaxNs)
				}
			}

			agg := performance.CalculateAggregate(stats)
			fmt.Fprintf(cmd.OutOrStdout(), "compiled %d programs, average %s, %.2f bytes of machine code per IR byte\n",
				agg.TotalPrograms, agg.AverageCompileTime, agg.AverageX86ToIRCodeRatio)

			for _, row := range e.Timings().Snapshot() {
				fmt.Fprintln(cmd.OutOrStdout(), row)
			}

			cfg := performance.DefaultChartConfig()
			cfg.OutputDir = outDir
			if err := performance.GenerateAllCharts(stats, report.Results, cfg); err != nil {
				return err
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			path := filepath.Join(outDir, "backend_bench.json")
			if err := os.WriteFile(path, data, 0644); err != nil {
				return err
			}
			log.Info(log.CliMonitoring, "benchmark report written", "path", path)
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&sizes, "sizes", []int{16, 64, 256, 1024}, "program lengths to benchmark")
	cmd.Flags().IntVar(&runs, "runs", 20, "executions per backend and size")
	cmd.Flags().StringVar(&outDir, "out", "results", "directory for charts and the JSON report")
	return cmd
}

// benchProgram is n-1 ALU instructions over r1..r8 followed by a halt.
func benchProgram(n int) *ir.Program {
	modes := []uint8{ir.AluAdd, ir.AluXor, ir.AluSub, ir.AluOr, ir.AluAnd}
	insts := make([]ir.Instruction, 0, n)
	for i := 0; i < n-1; i++ {
		rd := ir.Register(1 + i%8)
		if i < 8 {
			insts = append(insts, ir.Instruction{Opcode: ir.AluI, Mode: ir.AluAdd, Rd: rd, Rs1: ir.Zero, Imm: int32(i*7 + 3)})
			continue
		}
		insts = append(insts, ir.Instruction{
			Opcode: ir.Alu,
			Mode:   modes[i%len(modes)],
			Rd:     rd,
			Rs1:    ir.Register(1 + (i+3)%8),
			Rs2:    ir.Register(1 + (i+5)%8),
		})
	}
	insts = append(insts, ir.Instruction{Opcode: ir.Halt})
	return ir.NewProgram(insts...)
}
