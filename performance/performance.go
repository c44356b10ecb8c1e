package performance

import (
	"time"

	"github.com/colorfulnotion/cpjit/compiler"
	"github.com/colorfulnotion/cpjit/ir"
)

// CompileStats contains performance statistics for a single compilation
type CompileStats struct {
	Name string `json:"name"`

	// Timing
	CompileTime time.Duration `json:"compile_time"`

	// IR statistics
	IRCodeSize         int `json:"ir_code_size"`
	IRInstructionCount int `json:"ir_instruction_count"`

	// X86 statistics
	X86CodeSize         int `json:"x86_code_size"`
	X86InstructionCount int `json:"x86_instruction_count"`

	// Ratios
	X86ToIRCodeRatio        float64 `json:"x86_to_ir_code_ratio"`
	X86ToIRInstructionRatio float64 `json:"x86_to_ir_instruction_ratio"`
}

// AggregateStats contains aggregated statistics across all programs
type AggregateStats struct {
	TotalPrograms int `json:"total_programs"`

	// Timing
	TotalCompileTime   time.Duration `json:"total_compile_time"`
	AverageCompileTime time.Duration `json:"average_compile_time"`
	MinCompileTime     time.Duration `json:"min_compile_time"`
	MaxCompileTime     time.Duration `json:"max_compile_time"`

	// IR totals
	TotalIRCodeSize     int `json:"total_ir_code_size"`
	TotalIRInstructions int `json:"total_ir_instructions"`

	// X86 totals
	TotalX86CodeSize     int `json:"total_x86_code_size"`
	TotalX86Instructions int `json:"total_x86_instructions"`

	// Average ratios
	AverageX86ToIRCodeRatio        float64 `json:"average_x86_to_ir_code_ratio"`
	AverageX86ToIRInstructionRatio float64 `json:"average_x86_to_ir_instruction_ratio"`
}

// Benchmark measures compilation performance for an IR program. It produces the byte image
// only, so no executable buffer is consumed.
func Benchmark(c *compiler.Compiler, p *ir.Program) (*CompileStats, error) {
	stats := &CompileStats{
		IRCodeSize:         p.CodeSize(),
		IRInstructionCount: p.Len(),
	}

	start := time.Now()
	code, err := c.CompileToBytes(p)
	stats.CompileTime = time.Since(start)
	if err != nil {
		return nil, err
	}

	stats.X86CodeSize = len(code)
	stats.X86InstructionCount = compiler.CountInstructions(code)

	if stats.IRCodeSize > 0 {
		stats.X86ToIRCodeRatio = float64(stats.X86CodeSize) / float64(stats.IRCodeSize)
	}
	if stats.IRInstructionCount > 0 {
		stats.X86ToIRInstructionRatio = float64(stats.X86InstructionCount) / float64(stats.IRInstructionCount)
	}
	return stats, nil
}

// CalculateAggregate computes aggregate statistics from a slice of CompileStats
func CalculateAggregate(stats []*CompileStats) *AggregateStats {
	if len(stats) == 0 {
		return &AggregateStats{}
	}

	agg := &AggregateStats{
		TotalPrograms:  len(stats),
		MinCompileTime: stats[0].CompileTime,
		MaxCompileTime: stats[0].CompileTime,
	}

	var totalCodeRatio, totalInstrRatio float64
	for _, s := range stats {
		agg.TotalCompileTime += s.CompileTime
		agg.MinCompileTime = min(agg.MinCompileTime, s.CompileTime)
		agg.MaxCompileTime = max(agg.MaxCompileTime, s.CompileTime)

		agg.TotalIRCodeSize += s.IRCodeSize
		agg.TotalIRInstructions += s.IRInstructionCount
		agg.TotalX86CodeSize += s.X86CodeSize
		agg.TotalX86Instructions += s.X86InstructionCount

		totalCodeRatio += s.X86ToIRCodeRatio
		totalInstrRatio += s.X86ToIRInstructionRatio
	}

	agg.AverageCompileTime = agg.TotalCompileTime / time.Duration(len(stats))
	agg.AverageX86ToIRCodeRatio = totalCodeRatio / float64(len(stats))
	agg.AverageX86ToIRInstructionRatio = totalInstrRatio / float64(len(stats))
	return agg
}
