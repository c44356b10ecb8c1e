// Package compiler assembles native code by copying stencils into a scratch buffer, patching
// operands in place and moving the result into a pooled executable buffer.
package compiler

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/colorfulnotion/cpjit/bufferpool"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/stencil"
)

const (
	DefaultMaxProgramSize         = 64 * 1024
	DefaultUnknownStencilEstimate = 32
	DefaultEpilogueEstimate       = 16
)

type Options struct {
	// MaxProgramSize caps the estimated code size in bytes.
	MaxProgramSize int
	// UnknownStencilEstimate is charged for instructions without a stencil.
	UnknownStencilEstimate int
	EpilogueEstimate       int
}

func DefaultOptions() Options {
	return Options{
		MaxProgramSize:         DefaultMaxProgramSize,
		UnknownStencilEstimate: DefaultUnknownStencilEstimate,
		EpilogueEstimate:       DefaultEpilogueEstimate,
	}
}

// Stats counts compilations since the compiler was created.
type Stats struct {
	Compiled    uint64
	Failed      uint64
	BytesOut    uint64
	CompileTime time.Duration
}

// Compiler is safe for concurrent use: the table is immutable, the pool is lock-free and
// every compilation patches into its own scratch buffer.
type Compiler struct {
	table *stencil.Table
	pool  *bufferpool.Pool
	opts  Options

	compiled    atomic.Uint64
	failed      atomic.Uint64
	bytesOut    atomic.Uint64
	compileTime atomic.Int64
}

// New returns a compiler over table that allocates from pool. Zero option fields take their
// defaults. pool may be nil for a compiler that only produces byte images.
func New(table *stencil.Table, pool *bufferpool.Pool, opts Options) *Compiler {
	def := DefaultOptions()
	if opts.MaxProgramSize <= 0 {
		opts.MaxProgramSize = def.MaxProgramSize
	}
	if opts.UnknownStencilEstimate <= 0 {
		opts.UnknownStencilEstimate = def.UnknownStencilEstimate
	}
	if opts.EpilogueEstimate <= 0 {
		opts.EpilogueEstimate = def.EpilogueEstimate
	}
	return &Compiler{table: table, pool: pool, opts: opts}
}

func (c *Compiler) Table() *stencil.Table  { return c.table }
func (c *Compiler) Pool() *bufferpool.Pool { return c.pool }
func (c *Compiler) Options() Options       { return c.opts }

func (c *Compiler) Stats() Stats {
	return Stats{
		Compiled:    c.compiled.Load(),
		Failed:      c.failed.Load(),
		BytesOut:    c.bytesOut.Load(),
		CompileTime: time.Duration(c.compileTime.Load()),
	}
}

// EstimateSize sums the usable stencil lengths, charging UnknownStencilEstimate for each
// instruction without a stencil, plus EpilogueEstimate.
func (c *Compiler) EstimateSize(p *ir.Program) int {
	size := c.opts.EpilogueEstimate
	for _, inst := range p.Instructions {
		if t, ok := c.table.Lookup(inst.Opcode, inst.Mode); ok {
			size += t.UsableLen()
		} else {
			size += c.opts.UnknownStencilEstimate
		}
	}
	return size
}

func (c *Compiler) sizeLimit() int {
	if c.pool != nil {
		return min(c.opts.MaxProgramSize, c.pool.BufferSize())
	}
	return c.opts.MaxProgramSize
}

// Compile translates p into executable code. On any error no buffer is held.
func (c *Compiler) Compile(p *ir.Program) (*CompiledCode, error) {
	start := time.Now()
	code, err := c.compile(p)
	if err != nil {
		c.failed.Add(1)
		log.Debug(log.CompileMonitoring, "compile failed", "instructions", p.Len(), "err", err)
		return nil, err
	}
	cc, err := c.load(code, p.Len(), start)
	if err != nil {
		c.failed.Add(1)
		return nil, err
	}
	c.compiled.Add(1)
	c.bytesOut.Add(uint64(len(code)))
	c.compileTime.Add(int64(cc.compileTime))
	log.Trace(log.CompileMonitoring, "compiled", "instructions", p.Len(), "bytes", len(code), "elapsed", cc.compileTime)
	return cc, nil
}

// Load copies a previously compiled byte image, such as one from CompileToBytes, into an
// executable buffer.
func (c *Compiler) Load(code []byte, instructions int) (*CompiledCode, error) {
	return c.load(code, instructions, time.Now())
}

func (c *Compiler) load(code []byte, instructions int, start time.Time) (*CompiledCode, error) {
	if c.pool == nil {
		return nil, &jiterrors.CompileError{Err: jiterrors.ErrBufferAllocationFailed, Index: -1}
	}
	buf, ok := c.pool.Acquire()
	if !ok {
		log.Debug(log.CompileMonitoring, "no executable buffer", "capacity", c.pool.Capacity())
		return nil, &jiterrors.CompileError{Err: jiterrors.ErrBufferAllocationFailed, Index: -1}
	}
	if err := buf.Write(code); err != nil {
		buf.Release()
		return nil, &jiterrors.CompileError{Err: fmt.Errorf("%w: %w", jiterrors.ErrProgramTooLarge, err), Index: -1}
	}
	return &CompiledCode{
		buf:          buf,
		size:         len(code),
		instructions: instructions,
		compileTime:  time.Since(start),
	}, nil
}

// CompileToBytes produces the position-independent byte image of p without touching the pool.
func (c *Compiler) CompileToBytes(p *ir.Program) ([]byte, error) {
	return c.compile(p)
}

func (c *Compiler) compile(p *ir.Program) ([]byte, error) {
	est := c.EstimateSize(p)
	if limit := c.sizeLimit(); est > limit {
		return nil, &jiterrors.CompileError{
			Err:   fmt.Errorf("%w: estimated %d bytes, limit %d", jiterrors.ErrProgramTooLarge, est, limit),
			Index: -1,
		}
	}
	scratch := make([]byte, 0, est)
	for i, inst := range p.Instructions {
		var err error
		if scratch, err = c.appendInstruction(scratch, i, inst); err != nil {
			return nil, err
		}
	}
	return append(scratch, c.table.Epilogue()...), nil
}

func (c *Compiler) appendInstruction(dst []byte, idx int, inst ir.Instruction) ([]byte, error) {
	if err := inst.Validate(); err != nil {
		return nil, &jiterrors.CompileError{
			Err:    fmt.Errorf("%w: %w", jiterrors.ErrInvalidInstruction, err),
			Index:  idx,
			Opcode: uint8(inst.Opcode),
			Mode:   inst.Mode,
		}
	}
	t, ok := c.table.Lookup(inst.Opcode, inst.Mode)
	if !ok {
		return nil, &jiterrors.CompileError{
			Err:    jiterrors.ErrMissingStencil,
			Index:  idx,
			Opcode: uint8(inst.Opcode),
			Mode:   inst.Mode,
		}
	}
	return stencil.AppendPatched(dst, t, inst), nil
}

// CompileInstruction returns one patched stencil followed by the epilogue.
func (c *Compiler) CompileInstruction(inst ir.Instruction) ([]byte, error) {
	code, err := c.appendInstruction(nil, 0, inst)
	if err != nil {
		return nil, err
	}
	return append(code, c.table.Epilogue()...), nil
}

// CanCompile reports whether p is straight-line, starts at instruction 0 and every
// instruction has a stencil.
func (c *Compiler) CanCompile(p *ir.Program) bool {
	if p.Entry != 0 || !p.IsStraightLine() {
		return false
	}
	for _, inst := range p.Instructions {
		if inst.Validate() != nil {
			return false
		}
		if _, ok := c.table.Lookup(inst.Opcode, inst.Mode); !ok {
			return false
		}
	}
	return true
}
