// Package cpjit selects a backend for an IR program and runs it: the interpreter for short
// programs, stencil-compiled machine code for straight-line programs the host can execute, and
// the handler executor for everything else.
package cpjit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/colorfulnotion/cpjit/aot"
	"github.com/colorfulnotion/cpjit/arch"
	"github.com/colorfulnotion/cpjit/bufferpool"
	"github.com/colorfulnotion/cpjit/compiler"
	"github.com/colorfulnotion/cpjit/config"
	"github.com/colorfulnotion/cpjit/extensions"
	"github.com/colorfulnotion/cpjit/interpreter"
	"github.com/colorfulnotion/cpjit/ioruntime"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jit"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/stencil"
	"github.com/colorfulnotion/cpjit/telemetry"
	"github.com/colorfulnotion/cpjit/timing"
	"github.com/colorfulnotion/cpjit/vm"
)

type Backend uint8

const (
	BackendAuto Backend = iota
	BackendInterpreter
	BackendJIT
	BackendNative
)

var backendNames = map[Backend]string{
	BackendAuto:        "auto",
	BackendInterpreter: "interp",
	BackendJIT:         "jit",
	BackendNative:      "native",
}

func (b Backend) String() string {
	if s, ok := backendNames[b]; ok {
		return s
	}
	return fmt.Sprintf("backend(%d)", uint8(b))
}

var ErrUnknownBackend = errors.New("unknown backend")

func ParseBackend(s string) (Backend, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "interpreter" {
		return BackendInterpreter, nil
	}
	for b, name := range backendNames {
		if name == s {
			return b, nil
		}
	}
	return BackendAuto, fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// Options configure a single Execute call.
type Options struct {
	Backend Backend
	// Env collaborators left nil are filled in by the engine: a permission-gated I/O runtime
	// built from the configuration and the shared extension registry.
	Env vm.Env
	// Registers seeds the register file. Zero is cleared before execution.
	Registers *vm.Registers
	// Coverage forces the interpreter and records per-instruction coverage.
	Coverage bool
}

// Execution is the outcome of Execute. Runtime faults and traps are reported in Result, not as
// errors.
type Execution struct {
	Result      vm.Result
	Backend     Backend
	Registers   vm.Registers
	Coverage    *interpreter.Coverage
	CacheHit    bool
	CompileTime time.Duration
	ExecTime    time.Duration
}

type Engine struct {
	cfg       *config.Config
	table     *stencil.Table
	pool      *bufferpool.Pool
	compiler  *compiler.Compiler
	store     *aot.Store
	ext       *extensions.Registry
	telemetry *telemetry.Provider
	timings   *timing.Recorder
}

type EngineOption func(*Engine)

// WithTable replaces the host stencil table.
func WithTable(t *stencil.Table) EngineOption {
	return func(e *Engine) { e.table = t }
}

// WithTelemetry replaces the provider built from the configuration.
func WithTelemetry(p *telemetry.Provider) EngineOption {
	return func(e *Engine) { e.telemetry = p }
}

func WithExtensions(r *extensions.Registry) EngineOption {
	return func(e *Engine) { e.ext = r }
}

// NewEngine builds the shared state of every execution. A pool that cannot be mapped disables
// the native backend but is not an error.
func NewEngine(ctx context.Context, cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, timings: timing.New()}
	for _, opt := range opts {
		opt(e)
	}

	if e.table == nil {
		table, err := arch.NativeTable()
		if err != nil {
			return nil, fmt.Errorf("stencil table: %w", err)
		}
		e.table = table
	}
	pool, err := bufferpool.New(cfg.Pool.Capacity, cfg.Pool.BufferSize)
	if err != nil {
		log.Warn(log.PoolMonitoring, "buffer pool unavailable, native backend disabled", "err", err)
	} else {
		e.pool = pool
	}
	e.compiler = compiler.New(e.table, e.pool, cfg.CompilerOptions())

	if cfg.AOT.Enabled {
		store, err := aot.Open(cfg.AOT.Path)
		if err != nil {
			e.closePool()
			return nil, err
		}
		e.store = store
	}
	if e.ext == nil {
		e.ext = extensions.New()
	}
	if e.telemetry == nil {
		tp, err := telemetry.New(ctx, cfg.Telemetry)
		if err != nil {
			e.closePool()
			if e.store != nil {
				e.store.Close()
			}
			return nil, err
		}
		e.telemetry = tp
	}
	log.Info(log.CompileMonitoring, "engine ready", "arch", e.table.Arch(), "stencils", e.table.Len(),
		"native", e.NativeAvailable(), "aot", e.store != nil)
	return e, nil
}

func (e *Engine) Config() *config.Config           { return e.cfg }
func (e *Engine) Table() *stencil.Table            { return e.table }
func (e *Engine) Compiler() *compiler.Compiler     { return e.compiler }
func (e *Engine) Pool() *bufferpool.Pool           { return e.pool }
func (e *Engine) Store() *aot.Store                { return e.store }
func (e *Engine) Extensions() *extensions.Registry { return e.ext }
func (e *Engine) Timings() *timing.Recorder        { return e.timings }

// NativeAvailable reports whether compiled code can be called on this host.
func (e *Engine) NativeAvailable() bool {
	return compiler.NativeSupported && e.pool != nil && e.pool.Executable() && e.table.Len() > 0
}

// Select returns the backend Execute would use for p under opts.
func (e *Engine) Select(p *ir.Program, opts Options) Backend {
	if opts.Backend != BackendAuto {
		return opts.Backend
	}
	if opts.Coverage || e.cfg.Exec.Coverage {
		return BackendInterpreter
	}
	if p.Len() < e.cfg.Exec.InterpreterThreshold {
		return BackendInterpreter
	}
	if e.NativeAvailable() && e.compiler.CanCompile(p) && e.withinBudget(p) {
		return BackendNative
	}
	return BackendJIT
}

// nativeSteps is the step count the portable backends report for a straight-line program.
func nativeSteps(p *ir.Program) uint64 {
	for i, inst := range p.Instructions {
		if inst.Opcode == ir.Halt {
			return uint64(i + 1)
		}
	}
	return uint64(p.Len())
}

// withinBudget reports whether p finishes before the instruction budget is checked against it.
// Compiled code cannot fault on the budget, so programs that would are left to the executor.
func (e *Engine) withinBudget(p *ir.Program) bool {
	budget := e.cfg.Exec.InstructionBudget
	return budget == 0 || nativeSteps(p) < budget
}

func (e *Engine) env(opts Options) (vm.Env, func()) {
	env := opts.Env
	cleanup := func() {}
	if env.IO == nil {
		rt := ioruntime.New(e.cfg.IO)
		env.IO = rt
		cleanup = func() {
			if err := rt.Close(); err != nil {
				log.Debug(log.IOMonitoring, "closing io runtime", "err", err)
			}
		}
	}
	if env.Ext == nil {
		env.Ext = e.ext
	}
	return env, cleanup
}

// Execute runs p to completion on the selected backend. The returned error covers only what
// prevents execution: cancellation, an unusable forced backend or a compile failure.
func (e *Engine) Execute(ctx context.Context, p *ir.Program, opts Options) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	backend := e.Select(p, opts)
	ctx, span := e.telemetry.Start(ctx, "cpjit.execute",
		attribute.String("backend", backend.String()),
		attribute.Int("instructions", p.Len()))

	var (
		out *Execution
		err error
	)
	done := e.timings.Start("execute." + backend.String())
	defer done()
	switch backend {
	case BackendInterpreter:
		out = e.interpret(p, opts)
	case BackendJIT:
		out = e.handlers(p, opts)
	case BackendNative:
		out, err = e.native(ctx, p, opts)
		if err != nil && opts.Backend == BackendAuto && recoverable(err) {
			log.Debug(log.CompileMonitoring, "native compile failed, using handler executor", "err", err)
			span.SetAttributes(attribute.String("fallback", BackendJIT.String()))
			out, err = e.handlers(p, opts), nil
		}
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
	if err != nil {
		telemetry.End(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("status", out.Result.Status.String()),
		attribute.Int64("steps", int64(out.Result.Steps)))
	telemetry.End(span, out.Result.Err())
	log.Debug(log.ExecMonitoring, "execute", "backend", backend, "result", out.Result, "elapsed", out.ExecTime)
	return out, nil
}

// recoverable reports whether a native compile failure can be retried on the handler executor.
func recoverable(err error) bool {
	return errors.Is(err, jiterrors.ErrProgramTooLarge) || errors.Is(err, jiterrors.ErrBufferAllocationFailed)
}

func (e *Engine) interpret(p *ir.Program, opts Options) *Execution {
	env, cleanup := e.env(opts)
	defer cleanup()
	it := interpreter.New(p, e.cfg.VM(), env)
	if opts.Coverage || e.cfg.Exec.Coverage {
		it.WithCoverage()
	}
	if opts.Registers != nil {
		it.State().Regs = *opts.Registers
		it.State().Regs.Set(ir.Zero, 0)
	}
	start := time.Now()
	res := it.Run()
	return &Execution{
		Result:    res,
		Backend:   BackendInterpreter,
		Registers: it.State().Regs,
		Coverage:  it.Coverage(),
		ExecTime:  time.Since(start),
	}
}

func (e *Engine) handlers(p *ir.Program, opts Options) *Execution {
	env, cleanup := e.env(opts)
	defer cleanup()
	ex := jit.NewExecutor(e.cfg.VM(), env)
	if opts.Registers != nil {
		for r := ir.Register(0); r < ir.NumRegisters; r++ {
			ex.SetRegister(r, opts.Registers.Get(r))
		}
	}
	start := time.Now()
	res := ex.Execute(p)
	return &Execution{
		Result:    res,
		Backend:   BackendJIT,
		Registers: ex.Registers(),
		ExecTime:  time.Since(start),
	}
}

func (e *Engine) native(ctx context.Context, p *ir.Program, opts Options) (*Execution, error) {
	if !e.NativeAvailable() {
		return nil, jiterrors.ErrNativeUnsupported
	}
	_, span := e.telemetry.Start(ctx, "cpjit.compile", attribute.Int("instructions", p.Len()))
	var (
		code *compiler.CompiledCode
		hit  bool
		err  error
	)
	done := e.timings.Start("compile")
	start := time.Now()
	if e.store != nil {
		code, hit, err = e.store.Load(e.compiler, p)
	} else {
		code, err = e.compiler.Compile(p)
	}
	compileTime := time.Since(start)
	done()
	if err == nil {
		span.SetAttributes(attribute.Int("bytes", code.Size()), attribute.Bool("cache_hit", hit))
	}
	telemetry.End(span, err)
	if err != nil {
		return nil, err
	}
	defer code.Close()

	var regs vm.Registers
	if opts.Registers != nil {
		regs = *opts.Registers
	}
	start = time.Now()
	value, err := code.Call(&regs)
	if err != nil {
		return nil, err
	}
	return &Execution{
		Result:      vm.Result{Status: vm.Halted, Value: value, Steps: nativeSteps(p)},
		Backend:     BackendNative,
		Registers:   regs,
		CacheHit:    hit,
		CompileTime: compileTime,
		ExecTime:    time.Since(start),
	}, nil
}

// ExecuteBatch runs one independent execution of p per input register file on the handler
// executor, using the configured number of workers. Executions share the extension registry and
// have no I/O runtime.
func (e *Engine) ExecuteBatch(ctx context.Context, p *ir.Program, inputs []vm.Registers) ([]vm.Result, error) {
	ctx, span := e.telemetry.Start(ctx, "cpjit.execute_batch",
		attribute.Int("instructions", p.Len()),
		attribute.Int("runs", len(inputs)))
	results, err := jit.ExecuteParallel(ctx, p, e.cfg.VM(), inputs, func(int) vm.Env {
		return vm.Env{Ext: e.ext}
	}, e.cfg.Exec.Workers)
	telemetry.End(span, err)
	return results, err
}

func (e *Engine) closePool() {
	if e.pool == nil {
		return
	}
	if err := e.pool.Close(); err != nil {
		log.Warn(log.PoolMonitoring, "closing buffer pool", "err", err)
	}
	e.pool = nil
}

// Close releases the pool, the artifact store and the telemetry exporter.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.pool != nil {
		errs = append(errs, e.pool.Close())
		e.pool = nil
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
		e.store = nil
	}
	if e.telemetry != nil {
		errs = append(errs, e.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
