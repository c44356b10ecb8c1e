package jit

import (
	"context"
	"runtime"
	"time"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/vm"
	"golang.org/x/sync/errgroup"
)

type Stats struct {
	Executions           uint64
	InstructionsExecuted uint64
	ExecutionTime        time.Duration
}

// Executor runs programs through the handler table. Registers set before Execute seed
// every subsequent execution.
type Executor struct {
	cfg   vm.Config
	env   vm.Env
	seed  vm.Registers
	ctx   *Context
	stats Stats
}

func NewExecutor(cfg vm.Config, env vm.Env) *Executor {
	return &Executor{cfg: cfg, env: env}
}

// Execute runs p on a fresh context.
func (e *Executor) Execute(p *ir.Program) vm.Result {
	e.ctx = NewContext(p, e.cfg, e.env)
	e.ctx.Regs = e.seed
	e.ctx.Regs[ir.Zero] = 0

	start := time.Now()
	res := vm.Run(p, e.ctx.State, func(_ *vm.State, inst ir.Instruction) vm.ControlFlow {
		return dispatch(e.ctx, inst)
	})
	elapsed := time.Since(start)
	e.ctx.finish(res)

	e.stats.Executions++
	e.stats.InstructionsExecuted += res.Steps
	e.stats.ExecutionTime += elapsed
	log.Debug(log.ExecMonitoring, "handler executor finished", "status", res.Status, "value", res.Value,
		"steps", res.Steps, "elapsed", elapsed)
	return res
}

func (e *Executor) Stats() Stats { return e.stats }

// Context is the context of the most recent execution, nil before the first.
func (e *Executor) Context() *Context { return e.ctx }

// Registers returns the register file of the most recent execution, or the seed before one.
func (e *Executor) Registers() vm.Registers {
	if e.ctx == nil {
		return e.seed
	}
	return e.ctx.Regs
}

func (e *Executor) SetRegister(r ir.Register, v uint64) {
	e.seed.Set(r, v)
}

// Memory is the memory of the most recent execution.
func (e *Executor) Memory() *vm.Memory {
	if e.ctx == nil {
		return nil
	}
	return e.ctx.Mem
}

// Execute runs p once through the handler table.
func Execute(p *ir.Program, cfg vm.Config, env vm.Env) vm.Result {
	return NewExecutor(cfg, env).Execute(p)
}

// ExecuteParallel runs one independent execution of p per input register file on at most
// workers goroutines. newEnv supplies each execution's collaborators and may be nil.
// Results are in input order; the only error is cancellation of ctx.
func ExecuteParallel(ctx context.Context, p *ir.Program, cfg vm.Config, inputs []vm.Registers,
	newEnv func(i int) vm.Env, workers int) ([]vm.Result, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([]vm.Result, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var env vm.Env
			if newEnv != nil {
				env = newEnv(i)
			}
			ex := NewExecutor(cfg, env)
			ex.seed = inputs[i]
			results[i] = ex.Execute(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debug(log.ExecMonitoring, "parallel execution finished", "runs", len(inputs), "workers", workers)
	return results, nil
}
