// Package interpreter executes IR programs by switch dispatch. It is the portable backend
// and the reference the other backends are compared against.
package interpreter

import (
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/vm"
)

type Interpreter struct {
	program  *ir.Program
	state    *vm.State
	coverage *Coverage
}

func New(p *ir.Program, cfg vm.Config, env vm.Env) *Interpreter {
	return &Interpreter{program: p, state: vm.NewState(p, cfg, env)}
}

// WithCoverage enables coverage tracking for subsequent runs.
func (it *Interpreter) WithCoverage() *Interpreter {
	it.coverage = NewCoverage(len(it.program.Instructions))
	return it
}

func (it *Interpreter) State() *vm.State     { return it.state }
func (it *Interpreter) Coverage() *Coverage  { return it.coverage }
func (it *Interpreter) Program() *ir.Program { return it.program }

// Run executes until the program halts, traps or faults.
func (it *Interpreter) Run() vm.Result {
	res := vm.Run(it.program, it.state, it.step)
	log.Debug(log.InterpMonitoring, "interpreter finished", "status", res.Status, "value", res.Value, "steps", res.Steps)
	return res
}

// Execute interprets p on a fresh state.
func Execute(p *ir.Program, cfg vm.Config, env vm.Env) vm.Result {
	return New(p, cfg, env).Run()
}

func (it *Interpreter) step(st *vm.State, inst ir.Instruction) vm.ControlFlow {
	if it.coverage != nil {
		it.coverage.MarkExecuted(st.PC)
	}
	r := &st.Regs
	switch inst.Opcode {
	case ir.Alu:
		r.Set(inst.Rd, vm.Alu(inst.Mode, r.Get(inst.Rs1), r.Get(inst.Rs2)))
	case ir.AluI:
		r.Set(inst.Rd, vm.Alu(inst.Mode, r.Get(inst.Rs1), vm.Sext(inst.Imm)))
	case ir.MulDiv:
		v, err := vm.MulDiv(inst.Mode, r.Get(inst.Rs1), r.Get(inst.Rs2))
		if err != nil {
			return vm.Fail(err)
		}
		r.Set(inst.Rd, v)
	case ir.Load:
		return st.Load(inst)
	case ir.Store:
		return st.Store(inst)
	case ir.Atomic:
		return st.Atomic(inst)
	case ir.Branch:
		cf, taken := st.Branch(inst)
		if it.coverage != nil && inst.Mode != ir.CondAlways {
			it.coverage.MarkBranch(st.PC, taken)
		}
		return cf
	case ir.Call:
		return st.Call(inst)
	case ir.Ret:
		return st.Ret()
	case ir.Jump:
		return st.Jump(inst)
	case ir.CapNew, ir.CapRestrict, ir.CapQuery:
		st.Cap(inst)
	case ir.Spawn:
		st.Spawn(inst)
	case ir.Join:
		st.Join(inst)
	case ir.Chan:
		st.Chan(inst)
	case ir.Fence, ir.Nop:
	case ir.Yield:
		st.Yield()
	case ir.Taint:
		st.Taint(inst)
	case ir.Sanitize:
		st.Sanitize(inst)
	case ir.File:
		st.File(inst)
	case ir.Net:
		return st.Net(inst)
	case ir.NetSetopt:
		st.NetSetopt(inst)
	case ir.Io:
		st.Io(inst)
	case ir.Time:
		st.Time(inst)
	case ir.Fpu:
		r.Set(inst.Rd, vm.Fpu(inst.Mode, r.Get(inst.Rs1), r.Get(inst.Rs2)))
	case ir.Rand:
		st.Rand(inst)
	case ir.Bits:
		r.Set(inst.Rd, vm.Bits(inst.Mode, r.Get(inst.Rs1)))
	case ir.Mov:
		st.Mov(inst)
	case ir.Trap:
		return st.Trap(inst)
	case ir.Halt:
		return vm.Halt()
	case ir.ExtCall:
		st.ExtCall(inst)
	default:
		return vm.Fail(jiterrors.ErrInvalidOpcode)
	}
	return vm.Continue()
}
