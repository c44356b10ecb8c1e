package vm

import (
	"fmt"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/security"
)

const (
	DefaultBudget         = 1_000_000
	DefaultCallStackDepth = 256
)

// Config bounds one execution. A zero Budget means unlimited.
type Config struct {
	MemorySize     int
	Budget         uint64
	CallStackDepth int
}

func DefaultConfig() Config {
	return Config{
		MemorySize:     DefaultMemorySize,
		Budget:         DefaultBudget,
		CallStackDepth: DefaultCallStackDepth,
	}
}

// Env carries the external collaborators. Nil members make their opcodes return the
// documented fallback values.
type Env struct {
	IO       IORuntime
	Ext      Extensions
	Tasks    Tasks
	Entropy  Entropy
	Security *security.Context
}

// State is the complete mutable state of one execution. It is owned by a single goroutine.
type State struct {
	Regs      Registers
	Mem       *Memory
	PC        uint64
	CallStack []uint64
	MaxDepth  int
	Budget    uint64
	Steps     uint64
	Env       Env
}

// NewState prepares an execution of p: memory sized per cfg with the data section loaded and
// pc at the entry point.
func NewState(p *ir.Program, cfg Config, env Env) *State {
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = DefaultMemorySize
	}
	if cfg.CallStackDepth <= 0 {
		cfg.CallStackDepth = DefaultCallStackDepth
	}
	if env.Security == nil {
		env.Security = security.NewContext()
	}
	if env.Entropy == nil {
		env.Entropy = NewTimeSeededLCG()
	}
	mem := NewMemory(cfg.MemorySize)
	mem.LoadData(p.Data)
	return &State{
		Mem:       mem,
		PC:        uint64(p.Entry),
		CallStack: make([]uint64, 0, min(cfg.CallStackDepth, 64)),
		MaxDepth:  cfg.CallStackDepth,
		Budget:    cfg.Budget,
		Env:       env,
	}
}

// Step executes one instruction against the state.
type Step func(st *State, inst ir.Instruction) ControlFlow

// Run is the dispatch loop shared by every backend. Running past the last instruction halts
// with r0.
func Run(p *ir.Program, st *State, step Step) Result {
	n := uint64(len(p.Instructions))
	for {
		if st.Budget > 0 && st.Steps >= st.Budget {
			return st.fault(jiterrors.ErrInstructionBudgetExceeded)
		}
		if st.PC >= n {
			return Result{Status: Halted, Value: st.Regs.Get(ir.R0), Steps: st.Steps}
		}
		inst := p.Instructions[st.PC]
		st.Steps++
		cf := step(st, inst)
		switch cf.Kind {
		case FlowContinue:
			st.PC++
		case FlowJump:
			target := int64(st.PC) + int64(cf.Offset)
			if target < 0 {
				return st.fault(fmt.Errorf("%w: jump to %d", jiterrors.ErrOutOfBounds, target))
			}
			st.PC = uint64(target)
		case FlowAbsoluteJump:
			st.PC = cf.Target
		case FlowHalt:
			return Result{Status: Halted, Value: st.Regs.Get(ir.R0), Steps: st.Steps}
		default:
			return resultFromError(st.wrap(cf.Err), st.Regs.Get(ir.R0), st.Steps)
		}
	}
}

func (st *State) wrap(err error) error {
	if _, isTrap := err.(*TrapError); isTrap {
		return err
	}
	return &jiterrors.Fault{Err: err, PC: st.PC}
}

func (st *State) fault(err error) Result {
	return Result{Status: Faulted, Fault: st.wrap(err), Value: st.Regs.Get(ir.R0), Steps: st.Steps}
}
