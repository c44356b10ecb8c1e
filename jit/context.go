// Package jit is the handler-table executor: one pre-compiled Go function per opcode, looked
// up by opcode byte on every step. It runs any program, including those with control flow
// that the stencil compiler does not cover.
package jit

import (
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/vm"
)

// Context is the state a handler operates on.
type Context struct {
	*vm.State
	Halted bool
	Err    error
}

func NewContext(p *ir.Program, cfg vm.Config, env vm.Env) *Context {
	return &Context{State: vm.NewState(p, cfg, env)}
}

// InstructionCount is the number of handlers invoked so far.
func (c *Context) InstructionCount() uint64 {
	return c.Steps
}

func (c *Context) finish(res vm.Result) {
	c.Halted = res.Status == vm.Halted
	c.Err = res.Err()
}
