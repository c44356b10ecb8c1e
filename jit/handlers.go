package jit

import (
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/vm"
)

// Handler executes one instruction against ctx.
type Handler func(ctx *Context, inst ir.Instruction) vm.ControlFlow

var handlers [256]Handler

func init() {
	handlers[ir.Alu] = handleALU
	handlers[ir.AluI] = handleALUI
	handlers[ir.MulDiv] = handleMULDIV
	handlers[ir.Load] = handleLOAD
	handlers[ir.Store] = handleSTORE
	handlers[ir.Atomic] = handleATOMIC
	handlers[ir.Branch] = handleBRANCH
	handlers[ir.Call] = handleCALL
	handlers[ir.Ret] = handleRET
	handlers[ir.Jump] = handleJUMP
	handlers[ir.CapNew] = handleCAP
	handlers[ir.CapRestrict] = handleCAP
	handlers[ir.CapQuery] = handleCAP
	handlers[ir.Spawn] = handleSPAWN
	handlers[ir.Join] = handleJOIN
	handlers[ir.Chan] = handleCHAN
	handlers[ir.Fence] = handleNOP
	handlers[ir.Yield] = handleYIELD
	handlers[ir.Taint] = handleTAINT
	handlers[ir.Sanitize] = handleSANITIZE
	handlers[ir.File] = handleFILE
	handlers[ir.Net] = handleNET
	handlers[ir.NetSetopt] = handleNETSETOPT
	handlers[ir.Io] = handleIO
	handlers[ir.Time] = handleTIME
	handlers[ir.Fpu] = handleFPU
	handlers[ir.Rand] = handleRAND
	handlers[ir.Bits] = handleBITS
	handlers[ir.Mov] = handleMOV
	handlers[ir.Trap] = handleTRAP
	handlers[ir.Nop] = handleNOP
	handlers[ir.Halt] = handleHALT
	handlers[ir.ExtCall] = handleEXTCALL
}

// HandlerFor returns the handler for op, or nil when none is registered.
func HandlerFor(op ir.Opcode) Handler {
	return handlers[op]
}

func dispatch(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	h := handlers[inst.Opcode]
	if h == nil {
		return vm.Fail(jiterrors.ErrInvalidOpcode)
	}
	return h(ctx, inst)
}

func handleALU(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	r := &ctx.Regs
	r.Set(inst.Rd, vm.Alu(inst.Mode, r.Get(inst.Rs1), r.Get(inst.Rs2)))
	return vm.Continue()
}

func handleALUI(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	r := &ctx.Regs
	r.Set(inst.Rd, vm.Alu(inst.Mode, r.Get(inst.Rs1), vm.Sext(inst.Imm)))
	return vm.Continue()
}

// handleMULDIV leaves rd untouched on a zero divisor.
func handleMULDIV(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	r := &ctx.Regs
	v, err := vm.MulDiv(inst.Mode, r.Get(inst.Rs1), r.Get(inst.Rs2))
	if err != nil {
		return vm.Fail(err)
	}
	r.Set(inst.Rd, v)
	return vm.Continue()
}

func handleLOAD(ctx *Context, inst ir.Instruction) vm.ControlFlow   { return ctx.Load(inst) }
func handleSTORE(ctx *Context, inst ir.Instruction) vm.ControlFlow  { return ctx.Store(inst) }
func handleATOMIC(ctx *Context, inst ir.Instruction) vm.ControlFlow { return ctx.Atomic(inst) }

func handleBRANCH(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	cf, _ := ctx.Branch(inst)
	return cf
}

func handleCALL(ctx *Context, inst ir.Instruction) vm.ControlFlow { return ctx.Call(inst) }
func handleRET(ctx *Context, _ ir.Instruction) vm.ControlFlow     { return ctx.Ret() }
func handleJUMP(ctx *Context, inst ir.Instruction) vm.ControlFlow { return ctx.Jump(inst) }

func handleCAP(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Cap(inst)
	return vm.Continue()
}

func handleSPAWN(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Spawn(inst)
	return vm.Continue()
}

func handleJOIN(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Join(inst)
	return vm.Continue()
}

func handleCHAN(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Chan(inst)
	return vm.Continue()
}

func handleYIELD(ctx *Context, _ ir.Instruction) vm.ControlFlow {
	ctx.Yield()
	return vm.Continue()
}

func handleTAINT(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Taint(inst)
	return vm.Continue()
}

func handleSANITIZE(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Sanitize(inst)
	return vm.Continue()
}

func handleFILE(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.File(inst)
	return vm.Continue()
}

func handleNET(ctx *Context, inst ir.Instruction) vm.ControlFlow { return ctx.Net(inst) }

func handleNETSETOPT(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.NetSetopt(inst)
	return vm.Continue()
}

func handleIO(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Io(inst)
	return vm.Continue()
}

func handleTIME(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Time(inst)
	return vm.Continue()
}

func handleFPU(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	r := &ctx.Regs
	r.Set(inst.Rd, vm.Fpu(inst.Mode, r.Get(inst.Rs1), r.Get(inst.Rs2)))
	return vm.Continue()
}

func handleRAND(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Rand(inst)
	return vm.Continue()
}

func handleBITS(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	r := &ctx.Regs
	r.Set(inst.Rd, vm.Bits(inst.Mode, r.Get(inst.Rs1)))
	return vm.Continue()
}

func handleMOV(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.Mov(inst)
	return vm.Continue()
}

func handleTRAP(ctx *Context, inst ir.Instruction) vm.ControlFlow { return ctx.Trap(inst) }
func handleNOP(*Context, ir.Instruction) vm.ControlFlow           { return vm.Continue() }
func handleHALT(*Context, ir.Instruction) vm.ControlFlow          { return vm.Halt() }

func handleEXTCALL(ctx *Context, inst ir.Instruction) vm.ControlFlow {
	ctx.ExtCall(inst)
	return vm.Continue()
}
