package vm

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/security"
)

// ErrorWord is written to rd when an I/O, task or extension call fails.
const ErrorWord = ^uint64(0)

// maxAddrLen bounds the NUL-terminated host string read by Connect and Bind.
const maxAddrLen = 256

var processStart = time.Now()

func (st *State) get(r ir.Register) uint64    { return st.Regs.Get(r) }
func (st *State) set(r ir.Register, v uint64) { st.Regs.Set(r, v) }

func (st *State) addr(inst ir.Instruction) uint64 {
	return st.get(inst.Rs1) + Sext(inst.Imm)
}

func (st *State) Load(inst ir.Instruction) ControlFlow {
	v, err := st.Mem.Load(st.addr(inst), inst.Mode)
	if err != nil {
		return Fail(err)
	}
	st.set(inst.Rd, v)
	return Continue()
}

// Store writes rd to rs1+imm.
func (st *State) Store(inst ir.Instruction) ControlFlow {
	if err := st.Mem.Store(st.addr(inst), inst.Mode, st.get(inst.Rd)); err != nil {
		return Fail(err)
	}
	return Continue()
}

// Atomic performs a 64-bit read-modify-write at rs1 with operand rs2. Cas compares with rd.
// rd receives the previous value.
func (st *State) Atomic(inst ir.Instruction) ControlFlow {
	a := st.get(inst.Rs1)
	cur, err := st.Mem.Load(a, ir.WidthDouble)
	if err != nil {
		return Fail(err)
	}
	next := AtomicUpdate(inst.Mode, cur, st.get(inst.Rs2), st.get(inst.Rd))
	if err := st.Mem.Store(a, ir.WidthDouble, next); err != nil {
		return Fail(err)
	}
	st.set(inst.Rd, cur)
	return Continue()
}

// Branch returns the flow and whether the condition held.
func (st *State) Branch(inst ir.Instruction) (ControlFlow, bool) {
	if BranchTaken(inst.Mode, st.get(inst.Rs1), st.get(inst.Rs2)) {
		return Jump(inst.Imm), true
	}
	return Continue(), false
}

// Call pushes the return index, mirrors it into Lr and jumps relative.
func (st *State) Call(inst ir.Instruction) ControlFlow {
	if len(st.CallStack) >= st.MaxDepth {
		return Fail(fmt.Errorf("%w: depth %d", jiterrors.ErrStackOverflow, st.MaxDepth))
	}
	ret := st.PC + 1
	st.CallStack = append(st.CallStack, ret)
	st.set(ir.Lr, ret)
	return Jump(inst.Imm)
}

// Ret pops the call stack, falling back to Lr when it is empty.
func (st *State) Ret() ControlFlow {
	if n := len(st.CallStack); n > 0 {
		ret := st.CallStack[n-1]
		st.CallStack = st.CallStack[:n-1]
		return AbsoluteJump(ret)
	}
	if lr := st.get(ir.Lr); lr != 0 {
		return AbsoluteJump(lr)
	}
	return Fail(jiterrors.ErrStackUnderflow)
}

func (st *State) Jump(inst ir.Instruction) ControlFlow {
	if inst.Mode == ir.JumpIndirect {
		return AbsoluteJump(st.get(inst.Rs1))
	}
	return Jump(inst.Imm)
}

// Mov copies rs1, or loads the sign-extended immediate when rs1 is Zero.
func (st *State) Mov(inst ir.Instruction) {
	if inst.Rs1 != ir.Zero {
		st.set(inst.Rd, st.get(inst.Rs1))
		return
	}
	st.set(inst.Rd, Sext(inst.Imm))
}

// Cap passes rs1 through for CapNew, CapRestrict and CapQuery.
func (st *State) Cap(inst ir.Instruction) {
	st.set(inst.Rd, st.get(inst.Rs1))
}

func (st *State) taskResult(rd ir.Register, v uint64, err error) {
	if err != nil {
		st.set(rd, ErrorWord)
		return
	}
	st.set(rd, v)
}

func (st *State) Spawn(inst ir.Instruction) {
	if st.Env.Tasks == nil {
		st.set(inst.Rd, 0)
		return
	}
	v, err := st.Env.Tasks.Spawn(st.get(inst.Rs1), st.get(inst.Rs2))
	st.taskResult(inst.Rd, v, err)
}

func (st *State) Join(inst ir.Instruction) {
	if st.Env.Tasks == nil {
		st.set(inst.Rd, 0)
		return
	}
	v, err := st.Env.Tasks.Join(st.get(inst.Rs1))
	st.taskResult(inst.Rd, v, err)
}

func (st *State) Chan(inst ir.Instruction) {
	if st.Env.Tasks == nil {
		st.set(inst.Rd, 0)
		return
	}
	v, err := st.Env.Tasks.Chan(inst.Mode, st.get(inst.Rs1), st.get(inst.Rs2))
	st.taskResult(inst.Rd, v, err)
}

func (st *State) Yield() {
	runtime.Gosched()
}

func (st *State) Taint(inst ir.Instruction) {
	st.Env.Security.Taint.Taint(inst.Rd, security.UserInput)
}

func (st *State) Sanitize(inst ir.Instruction) {
	st.Env.Security.Taint.Sanitize(inst.Rd)
}

// bufLen is the immediate, or rd when the immediate is 0.
func (st *State) bufLen(inst ir.Instruction) uint64 {
	if inst.Imm == 0 {
		return st.get(inst.Rd)
	}
	return uint64(uint32(inst.Imm))
}

func word(v uint64, err error) uint64 {
	if err != nil {
		return ErrorWord
	}
	return v
}

func count(n int, err error) uint64 {
	if err != nil {
		return ErrorWord
	}
	return uint64(n)
}

func status(err error) uint64 {
	if err != nil {
		return ErrorWord
	}
	return 0
}

func (st *State) path(inst ir.Instruction) (string, error) {
	return st.Mem.String(st.get(inst.Rs1), st.get(inst.Rs2))
}

// File performs a file operation through the attached runtime. Any failure yields ErrorWord.
func (st *State) File(inst ir.Instruction) {
	io := st.Env.IO
	if io == nil {
		st.set(inst.Rd, ErrorWord)
		return
	}
	var result uint64
	switch inst.Mode {
	case ir.FileOpen:
		p, err := st.path(inst)
		if err != nil {
			result = ErrorWord
			break
		}
		result = word(io.FileOpen(p, uint32(inst.Imm)))
	case ir.FileRead, ir.FileWrite:
		buf, err := st.Mem.Slice(st.get(inst.Rs2), st.bufLen(inst))
		if err != nil {
			result = ErrorWord
			break
		}
		fd := st.get(inst.Rs1)
		if inst.Mode == ir.FileRead {
			result = count(io.FileRead(fd, buf))
		} else {
			result = count(io.FileWrite(fd, buf))
		}
	case ir.FileClose:
		result = status(io.FileClose(st.get(inst.Rs1)))
	case ir.FileSeek:
		result = word(io.FileSeek(st.get(inst.Rs1), int64(st.get(inst.Rs2)), uint32(inst.Imm)))
	case ir.FileStat:
		p, err := st.path(inst)
		if err != nil {
			result = ErrorWord
			break
		}
		size, mtime, err := io.FileStat(p)
		if err != nil {
			result = ErrorWord
			break
		}
		st.set(ir.R1, mtime)
		result = size
	case ir.FileMkdir, ir.FileDelete:
		p, err := st.path(inst)
		if err != nil {
			result = ErrorWord
			break
		}
		if inst.Mode == ir.FileMkdir {
			result = status(io.FileMkdir(p))
		} else {
			result = status(io.FileDelete(p))
		}
	default:
		result = ErrorWord
	}
	st.set(inst.Rd, result)
}

// Net performs a socket operation. An Accept that drains a network mock halts the execution.
func (st *State) Net(inst ir.Instruction) ControlFlow {
	io := st.Env.IO
	if io == nil {
		st.set(inst.Rd, ErrorWord)
		return Continue()
	}
	fd := st.get(inst.Rs1)
	var result uint64
	switch inst.Mode {
	case ir.NetSocket:
		result = word(io.NetSocket(uint32(st.get(inst.Rs1)), uint32(st.get(inst.Rs2))))
	case ir.NetConnect, ir.NetBind:
		host, err := st.Mem.CString(st.get(inst.Rs2), maxAddrLen)
		if err != nil {
			result = ErrorWord
			break
		}
		port := uint16(inst.Imm)
		if inst.Mode == ir.NetConnect {
			result = status(io.NetConnect(fd, host, port))
		} else {
			result = status(io.NetBind(fd, host, port))
		}
	case ir.NetListen:
		result = status(io.NetListen(fd, uint32(st.get(inst.Rs2))))
	case ir.NetAccept:
		client, err := io.NetAccept(fd)
		if errors.Is(err, jiterrors.ErrMockDrained) {
			return Halt()
		}
		result = word(client, err)
	case ir.NetSend, ir.NetRecv:
		buf, err := st.Mem.Slice(st.get(inst.Rs2), st.bufLen(inst))
		if err != nil {
			result = ErrorWord
			break
		}
		if inst.Mode == ir.NetSend {
			result = count(io.NetSend(fd, buf))
		} else {
			result = count(io.NetRecv(fd, buf))
		}
	case ir.NetClose:
		result = status(io.NetClose(fd))
	default:
		result = ErrorWord
	}
	st.set(inst.Rd, result)
	return Continue()
}

// NetSetopt sets option mode on socket rs1 to rs2.
func (st *State) NetSetopt(inst ir.Instruction) {
	if st.Env.IO == nil {
		st.set(inst.Rd, ErrorWord)
		return
	}
	st.set(inst.Rd, status(st.Env.IO.NetSetopt(st.get(inst.Rs1), ir.NetOption(inst.Mode), st.get(inst.Rs2))))
}

// Io is console I/O. GetArgs and GetEnv always read 0.
func (st *State) Io(inst ir.Instruction) {
	switch inst.Mode {
	case ir.IoPrint, ir.IoReadLine:
		buf, err := st.Mem.Slice(st.get(inst.Rs1), st.get(inst.Rs2))
		if err != nil || st.Env.IO == nil {
			st.set(inst.Rd, ErrorWord)
			return
		}
		if inst.Mode == ir.IoPrint {
			if _, err := st.Env.IO.Print(buf); err != nil {
				st.set(inst.Rd, ErrorWord)
				return
			}
			st.set(inst.Rd, uint64(len(buf)))
			return
		}
		st.set(inst.Rd, count(st.Env.IO.ReadLine(buf)))
	default:
		st.set(inst.Rd, 0)
	}
}

// Time reads clocks or sleeps. Without a runtime the host clocks are used directly.
func (st *State) Time(inst ir.Instruction) {
	io := st.Env.IO
	var v uint64
	switch inst.Mode {
	case ir.TimeNow:
		if io != nil {
			v = io.Now()
		} else {
			v = uint64(time.Now().Unix())
		}
	case ir.TimeSleep:
		ms := st.get(inst.Rs1)
		if io != nil {
			v = status(io.Sleep(ms))
		} else {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	case ir.TimeMonotonic:
		if io != nil {
			v = io.Monotonic()
		} else {
			v = uint64(time.Since(processStart).Nanoseconds())
		}
	}
	st.set(inst.Rd, v)
}

// Rand fills rs2 bytes at rs1, or produces one word.
func (st *State) Rand(inst ir.Instruction) {
	if inst.Mode == ir.RandU64 {
		st.set(inst.Rd, st.Env.Entropy.Uint64())
		return
	}
	buf, err := st.Mem.Slice(st.get(inst.Rs1), st.get(inst.Rs2))
	if err != nil {
		st.set(inst.Rd, ErrorWord)
		return
	}
	for i := range buf {
		buf[i] = byte(st.Env.Entropy.Uint64() >> 33)
	}
	st.set(inst.Rd, uint64(len(buf)))
}

// ExtCall invokes extension uint32(imm) with rs1, rs2, r3 and r4.
func (st *State) ExtCall(inst ir.Instruction) {
	id := uint32(inst.Imm)
	if st.Env.Ext == nil {
		st.set(inst.Rd, ErrorWord)
		return
	}
	args := [4]uint64{st.get(inst.Rs1), st.get(inst.Rs2), st.get(ir.R3), st.get(ir.R4)}
	var out [4]uint64
	res, err := st.Env.Ext.Call(id, args, &out)
	if err != nil {
		log.Debug(log.ExtensionMonitoring, "extcall failed", "id", id, "pc", st.PC, "err", err)
		st.set(inst.Rd, ErrorWord)
		return
	}
	st.set(inst.Rd, uint64(res))
}

func (st *State) Trap(inst ir.Instruction) ControlFlow {
	return TrapFlow(ir.TrapType(inst.Mode))
}
