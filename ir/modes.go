package ir

// Alu and AluI modes. Shift amounts use the low 6 bits.
const (
	AluAdd uint8 = iota
	AluSub
	AluAnd
	AluOr
	AluXor
	AluShl
	AluShr
	AluSar
)

// MulDiv modes. MulH is the unsigned high word; Div and Mod are unsigned.
const (
	MulDivMul uint8 = iota
	MulDivMulH
	MulDivDiv
	MulDivMod
)

// Load and Store widths.
const (
	WidthByte uint8 = iota
	WidthHalf
	WidthWord
	WidthDouble
)

// WidthBytes returns the access size for a MemWidth mode.
func WidthBytes(w uint8) int {
	return 1 << (w & 3)
}

const (
	AtomicCas uint8 = iota
	AtomicXchg
	AtomicAdd
	AtomicAnd
	AtomicOr
	AtomicXor
	AtomicMin
	AtomicMax
)

// BranchCond is the mode of Branch. Lt..Ge compare signed, Ltu unsigned.
const (
	CondAlways uint8 = iota
	CondEq
	CondNe
	CondLt
	CondLe
	CondGt
	CondGe
	CondLtu
)

const (
	JumpDirect uint8 = iota
	JumpIndirect
)

const (
	ChanCreate uint8 = iota
	ChanSend
	ChanRecv
	ChanClose
)

const (
	FenceAcquire uint8 = iota
	FenceRelease
	FenceAcqRel
	FenceSeqCst
)

// TrapType is the mode of Trap and the reason carried by a Trapped result.
type TrapType uint8

const (
	TrapSyscall TrapType = iota
	TrapBreakpoint
	TrapBoundsViolation
	TrapCapabilityViolation
	TrapTaintViolation
	TrapDivByZero
	TrapInvalidOp
	TrapUser
)

const (
	FileOpen uint8 = iota
	FileRead
	FileWrite
	FileClose
	FileSeek
	FileStat
	FileMkdir
	FileDelete
)

const (
	NetSocket uint8 = iota
	NetConnect
	NetBind
	NetListen
	NetAccept
	NetSend
	NetRecv
	NetClose
)

// NetOption is the mode of NetSetopt.
type NetOption uint8

const (
	OptNonblock NetOption = iota
	OptTimeoutMs
	OptKeepalive
	OptReuseAddr
	OptNoDelay
	OptRecvBufSize
	OptSendBufSize
	OptLinger
)

const (
	IoPrint uint8 = iota
	IoReadLine
	IoGetArgs
	IoGetEnv
)

const (
	TimeNow uint8 = iota
	TimeSleep
	TimeMonotonic
	TimeReserved
)

const (
	FpuAdd uint8 = iota
	FpuSub
	FpuMul
	FpuDiv
	FpuSqrt
	FpuAbs
	FpuFloor
	FpuCeil
	FpuCmpEq
	FpuCmpNe
	FpuCmpLt
	FpuCmpLe
	FpuCmpGt
	FpuCmpGe
)

const (
	RandBytes uint8 = iota
	RandU64
)

const (
	BitsPopcount uint8 = iota
	BitsClz
	BitsCtz
	BitsBswap
)

var modeNames = map[Opcode][]string{
	Alu:       {"add", "sub", "and", "or", "xor", "shl", "shr", "sar"},
	AluI:      {"add", "sub", "and", "or", "xor", "shl", "shr", "sar"},
	MulDiv:    {"mul", "mulh", "div", "mod"},
	Load:      {"b", "h", "w", "d"},
	Store:     {"b", "h", "w", "d"},
	Atomic:    {"cas", "xchg", "add", "and", "or", "xor", "min", "max"},
	Branch:    {"always", "eq", "ne", "lt", "le", "gt", "ge", "ltu"},
	Jump:      {"direct", "indirect"},
	Chan:      {"create", "send", "recv", "close"},
	Fence:     {"acquire", "release", "acqrel", "seqcst"},
	File:      {"open", "read", "write", "close", "seek", "stat", "mkdir", "delete"},
	Net:       {"socket", "connect", "bind", "listen", "accept", "send", "recv", "close"},
	NetSetopt: {"nonblock", "timeout", "keepalive", "reuseaddr", "nodelay", "recvbuf", "sendbuf", "linger"},
	Io:        {"print", "readline", "getargs", "getenv"},
	Time:      {"now", "sleep", "monotonic", "reserved"},
	Fpu:       {"add", "sub", "mul", "div", "sqrt", "abs", "floor", "ceil", "eq", "ne", "lt", "le", "gt", "ge"},
	Rand:      {"bytes", "u64"},
	Bits:      {"popcount", "clz", "ctz", "bswap"},
	Trap:      {"syscall", "breakpoint", "bounds", "capability", "taint", "divzero", "invalidop", "user"},
}

// ModeName returns the mnemonic suffix of mode for op, or "" for single-mode opcodes.
func ModeName(op Opcode, mode uint8) string {
	names := modeNames[op]
	if int(mode) < len(names) {
		return names[mode]
	}
	return ""
}

// ParseMode is the inverse of ModeName.
func ParseMode(op Opcode, name string) (uint8, bool) {
	for i, n := range modeNames[op] {
		if n == name {
			return uint8(i), true
		}
	}
	return 0, false
}

func (t TrapType) String() string {
	if n := ModeName(Trap, uint8(t)); n != "" {
		return n
	}
	return "trap?"
}
