package ir

// Opcode selects the instruction class. The set is closed.
type Opcode uint8

const (
	Alu         Opcode = 0x00
	AluI        Opcode = 0x01
	MulDiv      Opcode = 0x02
	Load        Opcode = 0x03
	Store       Opcode = 0x04
	Atomic      Opcode = 0x05
	Branch      Opcode = 0x06
	Call        Opcode = 0x07
	Ret         Opcode = 0x08
	Jump        Opcode = 0x09
	CapNew      Opcode = 0x0A
	CapRestrict Opcode = 0x0B
	CapQuery    Opcode = 0x0C
	Spawn       Opcode = 0x0D
	Join        Opcode = 0x0E
	Chan        Opcode = 0x0F
	Fence       Opcode = 0x10
	Yield       Opcode = 0x11
	Taint       Opcode = 0x12
	Sanitize    Opcode = 0x13
	File        Opcode = 0x14
	Net         Opcode = 0x15
	NetSetopt   Opcode = 0x16
	Io          Opcode = 0x17
	Time        Opcode = 0x18
	Fpu         Opcode = 0x19
	Rand        Opcode = 0x1A
	Bits        Opcode = 0x1B
	Mov         Opcode = 0x1C
	Trap        Opcode = 0x1D
	Nop         Opcode = 0x1E
	Halt        Opcode = 0x1F
	ExtCall     Opcode = 0x20

	// NumOpcodes is one past the highest defined opcode.
	NumOpcodes = 0x21
)

type opcodeInfo struct {
	name   string
	modes  uint8 // number of valid modes, modes are 0..modes-1
	hasImm bool
}

var opcodeTable = [NumOpcodes]opcodeInfo{
	Alu:         {"alu", 8, false},
	AluI:        {"alui", 8, true},
	MulDiv:      {"muldiv", 4, false},
	Load:        {"load", 4, true},
	Store:       {"store", 4, true},
	Atomic:      {"atomic", 8, false},
	Branch:      {"branch", 8, true},
	Call:        {"call", 1, true},
	Ret:         {"ret", 1, false},
	Jump:        {"jump", 2, true},
	CapNew:      {"capnew", 1, false},
	CapRestrict: {"caprestrict", 1, false},
	CapQuery:    {"capquery", 1, false},
	Spawn:       {"spawn", 1, false},
	Join:        {"join", 1, false},
	Chan:        {"chan", 4, false},
	Fence:       {"fence", 4, false},
	Yield:       {"yield", 1, false},
	Taint:       {"taint", 1, false},
	Sanitize:    {"sanitize", 1, false},
	File:        {"file", 8, true},
	Net:         {"net", 8, true},
	NetSetopt:   {"netsetopt", 8, true},
	Io:          {"io", 4, true},
	Time:        {"time", 4, true},
	Fpu:         {"fpu", 14, false},
	Rand:        {"rand", 2, false},
	Bits:        {"bits", 4, false},
	Mov:         {"mov", 1, true},
	Trap:        {"trap", 8, false},
	Nop:         {"nop", 1, false},
	Halt:        {"halt", 1, false},
	ExtCall:     {"extcall", 1, true},
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	return op < NumOpcodes
}

// HasImm reports whether instructions with this opcode carry a trailing 32-bit immediate.
func (op Opcode) HasImm() bool {
	return op.Valid() && opcodeTable[op].hasImm
}

// NumModes is the number of defined modes for op; zero for an unknown opcode.
func (op Opcode) NumModes() int {
	if !op.Valid() {
		return 0
	}
	return int(opcodeTable[op].modes)
}

// ValidMode reports whether mode is defined for op.
func (op Opcode) ValidMode(mode uint8) bool {
	return op.Valid() && mode < opcodeTable[op].modes
}

// IsControlFlow reports whether op can move pc anywhere but the next instruction.
func (op Opcode) IsControlFlow() bool {
	switch op {
	case Branch, Call, Ret, Jump:
		return true
	}
	return false
}

func (op Opcode) String() string {
	if !op.Valid() {
		return "op?"
	}
	return opcodeTable[op].name
}

// ParseOpcode maps a lowercase opcode name back to its value.
func ParseOpcode(name string) (Opcode, bool) {
	for op := Opcode(0); op < NumOpcodes; op++ {
		if opcodeTable[op].name == name {
			return op, true
		}
	}
	return 0, false
}
