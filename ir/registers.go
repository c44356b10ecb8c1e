package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Register names one of the 32 register-file slots.
type Register uint8

const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	Sp  // stack pointer by convention
	Fp  // frame pointer by convention
	Lr  // link register, written by Call
	Pc  // ordinary slot, not the program counter
	Csp // capability stack pointer by convention
	Cfp // capability frame pointer by convention

	// Zero always reads 0 and discards writes.
	Zero Register = 31

	NumRegisters = 32
)

var specialNames = map[Register]string{Sp: "sp", Fp: "fp", Lr: "lr", Pc: "pc", Csp: "csp", Cfp: "cfp", Zero: "zero"}

func (r Register) Valid() bool {
	return r < NumRegisters
}

func (r Register) String() string {
	if n, ok := specialNames[r]; ok {
		return n
	}
	return fmt.Sprintf("r%d", uint8(r))
}

// ParseRegister accepts r0..r31, the conventional aliases and a0..a5 for r0..r5.
func ParseRegister(s string) (Register, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, n := range specialNames {
		if n == s {
			return r, true
		}
	}
	switch s {
	case "x0":
		return Zero, true
	case "ret":
		return R0, true
	}
	if len(s) > 1 && (s[0] == 'r' || s[0] == 'a') {
		n, err := strconv.Atoi(s[1:])
		if err != nil || n < 0 {
			return 0, false
		}
		if s[0] == 'a' && n > 5 {
			return 0, false
		}
		if n < NumRegisters {
			return Register(n), true
		}
	}
	return 0, false
}
