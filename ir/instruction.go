package ir

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/cpjit/jiterrors"
)

const (
	// HeaderSize is the fixed part of every encoded instruction.
	HeaderSize = 4
	// ImmSize is the trailing immediate present when the opcode requires one.
	ImmSize = 4

	regMask      = 0x1F
	reservedBits = 0x8000
)

// Instruction is one decoded IR instruction. Imm is meaningful only when Opcode.HasImm().
type Instruction struct {
	Opcode Opcode
	Mode   uint8
	Rd     Register
	Rs1    Register
	Rs2    Register
	Imm    int32
}

// Size is the encoded length in bytes.
func (i Instruction) Size() int {
	if i.Opcode.HasImm() {
		return HeaderSize + ImmSize
	}
	return HeaderSize
}

// Validate rejects instructions whose behaviour is not totally defined.
func (i Instruction) Validate() error {
	switch {
	case !i.Opcode.Valid():
		return fmt.Errorf("%w: opcode 0x%02x", jiterrors.ErrInvalidInstruction, uint8(i.Opcode))
	case !i.Opcode.ValidMode(i.Mode):
		return fmt.Errorf("%w: mode %d for %s", jiterrors.ErrInvalidInstruction, i.Mode, i.Opcode)
	case !i.Rd.Valid() || !i.Rs1.Valid() || !i.Rs2.Valid():
		return fmt.Errorf("%w: %v", jiterrors.ErrInvalidRegister, i)
	case !i.Opcode.HasImm() && i.Imm != 0:
		return fmt.Errorf("%w: %s takes no immediate", jiterrors.ErrInvalidInstruction, i.Opcode)
	case i.Opcode == Mov && i.Rs1 != Zero && i.Imm != 0:
		return fmt.Errorf("%w: register mov with immediate", jiterrors.ErrInvalidInstruction)
	}
	return nil
}

// AppendEncode appends the binary form of i to dst.
func (i Instruction) AppendEncode(dst []byte) []byte {
	regs := uint16(i.Rd&regMask) | uint16(i.Rs1&regMask)<<5 | uint16(i.Rs2&regMask)<<10
	dst = append(dst, byte(i.Opcode), i.Mode)
	dst = binary.LittleEndian.AppendUint16(dst, regs)
	if i.Opcode.HasImm() {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(i.Imm))
	}
	return dst
}

// DecodeInstruction decodes one instruction from the front of b and returns its length.
func DecodeInstruction(b []byte) (Instruction, int, error) {
	if len(b) < HeaderSize {
		return Instruction{}, 0, &jiterrors.DecodeError{Err: jiterrors.ErrTruncated, Offset: len(b)}
	}
	op := Opcode(b[0])
	if !op.Valid() {
		return Instruction{}, 0, &jiterrors.DecodeError{Err: jiterrors.ErrUnknownOpcode, Offset: 0}
	}
	mode := b[1]
	if !op.ValidMode(mode) {
		return Instruction{}, 0, &jiterrors.DecodeError{Err: jiterrors.ErrBadMode, Offset: 1}
	}
	regs := binary.LittleEndian.Uint16(b[2:4])
	if regs&reservedBits != 0 {
		return Instruction{}, 0, &jiterrors.DecodeError{Err: jiterrors.ErrReservedBits, Offset: 2}
	}
	inst := Instruction{
		Opcode: op,
		Mode:   mode,
		Rd:     Register(regs & regMask),
		Rs1:    Register((regs >> 5) & regMask),
		Rs2:    Register((regs >> 10) & regMask),
	}
	n := HeaderSize
	if op.HasImm() {
		if len(b) < HeaderSize+ImmSize {
			return Instruction{}, 0, &jiterrors.DecodeError{Err: jiterrors.ErrTruncated, Offset: len(b)}
		}
		inst.Imm = int32(binary.LittleEndian.Uint32(b[4:8]))
		n += ImmSize
	}
	if err := inst.Validate(); err != nil {
		return Instruction{}, 0, &jiterrors.DecodeError{Err: err, Offset: 0}
	}
	return inst, n, nil
}

func reg3(i Instruction) string {
	return fmt.Sprintf("%v, %v, %v", i.Rd, i.Rs1, i.Rs2)
}

func rel(off int32) string {
	if off >= 0 {
		return fmt.Sprintf("+%d", off)
	}
	return fmt.Sprintf("%d", off)
}

// String renders i in assembler syntax.
func (i Instruction) String() string {
	if !i.Opcode.Valid() {
		return fmt.Sprintf(".op 0x%02x", uint8(i.Opcode))
	}
	mode := ModeName(i.Opcode, i.Mode)
	switch i.Opcode {
	case Alu:
		return fmt.Sprintf("%s %s", mode, reg3(i))
	case AluI:
		return fmt.Sprintf("%si %v, %v, %d", mode, i.Rd, i.Rs1, i.Imm)
	case MulDiv:
		return fmt.Sprintf("%s %s", mode, reg3(i))
	case Load:
		return fmt.Sprintf("ld.%s %v, [%v%s]", mode, i.Rd, i.Rs1, rel(i.Imm))
	case Store:
		return fmt.Sprintf("st.%s %v, [%v%s]", mode, i.Rd, i.Rs1, rel(i.Imm))
	case Branch:
		if i.Mode == CondAlways {
			return fmt.Sprintf("b %s", rel(i.Imm))
		}
		return fmt.Sprintf("b%s %v, %v, %s", mode, i.Rs1, i.Rs2, rel(i.Imm))
	case Call:
		return fmt.Sprintf("call %s", rel(i.Imm))
	case Jump:
		if i.Mode == JumpIndirect {
			return fmt.Sprintf("jmp %v", i.Rs1)
		}
		return fmt.Sprintf("jmp %s", rel(i.Imm))
	case Mov:
		if i.Rs1 != Zero {
			return fmt.Sprintf("mov %v, %v", i.Rd, i.Rs1)
		}
		return fmt.Sprintf("mov %v, %d", i.Rd, i.Imm)
	case Ret, Halt, Nop, Yield:
		return i.Opcode.String()
	}
	name := i.Opcode.String()
	if mode != "" {
		name += "." + mode
	}
	if i.Opcode.HasImm() {
		return fmt.Sprintf("%s %s, %d", name, reg3(i), i.Imm)
	}
	return fmt.Sprintf("%s %s", name, reg3(i))
}
