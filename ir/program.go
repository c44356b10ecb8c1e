package ir

import (
	"encoding/binary"
	"fmt"
	"slices"

	"golang.org/x/crypto/blake2b"

	"github.com/colorfulnotion/cpjit/jiterrors"
)

const (
	// Magic opens every encoded program.
	Magic = "CPIR"
	// Version is the only format version understood by Decode.
	Version = 1

	programHeaderSize = 4 + 2 + 2 + 4 + 4 + 4

	// DataBase is the memory address the data section is loaded at.
	DataBase = 0x10000
)

// Program is an immutable instruction stream plus its data section.
// A decoded Program may be shared read-only between concurrent executions.
type Program struct {
	Instructions []Instruction
	Data         []byte
	Entry        uint32
}

// NewProgram builds a program starting at instruction 0.
func NewProgram(insts ...Instruction) *Program {
	return &Program{Instructions: insts}
}

func (p *Program) Len() int {
	return len(p.Instructions)
}

// Validate checks the entry point and every instruction.
func (p *Program) Validate() error {
	if int(p.Entry) > len(p.Instructions) {
		return fmt.Errorf("%w: entry %d, %d instructions", jiterrors.ErrEntryOutOfRange, p.Entry, len(p.Instructions))
	}
	for idx, inst := range p.Instructions {
		if err := inst.Validate(); err != nil {
			return fmt.Errorf("instruction %d: %w", idx, err)
		}
	}
	return nil
}

// IsStraightLine reports whether no instruction can transfer control.
func (p *Program) IsStraightLine() bool {
	for _, inst := range p.Instructions {
		if inst.Opcode.IsControlFlow() {
			return false
		}
	}
	return true
}

// Equal compares instruction streams, data and entry.
func (p *Program) Equal(o *Program) bool {
	return p.Entry == o.Entry && slices.Equal(p.Instructions, o.Instructions) && slices.Equal(p.Data, o.Data)
}

// CodeSize is the encoded size of the instruction stream alone.
func (p *Program) CodeSize() int {
	n := 0
	for _, inst := range p.Instructions {
		n += inst.Size()
	}
	return n
}

// Encode serializes p:
//
//	"CPIR" | version u16 | flags u16 | entry u32 | count u32 | data_len u32 | instructions | data
func Encode(p *Program) []byte {
	out := make([]byte, 0, programHeaderSize+p.CodeSize()+len(p.Data))
	out = append(out, Magic...)
	out = binary.LittleEndian.AppendUint16(out, Version)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint32(out, p.Entry)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(p.Instructions)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(p.Data)))
	for _, inst := range p.Instructions {
		out = inst.AppendEncode(out)
	}
	return append(out, p.Data...)
}

// Decode parses an encoded program. It never panics: every malformed input yields a *jiterrors.DecodeError.
func Decode(b []byte) (*Program, error) {
	if len(b) < programHeaderSize {
		return nil, &jiterrors.DecodeError{Err: jiterrors.ErrTruncated, Offset: len(b)}
	}
	if string(b[:4]) != Magic {
		return nil, &jiterrors.DecodeError{Err: jiterrors.ErrBadMagic, Offset: 0}
	}
	if v := binary.LittleEndian.Uint16(b[4:6]); v != Version {
		return nil, &jiterrors.DecodeError{Err: jiterrors.ErrBadVersion, Offset: 4}
	}
	if f := binary.LittleEndian.Uint16(b[6:8]); f != 0 {
		return nil, &jiterrors.DecodeError{Err: jiterrors.ErrReservedBits, Offset: 6}
	}
	entry := binary.LittleEndian.Uint32(b[8:12])
	count := uint64(binary.LittleEndian.Uint32(b[12:16]))
	dataLen := uint64(binary.LittleEndian.Uint32(b[16:20]))

	rest := b[programHeaderSize:]
	if count*HeaderSize+dataLen > uint64(len(rest)) {
		return nil, &jiterrors.DecodeError{Err: jiterrors.ErrTooManyEntries, Offset: 12}
	}
	p := &Program{Entry: entry, Instructions: make([]Instruction, 0, count)}
	off := programHeaderSize
	for i := uint64(0); i < count; i++ {
		inst, n, err := DecodeInstruction(b[off:])
		if err != nil {
			if de, ok := err.(*jiterrors.DecodeError); ok {
				de.Offset += off
				return nil, de
			}
			return nil, err
		}
		p.Instructions = append(p.Instructions, inst)
		off += n
	}
	if uint64(len(b)-off) < dataLen {
		return nil, &jiterrors.DecodeError{Err: jiterrors.ErrTruncated, Offset: len(b)}
	}
	if dataLen > 0 {
		p.Data = slices.Clone(b[off : off+int(dataLen)])
	}
	off += int(dataLen)
	if off != len(b) {
		return nil, &jiterrors.DecodeError{Err: jiterrors.ErrTrailingBytes, Offset: off}
	}
	if uint64(entry) > count {
		return nil, &jiterrors.DecodeError{Err: jiterrors.ErrEntryOutOfRange, Offset: 8}
	}
	return p, nil
}

// Fingerprint is the blake2b-256 digest of the encoded program.
func (p *Program) Fingerprint() [32]byte {
	return blake2b.Sum256(Encode(p))
}
