// Package asm converts between the textual assembly form of a program and ir.Program.
package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/colorfulnotion/cpjit/ir"
)

var (
	ErrUnknownMnemonic = errors.New("unknown mnemonic")
	ErrBadOperand      = errors.New("bad operand")
	ErrOperandCount    = errors.New("wrong operand count")
	ErrUndefinedLabel  = errors.New("undefined label")
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrBadDirective    = errors.New("bad directive")
)

// Error reports the source line an assembly failure was found on.
type Error struct {
	Line int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type label struct {
	data  bool
	index int // instruction index, or data offset when data is set
}

type fixupKind int

const (
	fixRelative fixupKind = iota // imm = target - index
	fixValue                     // imm = instruction index or data address
)

type fixup struct {
	index int
	name  string
	line  int
	kind  fixupKind
}

type assembler struct {
	prog     *ir.Program
	labels   map[string]label
	fixups   []fixup
	inData   bool
	entry    string
	entryLn  int
	lineNo   int
}

// Assemble parses src into a validated program.
func Assemble(src string) (*ir.Program, error) {
	a := &assembler{
		prog:   &ir.Program{},
		labels: make(map[string]label),
	}
	for i, raw := range strings.Split(src, "\n") {
		a.lineNo = i + 1
		if err := a.line(raw); err != nil {
			return nil, &Error{Line: a.lineNo, Err: err}
		}
	}
	if err := a.resolve(); err != nil {
		return nil, err
	}
	if err := a.prog.Validate(); err != nil {
		return nil, err
	}
	return a.prog, nil
}

// MustAssemble is Assemble for sources known to be valid; it panics on error.
func MustAssemble(src string) *ir.Program {
	p, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return p
}

func stripComment(s string) string {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && inQuote:
			i++
		case c == '"':
			inQuote = !inQuote
		case (c == ';' || c == '#') && !inQuote:
			return s[:i]
		}
	}
	return s
}

func (a *assembler) line(raw string) error {
	s := strings.TrimSpace(stripComment(raw))
	for {
		colon := strings.IndexByte(s, ':')
		if colon <= 0 || !isIdent(s[:colon]) {
			break
		}
		if err := a.define(s[:colon]); err != nil {
			return err
		}
		s = strings.TrimSpace(s[colon+1:])
	}
	if s == "" {
		return nil
	}
	if s[0] == '.' {
		return a.directive(s)
	}
	if a.inData {
		return fmt.Errorf("%w: instruction in data section", ErrBadDirective)
	}
	return a.instruction(s)
}

func isIdent(s string) bool {
	for i, c := range s {
		switch {
		case c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}

func (a *assembler) define(name string) error {
	if _, dup := a.labels[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateLabel, name)
	}
	if a.inData {
		a.labels[name] = label{data: true, index: len(a.prog.Data)}
	} else {
		a.labels[name] = label{index: len(a.prog.Instructions)}
	}
	return nil
}

// cutSpace splits s at its first run of whitespace.
func cutSpace(s string) (head, tail string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (a *assembler) directive(s string) error {
	name, rest := cutSpace(s)
	switch name {
	case ".text":
		a.inData = false
	case ".data":
		a.inData = true
	case ".entry":
		if !isIdent(rest) {
			return fmt.Errorf("%w: .entry %q", ErrBadDirective, rest)
		}
		a.entry, a.entryLn = rest, a.lineNo
	case ".byte":
		for _, v := range splitList(rest) {
			n, err := parseInt(v)
			if err != nil || n < -128 || n > 255 {
				return fmt.Errorf("%w: byte %q", ErrBadOperand, v)
			}
			a.prog.Data = append(a.prog.Data, byte(n))
		}
	case ".u64":
		for _, v := range splitList(rest) {
			n, err := strconv.ParseUint(v, 0, 64)
			if err != nil {
				m, err2 := strconv.ParseInt(v, 0, 64)
				if err2 != nil {
					return fmt.Errorf("%w: u64 %q", ErrBadOperand, v)
				}
				n = uint64(m)
			}
			a.prog.Data = binary.LittleEndian.AppendUint64(a.prog.Data, n)
		}
	case ".ascii", ".asciz":
		str, err := strconv.Unquote(rest)
		if err != nil {
			return fmt.Errorf("%w: string %s", ErrBadOperand, rest)
		}
		a.prog.Data = append(a.prog.Data, str...)
		if name == ".asciz" {
			a.prog.Data = append(a.prog.Data, 0)
		}
	case ".zero", ".space":
		n, err := parseInt(rest)
		if err != nil || n < 0 || n > 1<<20 {
			return fmt.Errorf("%w: size %q", ErrBadOperand, rest)
		}
		a.prog.Data = append(a.prog.Data, make([]byte, n)...)
	case ".align":
		n, err := parseInt(rest)
		if err != nil || n <= 0 || n&(n-1) != 0 {
			return fmt.Errorf("%w: alignment %q", ErrBadOperand, rest)
		}
		for len(a.prog.Data)%int(n) != 0 {
			a.prog.Data = append(a.prog.Data, 0)
		}
	default:
		return fmt.Errorf("%w: %s", ErrBadDirective, name)
	}
	return nil
}

func parseInt(s string) (int64, error) {
	if len(s) == 3 && s[0] == '\'' && s[2] == '\'' {
		return int64(s[1]), nil
	}
	return strconv.ParseInt(strings.TrimPrefix(s, "+"), 0, 64)
}

// parseImm accepts any value representable in 32 bits, signed or unsigned.
func parseImm(s string) (int32, error) {
	n, err := parseInt(s)
	if err != nil || n < -(1<<31) || n > 1<<32-1 {
		return 0, fmt.Errorf("%w: immediate %q", ErrBadOperand, s)
	}
	return int32(n), nil
}

func parseReg(s string) (ir.Register, error) {
	r, ok := ir.ParseRegister(s)
	if !ok {
		return 0, fmt.Errorf("%w: register %q", ErrBadOperand, s)
	}
	return r, nil
}

func isReg(s string) bool {
	_, ok := ir.ParseRegister(s)
	return ok
}

// target sets inst.Imm to a relative offset, deferring label references.
func (a *assembler) target(inst *ir.Instruction, s string) error {
	if isIdent(s) && !isReg(s) {
		a.fixups = append(a.fixups, fixup{index: len(a.prog.Instructions), name: s, line: a.lineNo, kind: fixRelative})
		return nil
	}
	imm, err := parseImm(s)
	if err != nil {
		return err
	}
	inst.Imm = imm
	return nil
}

// value sets inst.Imm to a literal or to the address/index a label names.
func (a *assembler) value(inst *ir.Instruction, s string) error {
	if isIdent(s) {
		a.fixups = append(a.fixups, fixup{index: len(a.prog.Instructions), name: s, line: a.lineNo, kind: fixValue})
		return nil
	}
	imm, err := parseImm(s)
	if err != nil {
		return err
	}
	inst.Imm = imm
	return nil
}

func want(ops []string, n ...int) error {
	for _, m := range n {
		if len(ops) == m {
			return nil
		}
	}
	return fmt.Errorf("%w: got %d", ErrOperandCount, len(ops))
}

// memOperand parses "[reg]", "[reg+imm]" and "[reg-imm]".
func memOperand(s string) (ir.Register, int32, error) {
	if len(s) < 3 || s[0] != '[' || s[len(s)-1] != ']' {
		return 0, 0, fmt.Errorf("%w: memory operand %q", ErrBadOperand, s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	cut := strings.IndexAny(inner, "+-")
	if cut < 0 {
		r, err := parseReg(inner)
		return r, 0, err
	}
	r, err := parseReg(strings.TrimSpace(inner[:cut]))
	if err != nil {
		return 0, 0, err
	}
	off, err := parseImm(strings.ReplaceAll(inner[cut:], " ", ""))
	return r, off, err
}

func (a *assembler) instruction(s string) error {
	mnemonic, rest := cutSpace(s)
	mnemonic = strings.ToLower(mnemonic)
	ops := splitList(rest)
	base, suffix, hasSuffix := strings.Cut(mnemonic, ".")

	inst, err := a.parse(base, suffix, hasSuffix, ops)
	if err != nil {
		return err
	}
	a.prog.Instructions = append(a.prog.Instructions, inst)
	return nil
}

func (a *assembler) parse(base, suffix string, hasSuffix bool, ops []string) (ir.Instruction, error) {
	inst := ir.Instruction{}
	var err error

	if !hasSuffix {
		if mode, ok := ir.ParseMode(ir.Alu, base); ok {
			return a.alu(mode, ops)
		}
		if mode, ok := ir.ParseMode(ir.AluI, strings.TrimSuffix(base, "i")); ok && strings.HasSuffix(base, "i") {
			inst = ir.Instruction{Opcode: ir.AluI, Mode: mode}
			if err = want(ops, 3); err != nil {
				return inst, err
			}
			if inst.Rd, err = parseReg(ops[0]); err != nil {
				return inst, err
			}
			if inst.Rs1, err = parseReg(ops[1]); err != nil {
				return inst, err
			}
			return inst, a.value(&inst, ops[2])
		}
		if mode, ok := ir.ParseMode(ir.MulDiv, base); ok {
			inst = ir.Instruction{Opcode: ir.MulDiv, Mode: mode}
			return inst, a.regs(&inst, ops, 3)
		}
		if strings.HasPrefix(base, "b") {
			if base == "b" {
				inst = ir.Instruction{Opcode: ir.Branch, Mode: ir.CondAlways}
				if err = want(ops, 1); err != nil {
					return inst, err
				}
				return inst, a.target(&inst, ops[0])
			}
			if mode, ok := ir.ParseMode(ir.Branch, base[1:]); ok {
				inst = ir.Instruction{Opcode: ir.Branch, Mode: mode}
				if err = want(ops, 3); err != nil {
					return inst, err
				}
				if inst.Rs1, err = parseReg(ops[0]); err != nil {
					return inst, err
				}
				if inst.Rs2, err = parseReg(ops[1]); err != nil {
					return inst, err
				}
				return inst, a.target(&inst, ops[2])
			}
		}
	}

	switch base {
	case "mov":
		inst = ir.Instruction{Opcode: ir.Mov}
		if err = want(ops, 2); err != nil {
			return inst, err
		}
		if inst.Rd, err = parseReg(ops[0]); err != nil {
			return inst, err
		}
		if r, ok := ir.ParseRegister(ops[1]); ok {
			inst.Rs1 = r
			return inst, nil
		}
		inst.Rs1 = ir.Zero
		return inst, a.value(&inst, ops[1])
	case "ld", "st":
		op := ir.Load
		if base == "st" {
			op = ir.Store
		}
		mode, ok := ir.ParseMode(op, suffix)
		if !ok {
			return inst, fmt.Errorf("%w: %s.%s", ErrUnknownMnemonic, base, suffix)
		}
		inst = ir.Instruction{Opcode: op, Mode: mode}
		if err = want(ops, 2); err != nil {
			return inst, err
		}
		if inst.Rd, err = parseReg(ops[0]); err != nil {
			return inst, err
		}
		inst.Rs1, inst.Imm, err = memOperand(ops[1])
		return inst, err
	case "call":
		inst = ir.Instruction{Opcode: ir.Call}
		if err = want(ops, 1); err != nil {
			return inst, err
		}
		return inst, a.target(&inst, ops[0])
	case "jmp":
		inst = ir.Instruction{Opcode: ir.Jump}
		if err = want(ops, 1); err != nil {
			return inst, err
		}
		if r, ok := ir.ParseRegister(ops[0]); ok {
			inst.Mode, inst.Rs1 = ir.JumpIndirect, r
			return inst, nil
		}
		return inst, a.target(&inst, ops[0])
	}

	op, ok := ir.ParseOpcode(base)
	if !ok {
		return inst, fmt.Errorf("%w: %s", ErrUnknownMnemonic, base)
	}
	inst.Opcode = op
	if hasSuffix {
		if inst.Mode, ok = ir.ParseMode(op, suffix); !ok {
			return inst, fmt.Errorf("%w: %s.%s", ErrUnknownMnemonic, base, suffix)
		}
	}
	nregs := len(ops)
	if op.HasImm() && nregs == 4 {
		nregs = 3
		if err = a.value(&inst, ops[3]); err != nil {
			return inst, err
		}
	}
	if nregs > 3 {
		return inst, fmt.Errorf("%w: got %d", ErrOperandCount, len(ops))
	}
	return inst, a.regs(&inst, ops[:nregs], nregs)
}

func (a *assembler) alu(mode uint8, ops []string) (ir.Instruction, error) {
	inst := ir.Instruction{Opcode: ir.Alu, Mode: mode}
	if err := want(ops, 3); err != nil {
		return inst, err
	}
	if !isReg(ops[2]) {
		inst.Opcode = ir.AluI
		var err error
		if inst.Rd, err = parseReg(ops[0]); err != nil {
			return inst, err
		}
		if inst.Rs1, err = parseReg(ops[1]); err != nil {
			return inst, err
		}
		return inst, a.value(&inst, ops[2])
	}
	return inst, a.regs(&inst, ops, 3)
}

// regs fills rd, rs1, rs2 in order from the first n operands.
func (a *assembler) regs(inst *ir.Instruction, ops []string, n int) error {
	if err := want(ops, n); err != nil {
		return err
	}
	dst := []*ir.Register{&inst.Rd, &inst.Rs1, &inst.Rs2}
	for i := 0; i < n; i++ {
		r, err := parseReg(ops[i])
		if err != nil {
			return err
		}
		*dst[i] = r
	}
	return nil
}

func (a *assembler) resolve() error {
	for _, f := range a.fixups {
		l, ok := a.labels[f.name]
		if !ok {
			return &Error{Line: f.line, Err: fmt.Errorf("%w: %s", ErrUndefinedLabel, f.name)}
		}
		inst := &a.prog.Instructions[f.index]
		switch {
		case f.kind == fixRelative && l.data:
			return &Error{Line: f.line, Err: fmt.Errorf("%w: %s is a data label", ErrBadOperand, f.name)}
		case f.kind == fixRelative:
			inst.Imm = int32(l.index - f.index)
		case l.data:
			inst.Imm = int32(ir.DataBase + l.index)
		default:
			inst.Imm = int32(l.index)
		}
	}
	if a.entry != "" {
		l, ok := a.labels[a.entry]
		if !ok || l.data {
			return &Error{Line: a.entryLn, Err: fmt.Errorf("%w: %s", ErrUndefinedLabel, a.entry)}
		}
		a.prog.Entry = uint32(l.index)
	}
	return nil
}
