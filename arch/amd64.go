package arch

import (
	"github.com/klauspost/cpuid/v2"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/stencil"
)

// Features are the optional x86-64 extensions some stencils depend on.
type Features struct {
	Popcnt bool
	Lzcnt  bool
	Bmi1   bool
}

// HostFeatures reads the extensions of the running CPU.
func HostFeatures() Features {
	return Features{
		Popcnt: cpuid.CPU.Has(cpuid.POPCNT),
		Lzcnt:  cpuid.CPU.Has(cpuid.LZCNT),
		Bmi1:   cpuid.CPU.Has(cpuid.BMI1),
	}
}

type amd64 struct {
	features Features
}

// AMD64 returns the x86-64 stencil provider gated on the host CPU's features.
func AMD64() stencil.Provider {
	return AMD64WithFeatures(HostFeatures())
}

// AMD64WithFeatures builds x86-64 stencils for an explicit feature set.
func AMD64WithFeatures(f Features) stencil.Provider {
	return amd64{features: f}
}

func (amd64) Name() string { return X86_64.Name }

// Register-file layout: rdi points at 32 little-endian u64 slots, slot 31 is the Zero register.
const zeroSlotDisp = 8 * uint32(ir.Zero)

// placeholder fills patch ranges so unpatched templates are easy to spot in a disassembly.
var placeholder = [4]byte{0xEF, 0xBE, 0xAD, 0xDE}

type x86 struct {
	code    []byte
	patches []stencil.Patch
}

func (b *x86) emit(bs ...byte) *x86 {
	b.code = append(b.code, bs...)
	return b
}

func (b *x86) hole(kind stencil.PatchKind) *x86 {
	b.patches = append(b.patches, stencil.Patch{Offset: len(b.code), Kind: kind})
	return b.emit(placeholder[:]...)
}

// slotIndex emits mov ecx, <register index>.
func (b *x86) slotIndex(kind stencil.PatchKind) *x86 {
	return b.emit(0xB9).hole(kind)
}

// loadRAX emits mov ecx, idx; mov rax, [rdi+rcx*8].
func (b *x86) loadRAX(kind stencil.PatchKind) *x86 {
	return b.slotIndex(kind).emit(0x48, 0x8B, 0x04, 0xCF)
}

// loadRCX emits mov ecx, idx; mov rcx, [rdi+rcx*8].
func (b *x86) loadRCX(kind stencil.PatchKind) *x86 {
	return b.slotIndex(kind).emit(0x48, 0x8B, 0x0C, 0xCF)
}

// storeRAX emits mov ecx, rd; mov [rdi+rcx*8], rax; then restores the Zero slot.
func (b *x86) storeRAX() *x86 {
	b.slotIndex(stencil.DstReg).emit(0x48, 0x89, 0x04, 0xCF)
	// mov qword [rdi+0xF8], 0
	return b.emit(0x48, 0xC7, 0x87, byte(zeroSlotDisp), 0, 0, 0, 0, 0, 0, 0)
}

func (b *x86) ret(name string) *stencil.Template {
	b.emit(stencil.RetByte)
	return b.template(name)
}

func (b *x86) template(name string) *stencil.Template {
	return &stencil.Template{Name: name, Code: b.code, Patches: b.patches}
}

func entry(op ir.Opcode, mode uint8, t *stencil.Template) stencil.Entry {
	return stencil.Entry{Opcode: op, Mode: mode, Template: t}
}

func name(op ir.Opcode, mode uint8) string {
	if m := ir.ModeName(op, mode); m != "" {
		return op.String() + "." + m
	}
	return op.String()
}

// aluOps are the reg,reg forms operating on rax and rcx; shifts take the count in cl.
var aluOps = [...][]byte{
	ir.AluAdd: {0x48, 0x01, 0xC8},
	ir.AluSub: {0x48, 0x29, 0xC8},
	ir.AluAnd: {0x48, 0x21, 0xC8},
	ir.AluOr:  {0x48, 0x09, 0xC8},
	ir.AluXor: {0x48, 0x31, 0xC8},
	ir.AluShl: {0x48, 0xD3, 0xE0},
	ir.AluShr: {0x48, 0xD3, 0xE8},
	ir.AluSar: {0x48, 0xD3, 0xF8},
}

// aluImmOps are the rax, imm32 forms. The CPU sign-extends the immediate.
var aluImmOps = [...]byte{
	ir.AluAdd: 0x05,
	ir.AluSub: 0x2D,
	ir.AluAnd: 0x25,
	ir.AluOr:  0x0D,
	ir.AluXor: 0x35,
}

func (a amd64) Stencils() []stencil.Entry {
	var out []stencil.Entry

	for mode, op := range aluOps {
		b := new(x86).loadRAX(stencil.Src1Reg).loadRCX(stencil.Src2Reg).emit(op...).storeRAX()
		out = append(out, entry(ir.Alu, uint8(mode), b.ret(name(ir.Alu, uint8(mode)))))
	}

	for mode := ir.AluAdd; mode <= ir.AluSar; mode++ {
		b := new(x86).loadRAX(stencil.Src1Reg)
		switch mode {
		case ir.AluShl, ir.AluShr, ir.AluSar:
			b.emit(0xB9).hole(stencil.Imm32).emit(aluOps[mode]...)
		default:
			b.emit(0x48, aluImmOps[mode]).hole(stencil.Imm32)
		}
		b.storeRAX()
		out = append(out, entry(ir.AluI, mode, b.ret(name(ir.AluI, mode))))
	}

	// imul rax, rcx
	mul := new(x86).loadRAX(stencil.Src1Reg).loadRCX(stencil.Src2Reg).emit(0x48, 0x0F, 0xAF, 0xC1).storeRAX()
	out = append(out, entry(ir.MulDiv, ir.MulDivMul, mul.ret(name(ir.MulDiv, ir.MulDivMul))))
	// mul rcx; mov rax, rdx
	mulh := new(x86).loadRAX(stencil.Src1Reg).loadRCX(stencil.Src2Reg).emit(0x48, 0xF7, 0xE1, 0x48, 0x89, 0xD0).storeRAX()
	out = append(out, entry(ir.MulDiv, ir.MulDivMulH, mulh.ret(name(ir.MulDiv, ir.MulDivMulH))))

	// rd = rs1 unless rs1 is Zero, in which case rd = sext(imm):
	// cmp ecx, 31; jne +7; mov rax, imm32
	mov := new(x86).loadRAX(stencil.Src1Reg).
		emit(0x83, 0xF9, byte(ir.Zero), 0x75, 0x07, 0x48, 0xC7, 0xC0).hole(stencil.Imm32).
		storeRAX()
	out = append(out, entry(ir.Mov, 0, mov.ret(name(ir.Mov, 0))))

	bits := map[uint8][]byte{
		ir.BitsBswap: {0x48, 0x0F, 0xC8},
	}
	if a.features.Popcnt {
		bits[ir.BitsPopcount] = []byte{0xF3, 0x48, 0x0F, 0xB8, 0xC0}
	}
	if a.features.Lzcnt {
		bits[ir.BitsClz] = []byte{0xF3, 0x48, 0x0F, 0xBD, 0xC0}
	}
	if a.features.Bmi1 {
		bits[ir.BitsCtz] = []byte{0xF3, 0x48, 0x0F, 0xBC, 0xC0}
	}
	for mode := ir.BitsPopcount; mode <= ir.BitsBswap; mode++ {
		op, ok := bits[mode]
		if !ok {
			continue
		}
		b := new(x86).loadRAX(stencil.Src1Reg).emit(op...).storeRAX()
		out = append(out, entry(ir.Bits, mode, b.ret(name(ir.Bits, mode))))
	}

	out = append(out, entry(ir.Nop, 0, new(x86).emit(0x90).ret("nop")))
	for mode := ir.FenceAcquire; mode <= ir.FenceSeqCst; mode++ {
		out = append(out, entry(ir.Fence, mode, new(x86).emit(0x0F, 0xAE, 0xF0).ret(name(ir.Fence, mode))))
	}
	// mov rax, [rdi]; ret; int3. The padding keeps the return inside the usable bytes.
	out = append(out, entry(ir.Halt, 0, new(x86).emit(0x48, 0x8B, 0x07, stencil.RetByte, 0xCC).template("halt")))

	return out
}

// Epilogue returns r0 to the caller: mov rax, [rdi]; ret.
func (amd64) Epilogue() []byte {
	return []byte{0x48, 0x8B, 0x07, stencil.RetByte}
}
