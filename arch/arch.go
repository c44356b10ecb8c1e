// Package arch describes the target architectures and supplies their stencils.
package arch

import (
	"runtime"
	"sync"

	"github.com/colorfulnotion/cpjit/stencil"
)

// CallingConvention is the native ABI compiled code is entered through.
type CallingConvention int

const (
	SysVAmd64 CallingConvention = iota
	Win64
	Aapcs64
	RiscV
)

func (c CallingConvention) String() string {
	switch c {
	case SysVAmd64:
		return "sysv-amd64"
	case Win64:
		return "win64"
	case Aapcs64:
		return "aapcs64"
	case RiscV:
		return "riscv"
	}
	return "unknown"
}

// ArgRegisters lists the integer argument registers in order.
func (c CallingConvention) ArgRegisters() []string {
	switch c {
	case SysVAmd64:
		return []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	case Win64:
		return []string{"rcx", "rdx", "r8", "r9"}
	case Aapcs64:
		return []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"}
	case RiscV:
		return []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7"}
	}
	return nil
}

// ReturnRegister holds the 64-bit result.
func (c CallingConvention) ReturnRegister() string {
	switch c {
	case SysVAmd64, Win64:
		return "rax"
	case Aapcs64:
		return "x0"
	case RiscV:
		return "a0"
	}
	return ""
}

// CalleeSaved lists registers a stencil must not clobber.
func (c CallingConvention) CalleeSaved() []string {
	switch c {
	case SysVAmd64:
		return []string{"rbx", "rbp", "r12", "r13", "r14", "r15"}
	case Win64:
		return []string{"rbx", "rbp", "rdi", "rsi", "r12", "r13", "r14", "r15"}
	case Aapcs64:
		return []string{"x19", "x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28", "x29"}
	case RiscV:
		return []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11"}
	}
	return nil
}

// Architecture is a static description of one CPU family.
type Architecture struct {
	Name              string
	RegisterCount     int
	PointerSize       int
	LittleEndian      bool
	Convention        CallingConvention
	ReturnInstruction []byte
	NopInstruction    []byte
	TrapByte          byte
	// JITAvailable is set when the architecture ships stencils.
	JITAvailable bool
}

var (
	X86_64 = Architecture{
		Name:              "x86_64",
		RegisterCount:     16,
		PointerSize:       8,
		LittleEndian:      true,
		Convention:        SysVAmd64,
		ReturnInstruction: []byte{0xC3},
		NopInstruction:    []byte{0x90},
		TrapByte:          0xCC,
		JITAvailable:      true,
	}
	AArch64 = Architecture{
		Name:              "aarch64",
		RegisterCount:     31,
		PointerSize:       8,
		LittleEndian:      true,
		Convention:        Aapcs64,
		ReturnInstruction: []byte{0xC0, 0x03, 0x5F, 0xD6},
		NopInstruction:    []byte{0x1F, 0x20, 0x03, 0xD5},
		TrapByte:          0x00,
	}
	RISCV64 = Architecture{
		Name:              "riscv64",
		RegisterCount:     32,
		PointerSize:       8,
		LittleEndian:      true,
		Convention:        RiscV,
		ReturnInstruction: []byte{0x67, 0x80, 0x00, 0x00},
		NopInstruction:    []byte{0x13, 0x00, 0x00, 0x00},
		TrapByte:          0x00,
	}
)

// Detect describes the architecture this binary runs on.
func Detect() Architecture {
	return forGOARCH(runtime.GOARCH)
}

func forGOARCH(goarch string) Architecture {
	switch goarch {
	case "amd64":
		return X86_64
	case "arm64":
		return AArch64
	case "riscv64":
		return RISCV64
	}
	return Architecture{Name: goarch, PointerSize: 8, LittleEndian: true}
}

// stub is the provider of an architecture without stencils.
type stub struct{ name string }

func (s stub) Name() string              { return s.name }
func (s stub) Stencils() []stencil.Entry { return nil }
func (s stub) Epilogue() []byte          { return nil }

// ARM64 has no stencils yet; every program falls back to the portable backends.
func ARM64() stencil.Provider { return stub{AArch64.Name} }

func RISCV() stencil.Provider { return stub{RISCV64.Name} }

// Native returns the stencil provider for the running architecture.
func Native() stencil.Provider {
	switch runtime.GOARCH {
	case "amd64":
		return AMD64()
	case "arm64":
		return ARM64()
	case "riscv64":
		return RISCV()
	}
	return stub{runtime.GOARCH}
}

// NativeTable builds the stencil table for the running architecture once.
var NativeTable = sync.OnceValues(func() (*stencil.Table, error) {
	return stencil.NewTable(Native())
})
