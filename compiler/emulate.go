//go:build unicorn

package compiler

import (
	"encoding/binary"
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/vm"
)

const (
	emuPage     = uint64(0x1000)
	emuCodeBase = uint64(0x100000)
	emuRegBase  = uint64(0x200000)
	emuStack    = uint64(0x300000)
	emuExit     = uint64(0x400000)
)

func alignPage(n uint64) uint64 {
	return (n + emuPage - 1) &^ (emuPage - 1)
}

// RunEmulated executes compiled bytes on an emulated x86-64 CPU with regs as the register
// file. It returns rax and leaves the final register file in regs.
func RunEmulated(code []byte, regs *vm.Registers) (uint64, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_64)
	if err != nil {
		return 0, fmt.Errorf("create unicorn: %w", err)
	}
	defer mu.Close()

	for _, m := range []struct{ addr, size uint64 }{
		{emuCodeBase, alignPage(uint64(len(code)) + 1)},
		{emuRegBase, emuPage},
		{emuStack, emuPage},
		{emuExit, emuPage},
	} {
		if err := mu.MemMap(m.addr, m.size); err != nil {
			return 0, fmt.Errorf("map 0x%x: %w", m.addr, err)
		}
	}
	if err := mu.MemWrite(emuCodeBase, code); err != nil {
		return 0, fmt.Errorf("write code: %w", err)
	}

	regs[ir.Zero] = 0
	regBytes := make([]byte, 8*ir.NumRegisters)
	for i, v := range regs {
		binary.LittleEndian.PutUint64(regBytes[i*8:], v)
	}
	if err := mu.MemWrite(emuRegBase, regBytes); err != nil {
		return 0, fmt.Errorf("write registers: %w", err)
	}

	// the final ret pops emuExit, where emulation stops
	sp := emuStack + emuPage - 16
	var ret [8]byte
	binary.LittleEndian.PutUint64(ret[:], emuExit)
	if err := mu.MemWrite(sp, ret[:]); err != nil {
		return 0, fmt.Errorf("write return address: %w", err)
	}
	if err := mu.RegWrite(uc.X86_REG_RSP, sp); err != nil {
		return 0, err
	}
	if err := mu.RegWrite(uc.X86_REG_RDI, emuRegBase); err != nil {
		return 0, err
	}

	if err := mu.Start(emuCodeBase, emuExit); err != nil {
		rip, _ := mu.RegRead(uc.X86_REG_RIP)
		return 0, fmt.Errorf("emulation stopped at 0x%x: %w", rip, err)
	}

	out, err := mu.MemRead(emuRegBase, uint64(len(regBytes)))
	if err != nil {
		return 0, fmt.Errorf("read registers: %w", err)
	}
	for i := range regs {
		regs[i] = binary.LittleEndian.Uint64(out[i*8:])
	}
	return mu.RegRead(uc.X86_REG_RAX)
}
