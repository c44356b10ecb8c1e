package asm

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/cpjit/ir"
)

const entryLabel = "start"

// Disassemble renders p as assembly source, one instruction per line annotated with its index.
// Programs produced by Assemble reassemble to an equal program.
func Disassemble(p *ir.Program) string {
	var sb strings.Builder
	if p.Entry != 0 {
		fmt.Fprintf(&sb, ".entry %s\n", entryLabel)
	}
	for idx, inst := range p.Instructions {
		if p.Entry != 0 && int(p.Entry) == idx {
			fmt.Fprintf(&sb, "%s:\n", entryLabel)
		}
		fmt.Fprintf(&sb, "    %-32s ; %d\n", inst.String(), idx)
	}
	if p.Entry != 0 && int(p.Entry) == len(p.Instructions) {
		fmt.Fprintf(&sb, "%s:\n", entryLabel)
	}
	if len(p.Data) > 0 {
		sb.WriteString(".data\n")
		for off := 0; off < len(p.Data); off += 16 {
			end := min(off+16, len(p.Data))
			vals := make([]string, 0, end-off)
			for _, b := range p.Data[off:end] {
				vals = append(vals, fmt.Sprintf("0x%02x", b))
			}
			fmt.Fprintf(&sb, "    .byte %s\n", strings.Join(vals, ", "))
		}
	}
	return sb.String()
}
