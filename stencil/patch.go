package stencil

import (
	"errors"

	"github.com/colorfulnotion/cpjit/ir"
)

var ErrShortBuffer = errors.New("stencil: output buffer too small")

// PatchInto copies t's usable bytes into out and writes inst's operands over every patch range.
// Ranges reaching past the usable length are clamped. It returns the number of bytes written.
func PatchInto(t *Template, inst ir.Instruction, out []byte) (int, error) {
	n := t.UsableLen()
	if len(out) < n {
		return 0, ErrShortBuffer
	}
	copy(out, t.Code[:n])
	applyPatches(t, inst, out[:n])
	return n, nil
}

// AppendPatched appends the patched usable bytes of t to dst.
func AppendPatched(dst []byte, t *Template, inst ir.Instruction) []byte {
	start := len(dst)
	dst = append(dst, t.Code[:t.UsableLen()]...)
	applyPatches(t, inst, dst[start:])
	return dst
}

func applyPatches(t *Template, inst ir.Instruction, code []byte) {
	for _, p := range t.Patches {
		if p.Offset < 0 || p.Offset >= len(code) {
			continue
		}
		v := p.Kind.Value(inst)
		end := min(p.Offset+p.Kind.Width(), len(code))
		for i := p.Offset; i < end; i++ {
			code[i] = byte(v)
			v >>= 8
		}
	}
}
