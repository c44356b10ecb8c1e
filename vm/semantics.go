package vm

import (
	"math"
	"math/bits"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
)

// Sext sign-extends a 32-bit immediate to 64 bits.
func Sext(imm int32) uint64 {
	return uint64(int64(imm))
}

// Alu computes a wrapping ALU operation. Shift counts use the low 6 bits of b.
func Alu(mode uint8, a, b uint64) uint64 {
	switch mode {
	case ir.AluAdd:
		return a + b
	case ir.AluSub:
		return a - b
	case ir.AluAnd:
		return a & b
	case ir.AluOr:
		return a | b
	case ir.AluXor:
		return a ^ b
	case ir.AluShl:
		return a << (b & 63)
	case ir.AluShr:
		return a >> (b & 63)
	case ir.AluSar:
		return uint64(int64(a) >> (b & 63))
	}
	return 0
}

// MulDiv multiplies or divides unsigned. A zero divisor is an error and produces no value.
func MulDiv(mode uint8, a, b uint64) (uint64, error) {
	switch mode {
	case ir.MulDivMul:
		return a * b, nil
	case ir.MulDivMulH:
		hi, _ := bits.Mul64(a, b)
		return hi, nil
	case ir.MulDivDiv:
		if b == 0 {
			return 0, jiterrors.ErrDivisionByZero
		}
		return a / b, nil
	case ir.MulDivMod:
		if b == 0 {
			return 0, jiterrors.ErrDivisionByZero
		}
		return a % b, nil
	}
	return 0, jiterrors.ErrInvalidOpcode
}

// BranchTaken evaluates a branch condition. Lt..Ge compare signed, Ltu unsigned.
func BranchTaken(cond uint8, a, b uint64) bool {
	sa, sb := int64(a), int64(b)
	switch cond {
	case ir.CondAlways:
		return true
	case ir.CondEq:
		return a == b
	case ir.CondNe:
		return a != b
	case ir.CondLt:
		return sa < sb
	case ir.CondLe:
		return sa <= sb
	case ir.CondGt:
		return sa > sb
	case ir.CondGe:
		return sa >= sb
	case ir.CondLtu:
		return a < b
	}
	return false
}

// AtomicUpdate returns the value stored back for a read-modify-write on current.
// Cas stores value only when current equals expected. Min and Max are unsigned.
func AtomicUpdate(mode uint8, current, value, expected uint64) uint64 {
	switch mode {
	case ir.AtomicCas:
		if current == expected {
			return value
		}
		return current
	case ir.AtomicXchg:
		return value
	case ir.AtomicAdd:
		return current + value
	case ir.AtomicAnd:
		return current & value
	case ir.AtomicOr:
		return current | value
	case ir.AtomicXor:
		return current ^ value
	case ir.AtomicMin:
		return min(current, value)
	case ir.AtomicMax:
		return max(current, value)
	}
	return current
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Fpu operates on the IEEE-754 binary64 bit patterns of a and b. Comparisons yield 1 or 0.
func Fpu(mode uint8, a, b uint64) uint64 {
	x, y := math.Float64frombits(a), math.Float64frombits(b)
	switch mode {
	case ir.FpuAdd:
		return math.Float64bits(x + y)
	case ir.FpuSub:
		return math.Float64bits(x - y)
	case ir.FpuMul:
		return math.Float64bits(x * y)
	case ir.FpuDiv:
		return math.Float64bits(x / y)
	case ir.FpuSqrt:
		return math.Float64bits(math.Sqrt(x))
	case ir.FpuAbs:
		return math.Float64bits(math.Abs(x))
	case ir.FpuFloor:
		return math.Float64bits(math.Floor(x))
	case ir.FpuCeil:
		return math.Float64bits(math.Ceil(x))
	case ir.FpuCmpEq:
		return boolWord(x == y)
	case ir.FpuCmpNe:
		return boolWord(x != y)
	case ir.FpuCmpLt:
		return boolWord(x < y)
	case ir.FpuCmpLe:
		return boolWord(x <= y)
	case ir.FpuCmpGt:
		return boolWord(x > y)
	case ir.FpuCmpGe:
		return boolWord(x >= y)
	}
	return 0
}

// Bits counts or reorders the bits of a. Clz and Ctz of 0 are 64.
func Bits(mode uint8, a uint64) uint64 {
	switch mode {
	case ir.BitsPopcount:
		return uint64(bits.OnesCount64(a))
	case ir.BitsClz:
		return uint64(bits.LeadingZeros64(a))
	case ir.BitsCtz:
		return uint64(bits.TrailingZeros64(a))
	case ir.BitsBswap:
		return bits.ReverseBytes64(a)
	}
	return 0
}
