package jiterrors

import (
	"errors"
	"fmt"
	"strings"
)

// Compile (C) Errors
var (
	ErrMissingStencil         = errors.New("C1|MissingStencil: No stencil exists for the instruction's opcode and mode.")
	ErrBufferAllocationFailed = errors.New("C2|BufferAllocationFailed: The executable buffer pool is exhausted.")
	ErrProgramTooLarge        = errors.New("C3|ProgramTooLarge: Estimated code size exceeds the configured limit.")
	ErrInvalidInstruction     = errors.New("C4|InvalidInstruction: Instruction has an unknown opcode, mode, register or immediate.")
)

// Runtime (R) Errors
var (
	ErrDivisionByZero            = errors.New("R1|DivisionByZero: Division or modulo with a zero divisor.")
	ErrOutOfBounds               = errors.New("R2|OutOfBounds: Memory access or jump target outside its valid range.")
	ErrInvalidRegister           = errors.New("R3|InvalidRegister: Register index is not one of the 32 slots.")
	ErrInvalidOpcode             = errors.New("R4|InvalidOpcode: Opcode or mode has no defined behaviour.")
	ErrCapabilityViolation       = errors.New("R5|CapabilityViolation: Capability tag, bounds or permission check failed.")
	ErrStackOverflow             = errors.New("R6|StackOverflow: Call stack depth limit reached.")
	ErrStackUnderflow            = errors.New("R7|StackUnderflow: Return with an empty call stack and no link register.")
	ErrInstructionBudgetExceeded = errors.New("R8|InstructionBudgetExceeded: Execution exceeded its instruction budget.")
	ErrIOPermissionDenied        = errors.New("R9|IOPermissionDenied: The I/O allow-list does not permit the operation.")
	ErrNativeUnsupported         = errors.New("R10|NativeUnsupported: Native execution of compiled code is not available on this platform.")
)

// Decode (D) Errors
var (
	ErrTruncated       = errors.New("D1|Truncated: Input ended before the structure was complete.")
	ErrBadMagic        = errors.New("D2|BadMagic: Program header magic does not match.")
	ErrBadVersion      = errors.New("D3|BadVersion: Unsupported program format version.")
	ErrUnknownOpcode   = errors.New("D4|UnknownOpcode: Opcode byte is not part of the instruction set.")
	ErrBadMode         = errors.New("D5|BadMode: Mode byte is out of range for the opcode.")
	ErrReservedBits    = errors.New("D6|ReservedBits: Reserved bits are set in the register field.")
	ErrTrailingBytes   = errors.New("D7|TrailingBytes: Unconsumed bytes follow the program.")
	ErrEntryOutOfRange = errors.New("D8|EntryOutOfRange: Entry point lies beyond the instruction stream.")
	ErrTooManyEntries  = errors.New("D9|TooManyEntries: Declared counts exceed the available input.")
)

// I/O (I) Errors
var (
	ErrFileNotFound   = errors.New("I1|FileNotFound: Path does not exist.")
	ErrInvalidFd      = errors.New("I2|InvalidFd: Descriptor is not open in this runtime.")
	ErrIO             = errors.New("I3|IOError: Underlying I/O operation failed.")
	ErrUnknownExt     = errors.New("I4|UnknownExtension: No extension is registered under the id.")
	ErrMockDrained    = errors.New("I5|MockDrained: Network mock has no pending connection or data.")
	ErrNotImplemented = errors.New("I6|NotImplemented: No runtime is attached for the operation.")
)

// CompileError reports which instruction stopped compilation.
type CompileError struct {
	Err    error
	Index  int
	Opcode uint8
	Mode   uint8
}

func (e *CompileError) Error() string {
	if e.Index < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (instruction %d, opcode 0x%02x mode %d)", e.Err, e.Index, e.Opcode, e.Mode)
}

func (e *CompileError) Unwrap() error { return e.Err }

// DecodeError carries the byte offset at which decoding failed.
type DecodeError struct {
	Err    error
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v (offset %d)", e.Err, e.Offset)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Fault is a terminal runtime failure at a given instruction index.
type Fault struct {
	Err error
	PC  uint64
}

func (e *Fault) Error() string {
	return fmt.Sprintf("%v (pc %d)", e.Err, e.PC)
}

func (e *Fault) Unwrap() error { return e.Err }

// IsCompileError reports whether err belongs to the compile-time taxonomy.
func IsCompileError(err error) bool {
	return errors.Is(err, ErrMissingStencil) || errors.Is(err, ErrBufferAllocationFailed) ||
		errors.Is(err, ErrProgramTooLarge) || errors.Is(err, ErrInvalidInstruction)
}

func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

func GetErrorNames(errs []error) []string {
	errStrs := make([]string, len(errs))
	for i, err := range errs {
		errStrs[i] = GetErrorName(err)
	}
	return errStrs
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}
