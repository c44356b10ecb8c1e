package vm

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/cpjit/ir"
)

// FlowKind tells the dispatch loop how to move pc after one instruction.
type FlowKind uint8

const (
	FlowContinue FlowKind = iota
	FlowJump
	FlowAbsoluteJump
	FlowHalt
	FlowError
)

// ControlFlow is the signal every instruction produces.
type ControlFlow struct {
	Kind   FlowKind
	Offset int32  // FlowJump: relative to the current pc
	Target uint64 // FlowAbsoluteJump: instruction index
	Err    error  // FlowError
}

func Continue() ControlFlow               { return ControlFlow{} }
func Jump(offset int32) ControlFlow      { return ControlFlow{Kind: FlowJump, Offset: offset} }
func AbsoluteJump(t uint64) ControlFlow  { return ControlFlow{Kind: FlowAbsoluteJump, Target: t} }
func Halt() ControlFlow                  { return ControlFlow{Kind: FlowHalt} }
func Fail(err error) ControlFlow         { return ControlFlow{Kind: FlowError, Err: err} }
func TrapFlow(t ir.TrapType) ControlFlow { return Fail(&TrapError{Type: t}) }

// TrapError is raised by an explicit Trap instruction.
type TrapError struct {
	Type ir.TrapType
}

func (e *TrapError) Error() string { return fmt.Sprintf("trap: %s", e.Type) }

// Status is the state of an execution.
type Status uint8

const (
	Running Status = iota
	Halted
	Trapped
	Faulted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Trapped:
		return "trapped"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// Result is the terminal outcome of an execution. Value is r0 at the point execution stopped.
type Result struct {
	Status Status
	Value  uint64
	Trap   ir.TrapType
	Fault  error
	Steps  uint64
}

// Err is nil after a halt and describes the trap or fault otherwise.
func (r Result) Err() error {
	switch r.Status {
	case Trapped:
		return &TrapError{Type: r.Trap}
	case Faulted:
		return r.Fault
	}
	return nil
}

func (r Result) String() string {
	switch r.Status {
	case Halted:
		return fmt.Sprintf("halted value=%d steps=%d", r.Value, r.Steps)
	case Trapped:
		return fmt.Sprintf("trapped %s steps=%d", r.Trap, r.Steps)
	case Faulted:
		return fmt.Sprintf("faulted %v steps=%d", r.Fault, r.Steps)
	}
	return r.Status.String()
}

func resultFromError(err error, value, steps uint64) Result {
	var te *TrapError
	if errors.As(err, &te) {
		return Result{Status: Trapped, Trap: te.Type, Value: value, Steps: steps}
	}
	return Result{Status: Faulted, Fault: err, Value: value, Steps: steps}
}
