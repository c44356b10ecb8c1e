package jiterrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorNames(t *testing.T) {
	require.Equal(t, "MissingStencil", GetErrorName(ErrMissingStencil))
	require.Equal(t, "C1", GetErrorCode(ErrMissingStencil))
	require.Equal(t, "R1_DivisionByZero", GetErrorCodeWithName(ErrDivisionByZero))
	require.Equal(t, "No Error", GetErrorName(nil))
	require.Equal(t, []string{"Truncated", "BadMagic"}, GetErrorNames([]error{ErrTruncated, ErrBadMagic}))
}

func TestWrappedErrorsUnwrap(t *testing.T) {
	ce := &CompileError{Err: ErrMissingStencil, Index: 3, Opcode: 0x09, Mode: 0}
	require.True(t, errors.Is(ce, ErrMissingStencil))
	require.Equal(t, "MissingStencil", GetErrorName(ce))
	require.True(t, IsCompileError(ce))

	wrapped := fmt.Errorf("compile: %w", ce)
	require.True(t, errors.Is(wrapped, ErrMissingStencil))

	f := &Fault{Err: ErrOutOfBounds, PC: 7}
	require.True(t, errors.Is(f, ErrOutOfBounds))
	require.False(t, IsCompileError(f))
	require.Contains(t, f.Error(), "pc 7")

	de := &DecodeError{Err: ErrTruncated, Offset: 12}
	require.True(t, errors.Is(de, ErrTruncated))
}
