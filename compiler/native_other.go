//go:build !linux || !amd64 || !cgo

package compiler

import (
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/vm"
)

const NativeSupported = false

func callNative(uintptr, *vm.Registers) (uint64, error) {
	return 0, jiterrors.ErrNativeUnsupported
}
