//go:build linux && amd64 && cgo

package compiler

/*
#include <stdint.h>

typedef uint64_t (*stencil_fn)(uint64_t *regs);

static uint64_t cpjit_call(uintptr_t code, uint64_t *regs) {
	return ((stencil_fn)code)(regs);
}
*/
import "C"
import (
	"runtime"

	"github.com/colorfulnotion/cpjit/vm"
)

// NativeSupported reports whether CompiledCode.Call can run on this build.
const NativeSupported = true

func callNative(addr uintptr, regs *vm.Registers) (uint64, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	r := C.cpjit_call(C.uintptr_t(addr), (*C.uint64_t)(regs.Ptr()))
	return uint64(r), nil
}
