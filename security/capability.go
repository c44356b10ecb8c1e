// Package security implements capability checks and per-register taint tracking.
package security

import (
	"fmt"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
)

// CheckResult is the outcome of a capability check. The numeric values are stable.
type CheckResult uint8

const (
	Ok CheckResult = iota
	InvalidTag
	OutOfBounds
	PermissionDenied
	TaintViolation
)

var checkNames = [...]string{"ok", "invalid tag", "out of bounds", "permission denied", "taint violation"}

func (r CheckResult) String() string {
	if int(r) < len(checkNames) {
		return checkNames[r]
	}
	return fmt.Sprintf("check(%d)", uint8(r))
}

// Err maps a failed check to jiterrors.ErrCapabilityViolation; Ok maps to nil.
func (r CheckResult) Err() error {
	if r == Ok {
		return nil
	}
	return fmt.Errorf("%w: %s", jiterrors.ErrCapabilityViolation, r)
}

// CheckCapability validates a size-byte access needing perms. The first failing check wins:
// tag, then bounds, then permissions.
func CheckCapability(fp ir.FatPointer, size uint64, perms ir.CapPerms) CheckResult {
	switch {
	case !fp.Valid():
		return InvalidTag
	case !fp.CheckBounds(size):
		return OutOfBounds
	case !fp.Perms.Has(perms):
		return PermissionDenied
	}
	return Ok
}

func CheckRead(fp ir.FatPointer, size uint64) CheckResult {
	return CheckCapability(fp, size, ir.PermRead)
}

func CheckWrite(fp ir.FatPointer, size uint64) CheckResult {
	return CheckCapability(fp, size, ir.PermWrite)
}

func CheckExec(fp ir.FatPointer) CheckResult {
	return CheckCapability(fp, 0, ir.PermExec)
}

// CapNew creates an encoded capability.
func CapNew(base uint64, length uint32, perms ir.CapPerms) (meta, addr uint64) {
	return ir.NewFatPointer(base, length, perms).Encode()
}

// CapRestrict narrows an encoded capability; ok is false when the request would widen it.
func CapRestrict(meta, addr, base uint64, length uint32, perms ir.CapPerms) (newMeta, newAddr uint64, ok bool) {
	fp, ok := ir.DecodeFatPointer(meta, addr).Restrict(base, length, perms)
	if !ok {
		return 0, 0, false
	}
	newMeta, newAddr = fp.Encode()
	return newMeta, newAddr, true
}

// Query selectors for CapQuery.
const (
	QueryBase uint8 = iota
	QueryLength
	QueryPerms
	QueryAddress
	QueryTaint
	QueryValid
)

// CapQuery reads one field of an encoded capability. Unknown selectors read 0.
func CapQuery(meta, addr uint64, q uint8) uint64 {
	fp := ir.DecodeFatPointer(meta, addr)
	switch q {
	case QueryBase:
		return fp.Base
	case QueryLength:
		return uint64(fp.Length)
	case QueryPerms:
		return uint64(fp.Perms)
	case QueryAddress:
		return fp.Address
	case QueryTaint:
		return uint64(fp.Taint)
	case QueryValid:
		if fp.Valid() {
			return 1
		}
	}
	return 0
}
