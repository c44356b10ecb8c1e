package security

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
)

func TestCheckCapability(t *testing.T) {
	fp := ir.NewFatPointer(0x1000, 256, ir.PermRW)
	require.Equal(t, Ok, CheckRead(fp, 1))
	require.Equal(t, Ok, CheckRead(fp, 256))
	require.Equal(t, OutOfBounds, CheckRead(fp, 257))
	require.Equal(t, PermissionDenied, CheckExec(fp))
	require.NoError(t, Ok.Err())
	require.ErrorIs(t, PermissionDenied.Err(), jiterrors.ErrCapabilityViolation)

	// tag failure wins over bounds and permissions
	fp.Tag = 0
	require.Equal(t, InvalidTag, CheckCapability(fp, 1<<20, ir.PermExec))
}

func TestCapHelpers(t *testing.T) {
	meta, addr := CapNew(0x2000, 64, ir.PermRead|ir.PermWrite)
	require.Equal(t, uint64(0x2000), CapQuery(meta, addr, QueryBase))
	require.Equal(t, uint64(64), CapQuery(meta, addr, QueryLength))
	require.Equal(t, uint64(1), CapQuery(meta, addr, QueryValid))
	require.Zero(t, CapQuery(meta, addr, 99))

	m2, a2, ok := CapRestrict(meta, addr, 0x2010, 16, ir.PermRead)
	require.True(t, ok)
	require.Equal(t, uint64(ir.PermRead), CapQuery(m2, a2, QueryPerms))
	require.Equal(t, uint64(0x2010), CapQuery(m2, a2, QueryAddress))

	_, _, ok = CapRestrict(meta, addr, 0x2000, 128, ir.PermRead)
	require.False(t, ok)
}

func TestTaintTracking(t *testing.T) {
	var tr TaintTracker
	require.False(t, tr.IsTainted(ir.R1))
	tr.Taint(ir.R1, UserInput)
	tr.Taint(ir.R2, Network)
	require.True(t, tr.IsTainted(ir.R1))

	tr.PropagateBinary(ir.R3, ir.R1, ir.R2)
	require.Equal(t, Network, tr.Get(ir.R3))
	tr.Propagate(ir.R4, ir.R1)
	require.Equal(t, UserInput, tr.Get(ir.R4))

	tr.Sanitize(ir.R1)
	require.False(t, tr.IsTainted(ir.R1))
	tr.Taint(ir.Register(40), Toxic)
	require.Equal(t, Clean, tr.Get(ir.Register(40)))
}

func TestRecordViolation(t *testing.T) {
	c := NewContext()
	require.ErrorIs(t, c.RecordViolation(OutOfBounds), jiterrors.ErrCapabilityViolation)
	c.TrapOnViolation = false
	require.NoError(t, c.RecordViolation(OutOfBounds))
	require.Equal(t, uint64(2), c.Violations)
}
