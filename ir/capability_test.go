package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFatPointerBounds(t *testing.T) {
	fp := NewFatPointer(0x1000, 64, PermRW)
	require.True(t, fp.Valid())
	require.True(t, fp.CheckBounds(64))
	require.False(t, fp.CheckBounds(65))

	fp.Address = 0x1000 + 60
	require.True(t, fp.CheckBounds(4))
	require.False(t, fp.CheckBounds(5))

	fp.Address = 0xFFF
	require.False(t, fp.CheckBounds(1))

	fp.Tag = 0
	fp.Address = 0x1000
	require.False(t, fp.CheckBounds(1))
}

func TestFatPointerRestrict(t *testing.T) {
	fp := NewFatPointer(0x1000, 64, PermRW)
	fp.Taint = 3

	sub, ok := fp.Restrict(0x1010, 16, PermRead)
	require.True(t, ok)
	require.Equal(t, uint64(0x1010), sub.Address)
	require.Equal(t, uint8(3), sub.Taint)

	_, ok = fp.Restrict(0x0FF0, 16, PermRead)
	require.False(t, ok, "grow below base")
	_, ok = fp.Restrict(0x1030, 32, PermRead)
	require.False(t, ok, "grow past end")
	_, ok = fp.Restrict(0x1000, 16, PermExec)
	require.False(t, ok, "add permission")
}

func TestFatPointerEncode(t *testing.T) {
	fp := NewFatPointer(0x12_3456_7890, 4096, PermRead|PermCap)
	fp.Taint = 2
	fp.Address += 100
	meta, addr := fp.Encode()
	require.Equal(t, fp, DecodeFatPointer(meta, addr))
}
