package extensions

import (
	"errors"
	"sync"
	"testing"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/security"
	"github.com/colorfulnotion/cpjit/vm"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, r *Registry, id uint32, args ...uint64) (int64, [4]uint64) {
	t.Helper()
	var a, out [4]uint64
	copy(a[:], args)
	v, err := r.Call(id, a, &out)
	require.NoError(t, err)
	return v, out
}

func TestBuiltins(t *testing.T) {
	r := New()

	v, _ := call(t, r, IDMin, 7, 3)
	require.EqualValues(t, 3, v)
	v, _ = call(t, r, IDMax, 7, 3)
	require.EqualValues(t, 7, v)
	v, _ = call(t, r, IDClamp, 50, 10, 20)
	require.EqualValues(t, 20, v)
	v, _ = call(t, r, IDClamp, 5, 10, 20)
	require.EqualValues(t, 10, v)

	var out [4]uint64
	_, err := r.Call(IDClamp, [4]uint64{1, 9, 2}, &out)
	require.Error(t, err)

	a, _ := call(t, r, IDChecksum, 1, 2, 3, 4)
	b, _ := call(t, r, IDChecksum, 1, 2, 3, 4)
	c, _ := call(t, r, IDChecksum, 1, 2, 3, 5)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestCapabilityBuiltins(t *testing.T) {
	r := New()

	meta, out := call(t, r, IDCapNew, 0x1000, 64, uint64(ir.PermRead))
	require.EqualValues(t, meta, out[0])
	wantMeta, wantAddr := security.CapNew(0x1000, 64, ir.PermRead)
	require.Equal(t, wantMeta, out[0])
	require.Equal(t, wantAddr, out[1])

	length, _ := call(t, r, IDCapQuery, out[0], out[1], uint64(security.QueryLength))
	require.EqualValues(t, 64, length)
	valid, _ := call(t, r, IDCapQuery, out[0], out[1], uint64(security.QueryValid))
	require.EqualValues(t, 1, valid)

	res, _ := call(t, r, IDCapCheck, out[0], out[1], 8, uint64(ir.PermRead))
	require.EqualValues(t, security.Ok, res)
	res, _ = call(t, r, IDCapCheck, out[0], out[1], 8, uint64(ir.PermWrite))
	require.EqualValues(t, security.PermissionDenied, res)
	res, _ = call(t, r, IDCapCheck, out[0], out[1], 65, uint64(ir.PermRead))
	require.EqualValues(t, security.OutOfBounds, res)
	res, _ = call(t, r, IDCapCheck, 0, 0, 1, uint64(ir.PermRead))
	require.EqualValues(t, security.InvalidTag, res)
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewEmpty()
	double := func(args [4]uint64, _ *[4]uint64) (int64, error) { return int64(args[0] * 2), nil }

	require.NoError(t, r.Register(Signature{ID: 100, Name: "double", ArgCount: 1}, double))
	require.Error(t, r.Register(Signature{ID: 100, Name: "other"}, double))
	require.Error(t, r.Register(Signature{ID: 101, Name: "double"}, double))
	require.Error(t, r.Register(Signature{ID: 102, Name: "nil"}, nil))

	id, ok := r.Lookup("double")
	require.True(t, ok)
	require.EqualValues(t, 100, id)
	_, ok = r.Lookup("missing")
	require.False(t, ok)

	v, _ := call(t, r, id, 21)
	require.EqualValues(t, 42, v)

	var out [4]uint64
	_, err := r.Call(999, [4]uint64{}, &out)
	require.True(t, errors.Is(err, jiterrors.ErrUnknownExt))
}

func TestList(t *testing.T) {
	sigs := New().List()
	require.Len(t, sigs, 7)
	for i, s := range sigs {
		require.EqualValues(t, i+1, s.ID)
	}
	require.Equal(t, "checksum", sigs[0].Name)
	require.Equal(t, "cap.check", sigs[6].Name)
}

func TestMocks(t *testing.T) {
	r := New()
	r.Mock(IDMin, []uint64{9, 8}, 1, 2)
	r.Mock(500, nil, -1)

	v, out := call(t, r, IDMin, 7, 3)
	require.EqualValues(t, 1, v)
	require.Equal(t, [4]uint64{9, 8}, out)
	v, _ = call(t, r, IDMin, 7, 3)
	require.EqualValues(t, 2, v)
	v, _ = call(t, r, IDMin, 7, 3)
	require.EqualValues(t, 2, v)

	v, _ = call(t, r, 500)
	require.EqualValues(t, -1, v)

	r.ClearMocks()
	v, _ = call(t, r, IDMin, 7, 3)
	require.EqualValues(t, 3, v)
}

func TestConcurrentCalls(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out [4]uint64
			v, err := r.Call(IDMax, [4]uint64{uint64(i), 8}, &out)
			require.NoError(t, err)
			require.EqualValues(t, max(i, 8), v)
		}()
	}
	wg.Wait()
}

func TestRegistryAsVMExtensions(t *testing.T) {
	p := ir.NewProgram(
		ir.Instruction{Opcode: ir.Mov, Rd: ir.R1, Rs1: ir.Zero, Imm: 12},
		ir.Instruction{Opcode: ir.Mov, Rd: ir.R2, Rs1: ir.Zero, Imm: 30},
		ir.Instruction{Opcode: ir.ExtCall, Rd: ir.R0, Rs1: ir.R1, Rs2: ir.R2, Imm: int32(IDMax)},
		ir.Instruction{Opcode: ir.Halt},
	)
	st := vm.NewState(p, vm.DefaultConfig(), vm.Env{Ext: New()})
	res := vm.Run(p, st, func(st *vm.State, inst ir.Instruction) vm.ControlFlow {
		switch inst.Opcode {
		case ir.Mov:
			st.Mov(inst)
		case ir.ExtCall:
			st.ExtCall(inst)
		default:
			return vm.Halt()
		}
		return vm.Continue()
	})
	require.Equal(t, vm.Halted, res.Status)
	require.EqualValues(t, 30, res.Value)
}
