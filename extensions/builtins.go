package extensions

import (
	"encoding/binary"
	"errors"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/security"
	"github.com/zeebo/xxh3"
)

// Builtin ids.
const (
	IDChecksum uint32 = iota + 1
	IDMin
	IDMax
	IDClamp
	IDCapNew
	IDCapQuery
	IDCapCheck
)

var errEmptyRange = errors.New("clamp: lower bound above upper bound")

func registerBuiltins(r *Registry) {
	for _, b := range []struct {
		sig Signature
		fn  Func
	}{
		{Signature{IDChecksum, "checksum", "xxh3 of the four argument words", 4}, checksum},
		{Signature{IDMin, "min", "unsigned minimum of rs1 and rs2", 2}, minFn},
		{Signature{IDMax, "max", "unsigned maximum of rs1 and rs2", 2}, maxFn},
		{Signature{IDClamp, "clamp", "rs1 clamped to [rs2, r3]", 3}, clampFn},
		{Signature{IDCapNew, "cap.new", "capability over [rs1, rs1+rs2) with perms r3", 3}, capNew},
		{Signature{IDCapQuery, "cap.query", "field r3 of capability (rs1, rs2)", 3}, capQuery},
		{Signature{IDCapCheck, "cap.check", "check r3 bytes with perms r4 against (rs1, rs2)", 4}, capCheck},
	} {
		if err := r.Register(b.sig, b.fn); err != nil {
			panic(err)
		}
	}
}

func checksum(args [4]uint64, _ *[4]uint64) (int64, error) {
	var buf [32]byte
	for i, a := range args {
		binary.LittleEndian.PutUint64(buf[i*8:], a)
	}
	return int64(xxh3.Hash(buf[:])), nil
}

func minFn(args [4]uint64, _ *[4]uint64) (int64, error) {
	return int64(min(args[0], args[1])), nil
}

func maxFn(args [4]uint64, _ *[4]uint64) (int64, error) {
	return int64(max(args[0], args[1])), nil
}

func clampFn(args [4]uint64, _ *[4]uint64) (int64, error) {
	if args[1] > args[2] {
		return 0, errEmptyRange
	}
	return int64(min(max(args[0], args[1]), args[2])), nil
}

// capNew returns the metadata word; out holds metadata and address.
func capNew(args [4]uint64, out *[4]uint64) (int64, error) {
	meta, addr := security.CapNew(args[0], uint32(args[1]), ir.CapPerms(args[2]))
	out[0], out[1] = meta, addr
	return int64(meta), nil
}

func capQuery(args [4]uint64, _ *[4]uint64) (int64, error) {
	return int64(security.CapQuery(args[0], args[1], uint8(args[2]))), nil
}

// capCheck returns the CheckResult code, 0 meaning the access is allowed.
func capCheck(args [4]uint64, _ *[4]uint64) (int64, error) {
	fp := ir.DecodeFatPointer(args[0], args[1])
	return int64(security.CheckCapability(fp, args[2], ir.CapPerms(args[3]))), nil
}
