package ir

// CapPerms is the permission bit set of a capability.
type CapPerms uint8

const (
	PermRead   CapPerms = 1 << 0
	PermWrite  CapPerms = 1 << 1
	PermExec   CapPerms = 1 << 2
	PermCap    CapPerms = 1 << 3
	PermSeal   CapPerms = 1 << 4
	PermUnseal CapPerms = 1 << 5

	PermRW  = PermRead | PermWrite
	PermAll = PermRead | PermWrite | PermExec | PermCap | PermSeal | PermUnseal
)

// Has reports whether every bit of want is present.
func (p CapPerms) Has(want CapPerms) bool {
	return p&want == want
}

// ValidTag marks an intact capability.
const ValidTag = 0xCA

const (
	baseBits   = 40
	baseMask   = 1<<baseBits - 1
	offsetMask = 1<<32 - 1
)

// FatPointer is a bounds- and permission-carrying memory reference.
type FatPointer struct {
	Tag     uint8
	Taint   uint8
	Perms   CapPerms
	Length  uint32
	Base    uint64
	Address uint64
}

// NewFatPointer returns a valid capability covering [base, base+length) positioned at base.
func NewFatPointer(base uint64, length uint32, perms CapPerms) FatPointer {
	return FatPointer{Tag: ValidTag, Perms: perms, Length: length, Base: base, Address: base}
}

func (f FatPointer) Valid() bool {
	return f.Tag == ValidTag
}

// CheckBounds reports whether a size-byte access at Address stays inside the capability.
func (f FatPointer) CheckBounds(size uint64) bool {
	if !f.Valid() || f.Address < f.Base {
		return false
	}
	end := f.Address + size
	if end < f.Address {
		return false
	}
	return end <= f.Base+uint64(f.Length)
}

// Restrict derives a narrower capability. Bounds and permissions can only shrink; taint is kept.
func (f FatPointer) Restrict(base uint64, length uint32, perms CapPerms) (FatPointer, bool) {
	if !f.Valid() || base < f.Base || base+uint64(length) > f.Base+uint64(f.Length) {
		return FatPointer{}, false
	}
	if !f.Perms.Has(perms) {
		return FatPointer{}, false
	}
	return FatPointer{Tag: ValidTag, Taint: f.Taint, Perms: perms, Length: length, Base: base, Address: base}, true
}

// Encode packs the capability into two words:
//
//	meta = tag<<56 | taint<<48 | perms<<40 | base (40 bits)
//	addr = length<<32 | (address - base)
//
// Bases above 2^40 and addresses outside [base, base+2^32) do not survive the round trip.
func (f FatPointer) Encode() (meta, addr uint64) {
	meta = uint64(f.Tag)<<56 | uint64(f.Taint)<<48 | uint64(f.Perms)<<40 | f.Base&baseMask
	addr = uint64(f.Length)<<32 | (f.Address-f.Base)&offsetMask
	return meta, addr
}

// DecodeFatPointer is the inverse of Encode.
func DecodeFatPointer(meta, addr uint64) FatPointer {
	base := meta & baseMask
	return FatPointer{
		Tag:     uint8(meta >> 56),
		Taint:   uint8(meta >> 48),
		Perms:   CapPerms(meta >> 40),
		Length:  uint32(addr >> 32),
		Base:    base,
		Address: base + addr&offsetMask,
	}
}
