// Package aot persists compiled byte images in LevelDB so a program is patched once per
// architecture and stencil set.
package aot

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/colorfulnotion/cpjit/compiler"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/log"
)

const keyPrefix = "aot/"

var ErrCorrupt = errors.New("aot: stored artifact does not match its key")

// Artifact is one compiled program. StencilCount detects a stencil table that changed
// under the same architecture name, e.g. after a CPU feature change.
type Artifact struct {
	Arch         string   `cbor:"1,keyasint"`
	Fingerprint  [32]byte `cbor:"2,keyasint"`
	Code         []byte   `cbor:"3,keyasint"`
	Instructions int      `cbor:"4,keyasint"`
	StencilCount int      `cbor:"5,keyasint"`
}

// Store wraps LevelDB. LevelDB handles its own synchronization.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates a store at path. An empty path uses in-memory storage.
func Open(path string) (*Store, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open aot store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func OpenMemory() (*Store, error) {
	return Open("")
}

func key(arch string, fp [32]byte) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(arch)+1+hex.EncodedLen(len(fp)))
	k = append(k, keyPrefix...)
	k = append(k, arch...)
	k = append(k, '/')
	return hex.AppendEncode(k, fp[:])
}

func (s *Store) Put(a *Artifact) error {
	data, err := cbor.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	return s.db.Put(key(a.Arch, a.Fingerprint), data, nil)
}

// Get returns (nil, false, nil) when nothing is stored for (arch, fp).
func (s *Store) Get(arch string, fp [32]byte) (*Artifact, bool, error) {
	data, err := s.db.Get(key(arch, fp), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%x: %w", arch, fp, err)
	}
	var a Artifact
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, false, fmt.Errorf("decode artifact %s/%x: %w", arch, fp, err)
	}
	if a.Arch != arch || a.Fingerprint != fp {
		return nil, false, fmt.Errorf("%w: %s/%x", ErrCorrupt, arch, fp)
	}
	return &a, true, nil
}

func (s *Store) Delete(arch string, fp [32]byte) error {
	return s.db.Delete(key(arch, fp), nil)
}

// List returns the artifacts stored for arch in key order.
func (s *Store) List(arch string) ([]*Artifact, error) {
	prefix := append([]byte(keyPrefix+arch), '/')
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []*Artifact
	for iter.Next() {
		var a Artifact
		if err := cbor.Unmarshal(iter.Value(), &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, &a)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list %s: %w", arch, err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CompileCached returns the stored image of p for c's stencil table, compiling and storing it
// on a miss. hit reports whether the image came from the store.
func (s *Store) CompileCached(c *compiler.Compiler, p *ir.Program) (code []byte, hit bool, err error) {
	table := c.Table()
	fp := p.Fingerprint()
	a, ok, err := s.Get(table.Arch(), fp)
	if err != nil {
		return nil, false, err
	}
	if ok && a.StencilCount == table.Len() && a.Instructions == p.Len() {
		log.Trace(log.AotMonitoring, "aot hit", "arch", table.Arch(), "fingerprint", fmt.Sprintf("%x", fp[:8]))
		return a.Code, true, nil
	}

	code, err = c.CompileToBytes(p)
	if err != nil {
		return nil, false, err
	}
	a = &Artifact{
		Arch:         table.Arch(),
		Fingerprint:  fp,
		Code:         code,
		Instructions: p.Len(),
		StencilCount: table.Len(),
	}
	if err := s.Put(a); err != nil {
		return nil, false, err
	}
	log.Debug(log.AotMonitoring, "aot stored", "arch", a.Arch, "fingerprint", fmt.Sprintf("%x", fp[:8]), "bytes", len(code))
	return code, false, nil
}

// Load returns executable code for p, reusing a stored image when one exists.
func (s *Store) Load(c *compiler.Compiler, p *ir.Program) (*compiler.CompiledCode, bool, error) {
	code, hit, err := s.CompileCached(c, p)
	if err != nil {
		return nil, false, err
	}
	cc, err := c.Load(code, p.Len())
	if err != nil {
		return nil, false, err
	}
	return cc, hit, nil
}

// Equal reports whether two artifacts carry the same code for the same program.
func (a *Artifact) Equal(o *Artifact) bool {
	return a.Arch == o.Arch && a.Fingerprint == o.Fingerprint && bytes.Equal(a.Code, o.Code) &&
		a.Instructions == o.Instructions && a.StencilCount == o.StencilCount
}
